// gate
package apocalypse

import (
	"context"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Gate is the handle callers use to reach one hell. A gate is safe for any
// number of goroutines; clones share the same instruction queue and the
// same open flag. The typed operations are package-level functions because
// they introduce type parameters; everything address-agnostic hangs off the
// gate itself.
type Gate struct {
	hell *Hell
	open *atomic.Bool
}

// Clone returns a handle to the same hell. Useful for moving a gate into a
// goroutine while keeping the original.
func (g *Gate) Clone() *Gate {
	return &Gate{hell: g.hell, open: g.open}
}

// Done is closed once hell's loop has fully exited.
func (g *Gate) Done() <-chan struct{} {
	return g.hell.done
}

// push enqueues one instruction. The queue is unbounded, so the only way
// this fails is an extinguished hell.
func (g *Gate) push(ins hellInstruction) error {
	if !g.open.Load() {
		return errors.Wrap(ErrHellClosed, "gate is closed")
	}
	select {
	case g.hell.instructions <- ins:
		return nil
	case <-g.hell.done:
		return errors.Wrap(ErrHellClosed, "hell's loop has exited")
	}
}

// Stats reads hell's counters as of the moment the loop processes the
// request, so the snapshot is consistent with every instruction enqueued
// before it.
func (g *Gate) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := g.push(statsRequest{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case stats := <-reply:
		return stats, nil
	case <-g.hell.done:
		return Stats{}, errors.Wrap(ErrHellClosed, "hell exited before answering")
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Extinguish shuts the whole hell down. The loop stops taking instructions
// and every remaining demon is drained through the usual removal protocol.
// With wait set the call returns only once every vanquish hook has run;
// without it, as soon as each demon's shutdown is underway.
func (g *Gate) Extinguish(ctx context.Context, wait bool) error {
	reply := make(chan error, 1)
	if err := g.push(extinguishHell{wait: wait, reply: reply}); err != nil {
		return err
	}
	g.open.Store(false)
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spawn hands a demon over to hell and returns its typed location. The
// demon's Spawned hook, if any, runs in the new task before the first
// message; the address is routable once Spawn returns.
func Spawn[I, O any](ctx context.Context, g *Gate, demon Demon[I, O]) (Location[I, O], error) {
	var none Location[I, O]
	if demon == nil {
		return none, errors.New("cannot spawn a nil demon")
	}
	address, err := reserveAddress(ctx, g)
	if err != nil {
		return none, err
	}
	loc := Location[I, O]{address: address}
	task, dc := newMiniHell(g.hell.id, address, wrapDemon(demon, loc), g.hell.bus)
	err = register(ctx, g, address, dc)
	task.start()
	if err != nil {
		return none, err
	}
	return loc, nil
}

// SpawnFunc spawns a demon defined by a plain handler function. Unlike
// Spawn, whose type arguments must usually be spelled out, inference works
// here from the function signature alone.
func SpawnFunc[I, O any](ctx context.Context, g *Gate, fn func(context.Context, I) O) (Location[I, O], error) {
	if fn == nil {
		return Location[I, O]{}, errors.New("cannot spawn a nil demon")
	}
	return Spawn[I, O](ctx, g, DemonFunc[I, O](fn))
}

// SpawnMultiple spawns a pool of replicas behind one shared address, each
// replica built by its own factory call. Messages are dealt to whichever
// replica is free, so up to replicas calls run concurrently.
func SpawnMultiple[I, O any](ctx context.Context, g *Gate, factory func() Demon[I, O], replicas int) (Location[I, O], error) {
	var none Location[I, O]
	if factory == nil {
		return none, errors.New("cannot spawn from a nil factory")
	}
	if replicas < 1 {
		return none, errors.Wrapf(ErrWrongReplicas, "%d requested", replicas)
	}
	address, err := reserveAddress(ctx, g)
	if err != nil {
		return none, err
	}
	loc := Location[I, O]{address: address}
	demons := make([]anyDemon, replicas)
	for i := range demons {
		demon := factory()
		if demon == nil {
			return none, errors.New("factory produced a nil demon")
		}
		demons[i] = wrapDemon(demon, loc)
	}
	task, dc := newMultipleMiniHell(g.hell.id, address, demons, g.hell.bus)
	err = register(ctx, g, address, dc)
	task.start()
	if err != nil {
		return none, err
	}
	return loc, nil
}

// SpawnWire spawns a demon bound to a frame source. Frames are handed to
// OnFrame serialized with regular messages, in read order; once the source
// reports closed the demon vanquishes itself gracefully and its address is
// reaped.
func SpawnWire[I, O any](ctx context.Context, g *Gate, demon WireDemon[I, O], src FrameSource) (Location[I, O], error) {
	var none Location[I, O]
	if demon == nil {
		return none, errors.New("cannot spawn a nil demon")
	}
	if src == nil {
		return none, errors.New("cannot spawn without a frame source")
	}
	address, err := reserveAddress(ctx, g)
	if err != nil {
		return none, err
	}
	loc := Location[I, O]{address: address}
	task, dc := newMiniWireHell(g.hell.id, address, wrapWireDemon(demon, loc), src, g.Clone(), g.hell.bus)
	err = register(ctx, g, address, dc)
	task.start()
	if err != nil {
		return none, err
	}
	return loc, nil
}

// Send delivers input to the demon at loc and waits for its reply. Each
// call gets its own reply channel carrying exactly one value: the boxed
// output, or the error that ended the call. Delivery is at most once.
//
// A demon must not Send to its own location; the call would wait on a loop
// that is busy waiting on the call. Use SendAndIgnore for that.
func Send[I, O any](ctx context.Context, g *Gate, loc Location[I, O], input I) (O, error) {
	var zero O
	reply := make(chan callResult, 1)
	if err := g.push(routeMessage{address: loc.address, msg: delivery{input: input, reply: reply}}); err != nil {
		return zero, err
	}
	select {
	case res := <-reply:
		if res.err != nil {
			return zero, res.err
		}
		if res.payload == nil {
			return zero, nil
		}
		output, ok := res.payload.(O)
		if !ok {
			return zero, errors.Wrapf(ErrWrongType, "%v answered %T", loc, res.payload)
		}
		return output, nil
	case <-g.hell.done:
		return zero, errors.Wrap(ErrHellClosed, "hell exited before the reply")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// SendAndIgnore delivers input without waiting for the reply. The call
// returns once the instruction is enqueued; the eventual output, or
// failure, is dropped.
func SendAndIgnore[I, O any](g *Gate, loc Location[I, O], input I) error {
	reply := make(chan callResult, 1)
	if err := g.push(routeMessage{address: loc.address, msg: delivery{input: input, reply: reply}}); err != nil {
		return err
	}
	go func() {
		select {
		case res := <-reply:
			if res.err != nil {
				log.WithFields(log.Fields{"hell": g.hell.id, "address": loc.address}).Debugf("ignored send failed: %v", res.err)
			}
		case <-g.hell.done:
		}
	}()
	return nil
}

// Vanquish removes the demon at loc gracefully, returning once its
// Vanquished hook has finished. When hell carries a default vanquish
// timeout the wait is bounded by it, with the killswitch firing on expiry.
func Vanquish[I, O any](ctx context.Context, g *Gate, loc Location[I, O]) error {
	return removal(ctx, g, loc.address, gonull.Nullable[time.Duration]{})
}

// VanquishWithTimeout is Vanquish with an explicit deadline overriding
// hell's default. On expiry the killswitch aborts whatever the demon is
// doing, hook included, and the removal still counts as done.
func VanquishWithTimeout[I, O any](ctx context.Context, g *Gate, loc Location[I, O], timeout time.Duration) error {
	return removal(ctx, g, loc.address, gonull.NewNullable(timeout))
}

// VanquishAndIgnore requests the removal and returns as soon as it is
// enqueued. The demon counts as a zombie in hell's stats until its detached
// shutdown resolves.
func VanquishAndIgnore[I, O any](g *Gate, loc Location[I, O]) error {
	return g.push(removeDemon{address: loc.address, ignore: true})
}

// VanquishAndIgnoreWithTimeout is VanquishAndIgnore with an explicit
// deadline bounding the detached shutdown.
func VanquishAndIgnoreWithTimeout[I, O any](g *Gate, loc Location[I, O], timeout time.Duration) error {
	return g.push(removeDemon{address: loc.address, ignore: true, timeout: gonull.NewNullable(timeout)})
}

func removal(ctx context.Context, g *Gate, address Address, timeout gonull.Nullable[time.Duration]) error {
	reply := make(chan error, 1)
	if err := g.push(removeDemon{address: address, timeout: timeout, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-g.hell.done:
		return errors.Wrap(ErrHellClosed, "hell exited before confirming the removal")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reserveAddress(ctx context.Context, g *Gate) (Address, error) {
	reply := make(chan Address, 1)
	if err := g.push(createAddress{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case address := <-reply:
		return address, nil
	case <-g.hell.done:
		return 0, errors.Wrap(ErrHellClosed, "hell exited before assigning an address")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// register files the task's channel bundle under its reserved address. The
// task is not running yet; the caller starts it once register returns, so
// on the success path the address is routable before the demon's first
// breath. If hell refuses, or the caller gives up waiting, the bundle is
// retired and the task, once started, drains out and stops on its own.
func register(ctx context.Context, g *Gate, address Address, dc *demonChannels) error {
	reply := make(chan error, 1)
	if err := g.push(registerDemon{address: address, channels: dc, reply: reply}); err != nil {
		dc.retire()
		return err
	}
	select {
	case err := <-reply:
		if err != nil {
			dc.retire()
			return err
		}
		return nil
	case <-g.hell.done:
		go retireIfRefused(reply, dc)
		return errors.Wrap(ErrHellClosed, "hell exited before confirming the registration")
	case <-ctx.Done():
		// The registration may already have landed, so tear it down
		// through the removal protocol rather than racing the registry.
		// The janitor covers the refused case.
		go retireIfRefused(reply, dc)
		_ = g.push(removeDemon{address: address, ignore: true})
		return ctx.Err()
	}
}

// retireIfRefused drains a registration reply the caller abandoned. The
// loop, or the refusal loop after an extinguish, answers every registration
// eventually; a refused one means nobody else will ever shut the task down.
func retireIfRefused(reply chan error, dc *demonChannels) {
	if err := <-reply; err != nil {
		dc.retire()
	}
}
