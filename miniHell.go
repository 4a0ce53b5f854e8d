// miniHell
package apocalypse

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// miniHell owns exactly one demon. It drains deliveries strictly in arrival
// order, one at a time, while keeping the killswitch and the instruction
// intake live; the killswitch outranks everything, including a handle call
// already in flight.
type miniHell struct {
	hell    string
	address Address
	demon   anyDemon
	bus     *EventBus

	instructions <-chan miniHellInstruction
	killswitch   chan chan struct{}
	done         chan struct{}

	pending []delivery

	stopping     bool
	killswitched bool
	crashed      bool
	confirm      chan struct{}
	lateConfirm  chan struct{}
}

// newMiniHell builds the task and the channel bundle hell files under the
// demon's address. The task does not run until start, which the gate calls
// only once the registration has resolved; that ordering is what makes the
// demon's own location routable from inside its spawn hook.
func newMiniHell(hellID string, address Address, demon anyDemon, bus *EventBus) (*miniHell, *demonChannels) {
	insIn, insOut := newMailbox[miniHellInstruction]()
	mh := &miniHell{
		hell:         hellID,
		address:      address,
		demon:        demon,
		bus:          bus,
		instructions: insOut,
		killswitch:   make(chan chan struct{}, 2),
		done:         make(chan struct{}),
	}
	return mh, &demonChannels{instructions: insIn, killswitch: mh.killswitch, done: mh.done}
}

func (mh *miniHell) start() {
	go mh.run()
}

func (mh *miniHell) fields() log.Fields {
	return log.Fields{"hell": mh.hell, "address": mh.address, "demon": mh.demon.label()}
}

func (mh *miniHell) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer mh.cleanup(cancel)

	mh.guard(ctx, "spawn hook", mh.demon.spawned)
	log.WithFields(mh.fields()).Debug("demon risen")

	for !mh.stopping {
		if mh.pollKillswitch() {
			break
		}
		if len(mh.pending) > 0 {
			msg := mh.pending[0]
			mh.pending[0] = delivery{}
			mh.pending = mh.pending[1:]
			mh.invoke(ctx, msg)
			continue
		}
		mh.await()
	}

	mh.teardown(ctx, cancel)
}

// cleanup is the one exit point: it answers whatever is still queued,
// signals the removal confirmation exactly once, and closes done so hell
// and the gates can tell the task is gone. It also recovers a panic in the
// loop itself so a broken demon never takes the process down.
func (mh *miniHell) cleanup(cancel context.CancelFunc) {
	if r := recover(); r != nil {
		log.WithFields(mh.fields()).Errorf("demon task panicked: %v", r)
	}
	cancel()
	mh.drainPending()
	signal(mh.confirm)
	signal(mh.lateConfirm)
	close(mh.done)
	go mh.refuseRemaining()
}

// pollKillswitch gives the killswitch right of way before any queued work.
func (mh *miniHell) pollKillswitch() bool {
	select {
	case confirm := <-mh.killswitch:
		mh.killswitched, mh.stopping, mh.confirm = true, true, confirm
		return true
	default:
		return false
	}
}

// await blocks until something arrives when there is no queued work.
func (mh *miniHell) await() {
	select {
	case confirm := <-mh.killswitch:
		mh.killswitched, mh.stopping, mh.confirm = true, true, confirm
	case ins, ok := <-mh.instructions:
		if !ok {
			mh.instructions = nil
			mh.stopping = true
			return
		}
		mh.accept(ins)
	}
}

func (mh *miniHell) accept(ins miniHellInstruction) {
	switch v := ins.(type) {
	case demonMessage:
		mh.pending = append(mh.pending, v.msg)
	case demonShutdown:
		mh.stopping = true
		mh.confirm = v.confirm
	}
}

// invoke runs one handle call. The handler goroutine never touches the
// caller's reply channel on its own; the loop is the only replier, so an
// abort cannot race a late output into the caller. While the call is in
// flight the intake keeps draining, which is what keeps hell's forwards
// from ever blocking on a slow demon.
func (mh *miniHell) invoke(ctx context.Context, msg delivery) {
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()

	res := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(mh.fields()).Errorf("handler panicked: %v", r)
				res <- callResult{
					err:     errors.Wrapf(ErrDemonCommunication, "handler panicked: %v", r),
					crashed: true,
				}
			}
		}()
		out, err := mh.demon.handleAny(callCtx, msg.input)
		res <- callResult{payload: out, err: err}
	}()

	for {
		select {
		case r := <-res:
			trySend(msg.reply, r)
			if r.crashed {
				mh.stopping, mh.crashed = true, true
			}
			return
		case confirm := <-mh.killswitch:
			cancelCall()
			mh.killswitched, mh.stopping, mh.confirm = true, true, confirm
			trySend(msg.reply, callResult{err: errors.Wrap(ErrDemonCommunication, "call aborted by killswitch")})
			return
		case ins, ok := <-mh.instructions:
			if !ok {
				mh.instructions = nil
				mh.stopping = true
				continue
			}
			mh.accept(ins)
		}
	}
}

func (mh *miniHell) teardown(ctx context.Context, cancel context.CancelFunc) {
	mh.drainPending()
	if mh.killswitched || mh.crashed {
		log.WithFields(mh.fields()).Debug("demon aborted")
		return
	}

	// The vanquish hook itself races a late killswitch, so a removal
	// timeout expiring mid-hook still aborts.
	hookDone := make(chan struct{})
	go func() {
		defer close(hookDone)
		mh.guard(ctx, "vanquish hook", mh.demon.vanquished)
	}()
	select {
	case <-hookDone:
		mh.bus.Publish(TopicVanquish, BusEvent{Address: mh.address, Detail: mh.demon.label()})
		log.WithFields(mh.fields()).Debug("demon vanquished")
	case confirm := <-mh.killswitch:
		cancel()
		mh.killswitched = true
		mh.lateConfirm = confirm
		log.WithFields(mh.fields()).Debug("vanquish hook aborted by killswitch")
	}
}

// drainPending answers every message that was accepted but never handled.
func (mh *miniHell) drainPending() {
	for _, msg := range mh.pending {
		trySend(msg.reply, callResult{err: errors.Wrap(ErrDemonCommunication, "demon shut down before handling the message")})
		mh.bus.Publish(TopicDeadLetter, BusEvent{Address: mh.address, Detail: mh.demon.label(), Payload: msg.input})
	}
	mh.pending = nil
}

// refuseRemaining answers anything that lands between the task's death and
// hell reaping the registry entry. It ends when hell closes the
// instruction side of the mailbox.
func (mh *miniHell) refuseRemaining() {
	if mh.instructions == nil {
		return
	}
	for ins := range mh.instructions {
		switch v := ins.(type) {
		case demonMessage:
			trySend(v.msg.reply, callResult{err: errors.Wrap(ErrDemonCommunication, "demon task has terminated")})
			mh.bus.Publish(TopicDeadLetter, BusEvent{Address: mh.address, Detail: mh.demon.label(), Payload: v.msg.input})
		case demonShutdown:
			signal(v.confirm)
		}
	}
}

func (mh *miniHell) guard(ctx context.Context, stage string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(mh.fields()).Errorf("%v panicked: %v", stage, r)
		}
	}()
	fn(ctx)
}
