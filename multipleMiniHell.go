// multipleMiniHell
package apocalypse

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// replica pairs one demon instance with its stable index in the pool.
type replica struct {
	idx   int
	demon anyDemon
}

// answer returns a replica from its in-flight call. lost marks a replica
// whose handler panicked; it never serves again.
type answer struct {
	rep  replica
	lost bool
}

type inflightCall struct {
	cancel context.CancelFunc
	msg    delivery
}

// multipleMiniHell owns N demon instances behind one address. Requests are
// matched to idle replicas in arrival order and each matched call runs as
// its own goroutine, so replicas execute in parallel while the loop itself
// only does bookkeeping and never waits on a handler. Unmatched requests
// queue in the backlog; a returning replica picks up the backlog head
// directly, skipping the idle queue.
type multipleMiniHell struct {
	hell    string
	address Address
	label   string
	bus     *EventBus

	instructions <-chan miniHellInstruction
	killswitch   chan chan struct{}
	done         chan struct{}

	idle     []replica
	backlog  []delivery
	answers  chan answer
	inflight map[int]inflightCall

	stopping     bool
	killswitched bool
	crashed      bool
	confirm      chan struct{}
	lateConfirm  chan struct{}
}

// newMultipleMiniHell builds the pool task and the channel bundle hell
// files under the shared address. Like the single-demon task it only runs
// once start is called, after the registration has resolved.
func newMultipleMiniHell(hellID string, address Address, demons []anyDemon, bus *EventBus) (*multipleMiniHell, *demonChannels) {
	insIn, insOut := newMailbox[miniHellInstruction]()
	pool := &multipleMiniHell{
		hell:         hellID,
		address:      address,
		label:        demons[0].label(),
		bus:          bus,
		instructions: insOut,
		killswitch:   make(chan chan struct{}, 2),
		done:         make(chan struct{}),
		answers:      make(chan answer, len(demons)),
		inflight:     make(map[int]inflightCall, len(demons)),
	}
	for idx, demon := range demons {
		pool.idle = append(pool.idle, replica{idx: idx, demon: demon})
	}
	return pool, &demonChannels{instructions: insIn, killswitch: pool.killswitch, done: pool.done}
}

func (p *multipleMiniHell) start() {
	go p.run()
}

func (p *multipleMiniHell) fields() log.Fields {
	return log.Fields{"hell": p.hell, "address": p.address, "demon": p.label, "replicas": cap(p.answers)}
}

func (p *multipleMiniHell) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer p.cleanup(cancel)

	for _, rep := range p.idle {
		p.guard(ctx, rep, "spawn hook", rep.demon.spawned)
	}
	log.WithFields(p.fields()).Debug("pool risen")

	for !p.stopping {
		if p.pollKillswitch() {
			break
		}
		if len(p.backlog) > 0 && len(p.idle) > 0 {
			rep := p.idle[0]
			p.idle = p.idle[1:]
			p.dispatch(ctx, rep, p.popBacklog())
			continue
		}
		p.await(ctx)
	}

	p.teardown(ctx, cancel)
}

func (p *multipleMiniHell) cleanup(cancel context.CancelFunc) {
	if r := recover(); r != nil {
		log.WithFields(p.fields()).Errorf("pool task panicked: %v", r)
	}
	cancel()
	p.drainBacklog()
	signal(p.confirm)
	signal(p.lateConfirm)
	close(p.done)
	go p.refuseRemaining()
}

func (p *multipleMiniHell) pollKillswitch() bool {
	select {
	case confirm := <-p.killswitch:
		p.killswitched, p.stopping, p.confirm = true, true, confirm
		return true
	default:
		return false
	}
}

func (p *multipleMiniHell) await(ctx context.Context) {
	select {
	case confirm := <-p.killswitch:
		p.killswitched, p.stopping, p.confirm = true, true, confirm
	case ans := <-p.answers:
		p.returned(ctx, ans)
	case ins, ok := <-p.instructions:
		if !ok {
			p.instructions = nil
			p.stopping = true
			return
		}
		p.accept(ins)
	}
}

func (p *multipleMiniHell) accept(ins miniHellInstruction) {
	switch v := ins.(type) {
	case demonMessage:
		p.backlog = append(p.backlog, v.msg)
	case demonShutdown:
		p.stopping = true
		p.confirm = v.confirm
	}
}

// returned processes a replica coming back from its call: serve the backlog
// head directly if there is one, otherwise rejoin the idle queue. Losing the
// last replica kills the pool the way a panic kills a single demon.
func (p *multipleMiniHell) returned(ctx context.Context, ans answer) {
	delete(p.inflight, ans.rep.idx)
	if ans.lost {
		log.WithFields(p.fields()).Warnf("replica %d lost to a handler panic", ans.rep.idx)
		if len(p.idle) == 0 && len(p.inflight) == 0 {
			log.WithFields(p.fields()).Error("every replica is lost, shutting the pool down")
			p.stopping, p.crashed = true, true
		}
		return
	}
	if !p.stopping && len(p.backlog) > 0 {
		p.dispatch(ctx, ans.rep, p.popBacklog())
		return
	}
	p.idle = append(p.idle, ans.rep)
}

// dispatch hands msg to rep in its own goroutine. trySend protects the
// reply channel: on a killswitch the loop answers the caller first and a
// late output is dropped.
func (p *multipleMiniHell) dispatch(ctx context.Context, rep replica, msg delivery) {
	callCtx, cancelCall := context.WithCancel(ctx)
	p.inflight[rep.idx] = inflightCall{cancel: cancelCall, msg: msg}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(p.fields()).Errorf("replica %d handler panicked: %v", rep.idx, r)
				trySend(msg.reply, callResult{err: errors.Wrapf(ErrDemonCommunication, "handler panicked: %v", r)})
				p.answers <- answer{rep: rep, lost: true}
			}
		}()
		defer cancelCall()
		out, err := rep.demon.handleAny(callCtx, msg.input)
		if callCtx.Err() == nil {
			trySend(msg.reply, callResult{payload: out, err: err})
		}
		p.answers <- answer{rep: rep}
	}()
}

func (p *multipleMiniHell) popBacklog() delivery {
	msg := p.backlog[0]
	p.backlog[0] = delivery{}
	p.backlog = p.backlog[1:]
	return msg
}

func (p *multipleMiniHell) teardown(ctx context.Context, cancel context.CancelFunc) {
	p.drainBacklog()
	if p.killswitched || p.crashed {
		p.abort()
		return
	}

	// Graceful: let in-flight calls finish and answer their callers before
	// any hook runs; a late killswitch cuts the drain short.
	for len(p.inflight) > 0 && !p.killswitched {
		select {
		case ans := <-p.answers:
			delete(p.inflight, ans.rep.idx)
			if !ans.lost {
				p.idle = append(p.idle, ans.rep)
			}
		case confirm := <-p.killswitch:
			p.killswitched = true
			p.lateConfirm = confirm
		}
	}
	if p.killswitched {
		p.abort()
		return
	}

	// Hooks run for every replica the pool still holds, each raced against
	// a late killswitch like the single-demon path.
	for _, rep := range p.idle {
		if p.killswitched {
			break
		}
		rep := rep
		hookDone := make(chan struct{})
		go func() {
			defer close(hookDone)
			p.guard(ctx, rep, "vanquish hook", rep.demon.vanquished)
		}()
		select {
		case <-hookDone:
		case confirm := <-p.killswitch:
			cancel()
			p.killswitched = true
			p.lateConfirm = confirm
		}
	}
	if !p.killswitched {
		p.bus.Publish(TopicVanquish, BusEvent{Address: p.address, Detail: p.label})
		log.WithFields(p.fields()).Debug("pool vanquished")
	}
}

// abort cancels every in-flight call and answers its caller; outputs still
// being produced are discarded. No hooks run on this path.
func (p *multipleMiniHell) abort() {
	for _, call := range p.inflight {
		call.cancel()
		trySend(call.msg.reply, callResult{err: errors.Wrap(ErrDemonCommunication, "call aborted by killswitch")})
	}
	p.inflight = nil
	log.WithFields(p.fields()).Debug("pool aborted")
}

func (p *multipleMiniHell) drainBacklog() {
	for _, msg := range p.backlog {
		trySend(msg.reply, callResult{err: errors.Wrap(ErrDemonCommunication, "pool shut down before handling the message")})
		p.bus.Publish(TopicDeadLetter, BusEvent{Address: p.address, Detail: p.label, Payload: msg.input})
	}
	p.backlog = nil
}

func (p *multipleMiniHell) refuseRemaining() {
	if p.instructions == nil {
		return
	}
	for ins := range p.instructions {
		switch v := ins.(type) {
		case demonMessage:
			trySend(v.msg.reply, callResult{err: errors.Wrap(ErrDemonCommunication, "pool task has terminated")})
			p.bus.Publish(TopicDeadLetter, BusEvent{Address: p.address, Detail: p.label, Payload: v.msg.input})
		case demonShutdown:
			signal(v.confirm)
		}
	}
}

func (p *multipleMiniHell) guard(ctx context.Context, rep replica, stage string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(p.fields()).Errorf("replica %d %v panicked: %v", rep.idx, stage, r)
		}
	}()
	fn(ctx)
}
