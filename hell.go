package apocalypse

import (
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

// Hell is the broker. A single goroutine owns the address counter, the
// registry and the message counters, fed by an unbounded instruction queue
// shared by every gate. Nothing else ever touches this state, which is the
// whole concurrency story of the runtime: no locks, one loop.
type Hell struct {
	id  string
	bus *EventBus

	instructions chan<- hellInstruction
	intake       <-chan hellInstruction
	zombieDone   chan struct{}
	done         chan struct{}

	vanquishTimeout gonull.Nullable[time.Duration]

	counter  Address
	registry map[Address]*demonChannels

	spawnedTotal uint64
	okTotal      uint64
	failTotal    uint64
	zombieCount  int
	ignition     time.Time
}

func newHell(id string, vanquishTimeout gonull.Nullable[time.Duration], bus *EventBus) *Hell {
	insIn, insOut := newMailbox[hellInstruction]()
	return &Hell{
		id:              id,
		bus:             bus,
		instructions:    insIn,
		intake:          insOut,
		zombieDone:      make(chan struct{}, 16),
		done:            make(chan struct{}),
		vanquishTimeout: vanquishTimeout,
		registry:        make(map[Address]*demonChannels),
	}
}

func (h *Hell) fields() log.Fields {
	return log.Fields{"hell": h.id}
}

// run processes instructions one at a time until an extinguish arrives.
// Detached removals report back through the zombie side channel rather
// than the instruction queue, so a zombie resolution can never be stuck
// behind the very backlog it is part of.
func (h *Hell) run() {
	h.ignition = time.Now()
	log.WithFields(h.fields()).Info("hell ignited")
	h.bus.Publish(TopicIgnition, BusEvent{Detail: h.id})

	defer func() {
		close(h.done)
		go h.refuseLoop()
	}()

	for {
		select {
		case ins := <-h.intake:
			if ext, closing := ins.(extinguishHell); closing {
				h.extinguish(ext)
				return
			}
			h.dispatch(ins)
		case <-h.zombieDone:
			h.zombieCount--
			h.bus.Publish(TopicZombie, BusEvent{Detail: "zombie resolved"})
		}
	}
}

func (h *Hell) dispatch(ins hellInstruction) {
	switch v := ins.(type) {
	case createAddress:
		address := h.counter
		h.counter++
		v.reply <- address
	case registerDemon:
		h.register(v)
	case routeMessage:
		h.route(v)
	case removeDemon:
		h.remove(v)
	case statsRequest:
		v.reply <- h.snapshot()
	default:
		log.WithFields(h.fields()).Warnf("unknown instruction %T", ins)
	}
}

func (h *Hell) register(ins registerDemon) {
	if _, taken := h.registry[ins.address]; taken {
		ins.reply <- errors.Wrapf(ErrOccupiedAddress, "address %d", ins.address)
		return
	}
	h.registry[ins.address] = ins.channels
	h.spawnedTotal++
	h.bus.Publish(TopicSpawn, BusEvent{Address: ins.address})
	log.WithFields(h.fields()).WithField("address", ins.address).Debug("demon registered")
	ins.reply <- nil
}

func (h *Hell) route(ins routeMessage) {
	dc, active := h.registry[ins.address]
	if !active {
		h.failTotal++
		trySend(ins.msg.reply, callResult{err: errors.Wrapf(ErrInvalidLocation, "address %d", ins.address)})
		return
	}
	if err := dc.deliver(demonMessage{msg: ins.msg}); err != nil {
		h.failTotal++
		trySend(ins.msg.reply, callResult{err: err})
		return
	}
	h.okTotal++
}

// remove pops the demon's registry entry and starts its shutdown. The wait
// for the confirmation happens off-loop so one slow vanquish hook cannot
// stall everyone else's instructions.
func (h *Hell) remove(ins removeDemon) {
	dc, active := h.registry[ins.address]
	if !active {
		h.replyRemoval(ins, errors.Wrapf(ErrInvalidLocation, "address %d", ins.address))
		return
	}
	delete(h.registry, ins.address)

	confirm := make(chan struct{}, 1)
	err := dc.deliver(demonShutdown{confirm: confirm})
	dc.retire()
	if err != nil {
		// The task is already dead; there is nothing left to wait for.
		h.replyRemoval(ins, err)
		return
	}

	timeout := ins.timeout
	if !timeout.Valid {
		timeout = h.vanquishTimeout
	}
	if ins.ignore {
		h.zombieCount++
		h.bus.Publish(TopicZombie, BusEvent{Address: ins.address, Detail: "zombie marked"})
	}
	go h.awaitRemoval(dc, ins, confirm, timeout)
}

func (h *Hell) replyRemoval(ins removeDemon, err error) {
	if ins.reply == nil {
		if err != nil {
			log.WithFields(h.fields()).WithField("address", ins.address).Debugf("detached removal: %v", err)
		}
		return
	}
	ins.reply <- err
}

// awaitRemoval resolves the graceful-or-forced race for one removal, then
// reports: to the caller when the removal is awaited, to the zombie side
// channel when it is detached.
func (h *Hell) awaitRemoval(dc *demonChannels, ins removeDemon, confirm chan struct{}, timeout gonull.Nullable[time.Duration]) {
	h.awaitConfirm(dc, ins.address, confirm, timeout)
	if ins.ignore {
		select {
		case h.zombieDone <- struct{}{}:
		case <-h.done:
		}
		return
	}
	ins.reply <- nil
}

// awaitConfirm waits for the task's shutdown confirmation, firing the
// killswitch if the timeout expires first. A killed task confirms almost
// immediately; its closed done channel is the safety net in case it does
// not get that far.
func (h *Hell) awaitConfirm(dc *demonChannels, address Address, confirm chan struct{}, timeout gonull.Nullable[time.Duration]) {
	if !timeout.Valid {
		select {
		case <-confirm:
		case <-dc.done:
		}
		return
	}
	timer := time.NewTimer(timeout.Val)
	defer timer.Stop()
	select {
	case <-confirm:
		return
	case <-dc.done:
		return
	case <-timer.C:
	}
	log.WithFields(h.fields()).WithField("address", address).Warn("graceful vanquish timed out, firing killswitch")
	h.bus.Publish(TopicKillswitch, BusEvent{Address: address})
	dc.forceKill(confirm)
	select {
	case <-confirm:
	case <-dc.done:
	}
}

// extinguish shuts every remaining demon down in parallel, so the total
// time is bounded by the slowest vanquish rather than the sum of them.
func (h *Hell) extinguish(ins extinguishHell) {
	log.WithFields(h.fields()).WithField("demons", len(h.registry)).Info("extinguishing hell")
	h.bus.Publish(TopicExtinguish, BusEvent{Detail: h.id})

	var g errgroup.Group
	for _, address := range maps.Keys(h.registry) {
		address := address
		dc := h.registry[address]
		delete(h.registry, address)

		confirm := make(chan struct{}, 1)
		err := dc.deliver(demonShutdown{confirm: confirm})
		dc.retire()
		if err != nil {
			continue
		}
		g.Go(func() error {
			h.awaitConfirm(dc, address, confirm, h.vanquishTimeout)
			return nil
		})
	}
	if ins.wait {
		_ = g.Wait()
	}
	log.WithFields(h.fields()).Info("hell extinguished")
	ins.reply <- nil
}

// refuseLoop keeps consuming the queue after the main loop has exited, so
// an instruction enqueued concurrently with the extinguish still gets an
// answer instead of waiting on a dead loop.
func (h *Hell) refuseLoop() {
	for ins := range h.intake {
		h.refuse(ins)
	}
}

func (h *Hell) refuse(ins hellInstruction) {
	err := errors.Wrap(ErrHellClosed, "instruction refused")
	switch v := ins.(type) {
	case registerDemon:
		v.reply <- err
	case routeMessage:
		trySend(v.msg.reply, callResult{err: err})
	case removeDemon:
		h.replyRemoval(v, err)
	case extinguishHell:
		v.reply <- err
	}
	// createAddress and statsRequest carry no error slot; their callers
	// watch hell's done channel and bail out on their own.
}

func (h *Hell) snapshot() Stats {
	return Stats{
		Spawned:            h.spawnedTotal,
		Active:             len(h.registry),
		Zombies:            h.zombieCount,
		SuccessfulMessages: h.okTotal,
		FailedMessages:     h.failTotal,
		IgnitionTime:       h.ignition,
	}
}
