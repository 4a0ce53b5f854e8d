// hellInstruction
package apocalypse

import (
	"time"

	"github.com/LukaGiorgadze/gonull"
)

// callResult is what a reply channel carries: the boxed output on success,
// or the error that ended the call. crashed marks a handler panic so the
// task knows to die after answering the caller.
type callResult struct {
	payload any
	err     error
	crashed bool
}

// delivery is one routed message: the boxed input plus the one-shot reply
// channel the caller is waiting on. Reply channels have capacity one and
// receive exactly one value over their whole life.
type delivery struct {
	input any
	reply chan callResult
}

// hellInstruction is the closed set of control values hell's loop processes,
// one at a time, in arrival order.
type hellInstruction interface{ hellInstruction() }

// createAddress reserves a fresh address off the monotonic counter.
type createAddress struct {
	reply chan Address
}

// registerDemon files a task's channel bundle under a reserved address.
type registerDemon struct {
	address  Address
	channels *demonChannels
	reply    chan error
}

// routeMessage forwards a delivery to whichever task holds the address.
type routeMessage struct {
	address Address
	msg     delivery
}

// removeDemon pops an address and runs the shutdown protocol against its
// task. ignore detaches the wait for confirmation (the demon is counted as
// a zombie until it resolves) and leaves reply nil. An absent timeout falls
// back to hell's default; no timeout anywhere means a purely graceful wait.
type removeDemon struct {
	address Address
	ignore  bool
	timeout gonull.Nullable[time.Duration]
	reply   chan error
}

// statsRequest snapshots hell's counters, linearized with every other
// instruction because it travels the same queue.
type statsRequest struct {
	reply chan Stats
}

// extinguishHell breaks the loop and drains every registered demon.
type extinguishHell struct {
	wait  bool
	reply chan error
}

func (createAddress) hellInstruction()  {}
func (registerDemon) hellInstruction()  {}
func (routeMessage) hellInstruction()   {}
func (removeDemon) hellInstruction()    {}
func (statsRequest) hellInstruction()   {}
func (extinguishHell) hellInstruction() {}

// miniHellInstruction is the closed set of control values a demon task's
// instruction channel carries.
type miniHellInstruction interface{ miniHellInstruction() }

// demonMessage delivers one call to the task.
type demonMessage struct {
	msg delivery
}

// demonShutdown asks the task to stop gracefully and signal confirm when
// its teardown is done.
type demonShutdown struct {
	confirm chan struct{}
}

func (demonMessage) miniHellInstruction()  {}
func (demonShutdown) miniHellInstruction() {}

// trySend delivers a result without ever blocking. When a killswitch path
// and a late handler race for the same reply channel, the first value wins
// and the loser is dropped.
func trySend(reply chan callResult, res callResult) {
	if reply == nil {
		return
	}
	select {
	case reply <- res:
	default:
	}
}

// signal marks a confirmation channel without ever blocking.
func signal(confirm chan struct{}) {
	if confirm == nil {
		return
	}
	select {
	case confirm <- struct{}{}:
	default:
	}
}
