// demonChannels
package apocalypse

import (
	"github.com/pkg/errors"
)

// demonChannels is the bundle hell's registry holds for one address: the
// unbounded instruction channel into the task, the killswitch channel that
// outranks everything the task is doing, and the done channel the task
// closes on exit so senders can tell a live mailbox from a dead one.
//
// A bundle is owned by exactly one registry entry. Popping the entry and
// closing the instruction side is what lets the task's channel drain out.
type demonChannels struct {
	instructions chan<- miniHellInstruction
	killswitch   chan<- chan struct{}
	done         <-chan struct{}
}

// deliver forwards one instruction to the task. The mailbox side never
// blocks, so the only failure is a task that has already terminated.
func (dc *demonChannels) deliver(ins miniHellInstruction) error {
	select {
	case <-dc.done:
		return errors.Wrap(ErrDemonCommunication, "demon task has terminated")
	default:
	}
	select {
	case dc.instructions <- ins:
		return nil
	case <-dc.done:
		return errors.Wrap(ErrDemonCommunication, "demon task has terminated")
	}
}

// forceKill fires the killswitch carrying the confirmation channel the
// removal is waiting on. Reports whether the task could still receive it.
func (dc *demonChannels) forceKill(confirm chan struct{}) bool {
	select {
	case dc.killswitch <- confirm:
		return true
	case <-dc.done:
		return false
	}
}

// retire closes the instruction side. Nothing may be delivered afterwards;
// hell does this exactly once, right after the shutdown instruction, and the
// gate does it when it has to roll back a registration that never happened.
func (dc *demonChannels) retire() {
	close(dc.instructions)
}
