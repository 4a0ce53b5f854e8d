// demon
package apocalypse

import (
	"context"
)

// Demon is the capability every actor implements: consume one input value,
// produce one output value. A demon's state is owned exclusively by the task
// that runs it, and Handle is never invoked concurrently for the same demon
// instance, so no locking is needed inside a demon.
//
// The context is cancelled when a killswitch aborts the call; handlers doing
// slow work should watch it, because after cancellation the output is
// discarded and nobody is waiting anymore.
type Demon[I, O any] interface {
	Handle(ctx context.Context, input I) O
}

// DemonFunc adapts a plain function to the Demon interface, for demons that
// carry no state of their own.
type DemonFunc[I, O any] func(ctx context.Context, input I) O

func (f DemonFunc[I, O]) Handle(ctx context.Context, input I) O {
	return f(ctx, input)
}

// SpawnHook is implemented by demons that want to know their own location.
// Spawned runs in the demon's task before the first message is handled.
// Sending to the received location from inside the hook and waiting for the
// reply deadlocks (the task is not draining its mailbox yet); use
// SendAndIgnore for self-sends.
type SpawnHook[I, O any] interface {
	Demon[I, O]
	Spawned(ctx context.Context, loc Location[I, O])
}

// VanquishHook is implemented by demons that want to run teardown work.
// Vanquished runs once, after the last handled message, when the demon is
// removed gracefully. A killswitch skips it.
type VanquishHook interface {
	Vanquished(ctx context.Context)
}

// Identified is implemented by demons that want a stable label in logs and
// bus events. Demons without it are labelled by their Go type.
type Identified interface {
	DemonID() string
}
