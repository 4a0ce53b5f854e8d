// demonWrapper
package apocalypse

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// anyDemon is the type-erased face of a demon. Hell and the task loops only
// ever see this interface, which is what lets one registry hold demons of
// arbitrary input/output types. The typed world ends at the demonWrapper
// below; everything past it moves boxed values.
type anyDemon interface {
	// handleAny casts the boxed input to the demon's input type, invokes
	// Handle, and boxes the output. A failed cast is ErrWrongType.
	handleAny(ctx context.Context, input any) (any, error)
	// spawned invokes the on-spawn hook, if the demon has one, with the
	// location captured at wrap time.
	spawned(ctx context.Context)
	// vanquished invokes the on-vanquish hook, if the demon has one.
	vanquished(ctx context.Context)
	// label names the demon for logs and bus events.
	label() string
}

// demonWrapper binds one concrete demon to its location and erases its types.
type demonWrapper[I, O any] struct {
	demon Demon[I, O]
	loc   Location[I, O]
}

func wrapDemon[I, O any](demon Demon[I, O], loc Location[I, O]) *demonWrapper[I, O] {
	return &demonWrapper[I, O]{demon: demon, loc: loc}
}

func (w *demonWrapper[I, O]) handleAny(ctx context.Context, input any) (any, error) {
	in, ok := input.(I)
	if !ok {
		return nil, errors.Wrapf(ErrWrongType, "%v got input %T", w.loc, input)
	}
	return w.demon.Handle(ctx, in), nil
}

func (w *demonWrapper[I, O]) spawned(ctx context.Context) {
	if hook, ok := w.demon.(SpawnHook[I, O]); ok {
		hook.Spawned(ctx, w.loc)
	}
}

func (w *demonWrapper[I, O]) vanquished(ctx context.Context) {
	if hook, ok := w.demon.(VanquishHook); ok {
		hook.Vanquished(ctx)
	}
}

func (w *demonWrapper[I, O]) label() string {
	if id, ok := w.demon.(Identified); ok {
		return id.DemonID()
	}
	return fmt.Sprintf("%T", w.demon)
}
