// miniWireHell
package apocalypse

import (
	"context"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WireDemon is a demon bound to a connection. Besides answering regular
// calls it receives every frame its source produces, serialized with the
// calls, in read order. Once the source reports closed the demon vanquishes
// itself and its address is reaped.
type WireDemon[I, O any] interface {
	Demon[I, O]
	// OnFrame handles one inbound frame. No reply travels back through the
	// runtime; answering means writing to the wire directly.
	OnFrame(ctx context.Context, frame Frame)
}

// wireFrameBuffer bounds how far the reader may run ahead of the task.
// A full buffer blocks the reader, which pushes back on the socket.
const wireFrameBuffer = 32

// anyWireDemon widens anyDemon with type-erased frame delivery.
type anyWireDemon interface {
	anyDemon
	onFrame(ctx context.Context, frame Frame)
}

type wireDemonWrapper[I, O any] struct {
	demonWrapper[I, O]
	wire WireDemon[I, O]
}

func wrapWireDemon[I, O any](demon WireDemon[I, O], loc Location[I, O]) *wireDemonWrapper[I, O] {
	return &wireDemonWrapper[I, O]{
		demonWrapper: demonWrapper[I, O]{demon: demon, loc: loc},
		wire:         demon,
	}
}

func (w *wireDemonWrapper[I, O]) onFrame(ctx context.Context, frame Frame) {
	w.wire.OnFrame(ctx, frame)
}

// miniWireHell is a miniHell that additionally drains a frame source. The
// message loop, the killswitch discipline and the teardown are the single
// demon task's; only the intake select and the exit differ. A task whose
// source dries up removes its own address through the regular protocol, so
// a dropped connection cannot leave a dead entry in the registry.
type miniWireHell struct {
	miniHell
	wire         anyWireDemon
	gate         *Gate
	src          FrameSource
	frames       chan Frame
	sourceClosed bool
}

func newMiniWireHell(hellID string, address Address, demon anyWireDemon, src FrameSource, gate *Gate, bus *EventBus) (*miniWireHell, *demonChannels) {
	insIn, insOut := newMailbox[miniHellInstruction]()
	w := &miniWireHell{
		miniHell: miniHell{
			hell:         hellID,
			address:      address,
			demon:        demon,
			bus:          bus,
			instructions: insOut,
			killswitch:   make(chan chan struct{}, 2),
			done:         make(chan struct{}),
		},
		wire:   demon,
		gate:   gate,
		src:    src,
		frames: make(chan Frame, wireFrameBuffer),
	}
	return w, &demonChannels{instructions: insIn, killswitch: w.killswitch, done: w.done}
}

func (w *miniWireHell) start() {
	go w.readFrames(w.src)
	go w.run()
}

// readFrames pumps the source into the task until the source errors or the
// task dies, whichever comes first.
func (w *miniWireHell) readFrames(src FrameSource) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.done
		cancel()
	}()
	defer close(w.frames)
	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.WithFields(w.fields()).Debugf("wire closed: %v", err)
			}
			return
		}
		select {
		case w.frames <- frame:
		case <-w.done:
			return
		}
	}
}

func (w *miniWireHell) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer w.cleanup(cancel)

	w.guard(ctx, "spawn hook", w.demon.spawned)
	log.WithFields(w.fields()).Debug("wire demon risen")

	for !w.stopping {
		if w.pollKillswitch() {
			break
		}
		if len(w.pending) > 0 {
			msg := w.pending[0]
			w.pending[0] = delivery{}
			w.pending = w.pending[1:]
			w.invoke(ctx, msg)
			continue
		}
		w.awaitWire(ctx)
	}

	w.teardown(ctx, cancel)

	if (w.sourceClosed || w.crashed) && !w.killswitched {
		if err := w.gate.push(removeDemon{address: w.address, ignore: true}); err != nil {
			log.WithFields(w.fields()).Debugf("self removal refused: %v", err)
		}
	}
}

// awaitWire is the wire variant of the idle wait: the frame stream joins
// the killswitch and the instruction intake.
func (w *miniWireHell) awaitWire(ctx context.Context) {
	select {
	case confirm := <-w.killswitch:
		w.killswitched, w.stopping, w.confirm = true, true, confirm
	case frame, ok := <-w.frames:
		if !ok {
			w.frames = nil
			w.sourceClosed = true
			w.stopping = true
			return
		}
		w.handleFrame(ctx, frame)
	case ins, ok := <-w.instructions:
		if !ok {
			w.instructions = nil
			w.stopping = true
			return
		}
		w.accept(ins)
	}
}

// handleFrame runs the frame hook inline, so frames and calls never
// interleave. A close frame ends the task the same way a dead source does;
// a panicking hook kills the demon like a panicking handler would.
func (w *miniWireHell) handleFrame(ctx context.Context, frame Frame) {
	if frame.Kind == FrameClose {
		log.WithFields(w.fields()).Debug("close frame received")
		w.sourceClosed = true
		w.stopping = true
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(w.fields()).Errorf("frame hook panicked: %v", r)
			w.crashed = true
			w.stopping = true
		}
	}()
	w.wire.onFrame(ctx, frame)
}
