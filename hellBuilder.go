// hellBuilder
package apocalypse

import (
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// HellBuilder configures a hell before ignition. Obtain one with BuildHell,
// chain the options you need and finish with Ignite.
type HellBuilder struct {
	name            string
	vanquishTimeout gonull.Nullable[time.Duration]
	bus             *EventBus
}

// BuildHell starts a builder chain.
func BuildHell() *HellBuilder {
	return &HellBuilder{}
}

// WithName labels the instance in its log lines. Unnamed hells get a short
// random identity instead.
func (b *HellBuilder) WithName(name string) *HellBuilder {
	b.name = name
	return b
}

// WithVanquishTimeout sets the default deadline after which a graceful
// removal falls back to the killswitch. Without one, removals wait for the
// demon for as long as it takes, unless the caller brings a timeout of its
// own.
func (b *HellBuilder) WithVanquishTimeout(timeout time.Duration) *HellBuilder {
	b.vanquishTimeout = gonull.NewNullable(timeout)
	return b
}

// WithBus attaches an event bus that will receive lifecycle events.
func (b *HellBuilder) WithBus(bus *EventBus) *HellBuilder {
	b.bus = bus
	return b
}

// Ignite starts the loop and hands back the gate to it. The hell runs until
// the gate's Extinguish is called.
func (b *HellBuilder) Ignite() *Gate {
	name := b.name
	if name == "" {
		name = uuid.NewString()[:8]
	}
	h := newHell(name, b.vanquishTimeout, b.bus)
	go h.run()
	return &Gate{hell: h, open: atomic.NewBool(true)}
}

// Ignite creates a hell with default settings.
func Ignite() *Gate {
	return BuildHell().Ignite()
}
