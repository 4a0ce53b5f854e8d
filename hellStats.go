// hellStats
package apocalypse

import (
	"fmt"
	"time"
)

// Stats is a point-in-time snapshot of hell's bookkeeping, read by the loop
// itself so it is consistent with every registry mutation that preceded it.
type Stats struct {
	// Spawned counts every address ever registered, pools included (a pool
	// counts once, whatever its replica count).
	Spawned uint64
	// Active counts the addresses currently registered.
	Active int
	// Zombies counts demons whose detached shutdown has not resolved yet.
	Zombies int
	// SuccessfulMessages counts deliveries handed to a demon task.
	SuccessfulMessages uint64
	// FailedMessages counts deliveries that could not be handed over.
	FailedMessages uint64
	// IgnitionTime is when the loop started.
	IgnitionTime time.Time
}

// Uptime reports how long hell has been burning.
func (s Stats) Uptime() time.Duration {
	return time.Since(s.IgnitionTime)
}

func (s Stats) String() string {
	return fmt.Sprintf("spawned=%d active=%d zombies=%d ok=%d failed=%d uptime=%v",
		s.Spawned, s.Active, s.Zombies, s.SuccessfulMessages, s.FailedMessages, s.Uptime().Round(time.Millisecond))
}
