// miniHell_test
package apocalypse

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// messages to one demon arrive strictly in send order, even when the first
// one is still being handled while the rest queue up
func TestFIFO(t *testing.T) {
	log.SetLevel(log.DebugLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	got := make(chan int, 16)
	release := make(chan struct{})
	first := true
	loc, err := SpawnFunc(ctx, gate, func(ctx context.Context, n int) int {
		if first {
			first = false
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		got <- n
		return n
	})
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := SendAndIgnore(gate, loc, i); err != nil {
			t.Fatalf("send %v failed: %v", i, err)
		}
	}

	// nothing may slip past the blocked head of the queue
	select {
	case n := <-got:
		t.Fatalf("message %v arrived before the head was released", n)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 10; i++ {
		if n := <-got; n != i {
			t.Errorf("expected %v, got %v", i, n)
		}
	}
}

// the spawn hook runs before the first message, the vanquish hook after the
// last one
func TestLifecycleOrder(t *testing.T) {
	log.SetLevel(log.DebugLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	stages := make(chan string, 8)
	loc, err := Spawn[string, string](ctx, gate, &orderDemon{stages: stages})
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	if _, err := Send(ctx, gate, loc, "one"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := Vanquish(ctx, gate, loc); err != nil {
		t.Fatalf("vanquish failed: %v", err)
	}

	want := []string{"spawned", "handle:one", "vanquished"}
	for _, expected := range want {
		select {
		case stage := <-stages:
			if stage != expected {
				t.Errorf("expected '%v', got '%v'", expected, stage)
			}
		case <-time.After(time.Second):
			t.Fatalf("never reached stage '%v'", expected)
		}
	}
}

// a demon may message itself from its hooks and handlers as long as it does
// not wait for the answer
func TestSelfSend(t *testing.T) {
	log.SetLevel(log.DebugLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	got := make(chan string, 2)
	demon := &selfStarter{gate: gate, got: got}
	if _, err := Spawn[string, string](ctx, gate, demon); err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	select {
	case s := <-got:
		if s != "wake" {
			t.Errorf("expected 'wake', got '%v'", s)
		}
	case <-time.After(time.Second):
		t.Error("self message never arrived")
	}
}

// locations compare by address and print stably
func TestLocation(t *testing.T) {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	a, err := SpawnFunc(ctx, gate, func(_ context.Context, s string) string { return s })
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	b, err := SpawnFunc(ctx, gate, func(_ context.Context, s string) string { return s })
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	if a == b {
		t.Error("distinct demons share an address")
	}
	if a.Address() == b.Address() {
		t.Error("addresses must be unique")
	}
	if a.String() == "" || a.String() == b.String() {
		t.Errorf("bad location strings '%v' / '%v'", a, b)
	}
}

// orderDemon reports every stage it goes through, in order.
type orderDemon struct {
	stages chan string
}

func (d *orderDemon) Handle(_ context.Context, s string) string {
	d.stages <- "handle:" + s
	return s
}

func (d *orderDemon) Spawned(_ context.Context, _ Location[string, string]) {
	d.stages <- "spawned"
}

func (d *orderDemon) Vanquished(_ context.Context) {
	d.stages <- "vanquished"
}

// selfStarter wakes itself up from its spawn hook.
type selfStarter struct {
	gate *Gate
	got  chan string
}

func (d *selfStarter) Handle(_ context.Context, s string) string {
	d.got <- s
	return s
}

func (d *selfStarter) Spawned(_ context.Context, loc Location[string, string]) {
	if err := SendAndIgnore(d.gate, loc, "wake"); err != nil {
		d.got <- "error: " + err.Error()
	}
}
