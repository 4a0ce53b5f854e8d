// perf_test
package apocalypse

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func BenchmarkLocalCall(b *testing.B) {
	for i := 0; i < b.N; i++ {
		localShout("hello")
	}
}

func BenchmarkSend(b *testing.B) {
	log.SetLevel(log.WarnLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, false)

	loc, _ := SpawnFunc(ctx, gate, func(_ context.Context, s string) string {
		return localShout(s)
	})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Send(ctx, gate, loc, "hello")
	}
}

func BenchmarkSendAndIgnore(b *testing.B) {
	log.SetLevel(log.WarnLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, false)

	loc, _ := SpawnFunc(ctx, gate, func(_ context.Context, s string) string {
		return localShout(s)
	})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SendAndIgnore(gate, loc, "hello")
	}
}

func BenchmarkPoolSend(b *testing.B) {
	log.SetLevel(log.WarnLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, false)

	factory := func() Demon[string, string] {
		return DemonFunc[string, string](func(_ context.Context, s string) string {
			return localShout(s)
		})
	}
	loc, _ := SpawnMultiple(ctx, gate, factory, 8)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Send(ctx, gate, loc, "hello")
		}
	})
}

func BenchmarkSpawnVanquish(b *testing.B) {
	log.SetLevel(log.WarnLevel)
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loc, _ := SpawnFunc(ctx, gate, func(_ context.Context, s string) string { return s })
		Vanquish(ctx, gate, loc)
	}
}

func localShout(s string) string {
	return s + "!"
}
