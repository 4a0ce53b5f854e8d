// examples_test
package apocalypse

import (
	"context"
	"fmt"
	"time"
)

func ExampleIgnite() {
	ctx := context.Background()

	// ignite a hell with defaults
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	// spawn a greeter demon
	greeter, err := SpawnFunc(ctx, gate, func(_ context.Context, name string) string {
		return "Hello " + name
	})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// send a message and wait for the reply
	reply, err := Send(ctx, gate, greeter, "Tom")
	if err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}
	fmt.Println(reply)

	// Output:
	// Hello Tom
}

func ExampleHellBuilder() {
	ctx := context.Background()

	// ignite a named hell with a bounded graceful shutdown
	gate := BuildHell().
		WithName("inferno").
		WithVanquishTimeout(time.Second).
		Ignite()
	defer gate.Extinguish(ctx, true)

	// spawn a squarer demon
	squarer, err := SpawnFunc(ctx, gate, func(_ context.Context, n int) int {
		return n * n
	})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	reply, err := Send(ctx, gate, squarer, 4)
	if err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}
	fmt.Println(reply)

	// Output:
	// 16
}

func ExampleSpawn() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	// struct demons carry their own state; spell the type arguments out
	greeter, err := Spawn[string, string](ctx, gate, &politeDemon{})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	reply, err := Send(ctx, gate, greeter, "Tom")
	if err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}
	fmt.Println(reply)

	// the graceful removal runs the vanquish hook before returning
	if err := Vanquish(ctx, gate, greeter); err != nil {
		fmt.Printf("failed to vanquish: %v\n", err)
	}

	// Output:
	// Hello Tom
	// Goodbye
}

func ExampleSpawnFunc_closure() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	// demons normally keep state in a struct, but closing over variables
	// is safe too: one demon handles one message at a time
	f1, f2 := 0, 1
	fibo, err := SpawnFunc(ctx, gate, func(_ context.Context, _ struct{}) int {
		f1, f2 = f2, f1+f2
		return f2
	})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// generate 5 terms of the fibonacci series
	for i := 0; i < 5; i++ {
		term, err := Send(ctx, gate, fibo, struct{}{})
		if err != nil {
			fmt.Printf("failed to send: %v\n", err)
		}
		fmt.Println(term)
	}

	// Output:
	// 1
	// 2
	// 3
	// 5
	// 8
}

func ExampleSpawnMultiple() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	// three replicas answer behind a single location
	squares, err := SpawnMultiple(ctx, gate, func() Demon[int, int] {
		return DemonFunc[int, int](func(_ context.Context, n int) int {
			return n * n
		})
	}, 3)

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// each waited send gets its own reply, whichever replica served it
	for i := 1; i <= 4; i++ {
		reply, err := Send(ctx, gate, squares, i)
		if err != nil {
			fmt.Printf("failed to send: %v\n", err)
		}
		fmt.Println(reply)
	}

	// Output:
	// 1
	// 4
	// 9
	// 16
}

func ExampleSendAndIgnore() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	shout, err := SpawnFunc(ctx, gate, func(_ context.Context, name string) string {
		fmt.Printf("Hello %v\n", name)
		return name
	})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// fire and forget
	if err := SendAndIgnore(gate, shout, "Tom"); err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}

	// messages are handled in arrival order, so a waited send proves the
	// ignored one has already been handled
	if _, err := Send(ctx, gate, shout, "Dick"); err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}

	// Output:
	// Hello Tom
	// Hello Dick
}

func ExampleVanquish() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	greeter, err := Spawn[string, string](ctx, gate, &politeDemon{})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// vanquish the demon
	if err := Vanquish(ctx, gate, greeter); err != nil {
		fmt.Printf("failed to vanquish: %v\n", err)
	}

	// the location is dead now
	if _, err := Send(ctx, gate, greeter, "Tom"); err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}

	// Output:
	// Goodbye
	// failed to send: address 0: location does not point to an active demon
}

func ExampleLocation() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	greeter, err := SpawnFunc(ctx, gate, func(_ context.Context, name string) string {
		return "Hello " + name
	})

	// check for error
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// locations are small comparable values
	clone := greeter
	fmt.Println(greeter)
	fmt.Println(clone == greeter)

	// Output:
	// demon@0
	// true
}

func ExampleGate_Stats() {
	ctx := context.Background()
	gate := Ignite()
	defer gate.Extinguish(ctx, true)

	echo, err := SpawnFunc(ctx, gate, func(_ context.Context, s string) string {
		return s
	})
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}
	other, err := SpawnFunc(ctx, gate, func(_ context.Context, s string) string {
		return s
	})
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	if _, err := Send(ctx, gate, echo, "ping"); err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}
	if err := Vanquish(ctx, gate, other); err != nil {
		fmt.Printf("failed to vanquish: %v\n", err)
	}

	// the snapshot is consistent with everything enqueued before it
	stats, err := gate.Stats(ctx)
	if err != nil {
		fmt.Printf("failed to read stats: %v\n", err)
	}
	fmt.Printf("spawned=%d active=%d ok=%d failed=%d\n",
		stats.Spawned, stats.Active, stats.SuccessfulMessages, stats.FailedMessages)

	// Output:
	// spawned=2 active=1 ok=1 failed=0
}

func ExampleGate_Extinguish() {
	ctx := context.Background()
	gate := Ignite()

	greeter, err := Spawn[string, string](ctx, gate, &politeDemon{})
	if err != nil {
		fmt.Printf("failed to spawn: %v\n", err)
	}

	// waiting for the extinguish runs every vanquish hook first
	if err := gate.Extinguish(ctx, true); err != nil {
		fmt.Printf("failed to extinguish: %v\n", err)
	}

	// the gate refuses everything from here on
	if _, err := Send(ctx, gate, greeter, "Tom"); err != nil {
		fmt.Printf("failed to send: %v\n", err)
	}

	// and the done channel reports the loop is gone
	<-gate.Done()
	fmt.Println("hell is gone")

	// Output:
	// Goodbye
	// failed to send: gate is closed: hell is extinguished
	// hell is gone
}

// politeDemon greets on every message and says goodbye when vanquished.
type politeDemon struct{}

func (d *politeDemon) Handle(_ context.Context, name string) string {
	return "Hello " + name
}

func (d *politeDemon) Vanquished(_ context.Context) {
	fmt.Println("Goodbye")
}
