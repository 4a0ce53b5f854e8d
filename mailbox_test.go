// mailbox_test
package apocalypse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// sends never block, whatever the consumer is doing
func TestMailboxUnbounded(t *testing.T) {
	in, out := newMailbox[int]()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			in <- i
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sending blocked without a consumer")
	}

	for i := 0; i < 10000; i++ {
		if v := <-out; v != i {
			t.Fatalf("delivery out of order: expected %v, got %v", i, v)
		}
	}
}

// closing the in side drains the backlog before closing the out side
func TestMailboxCloseDrains(t *testing.T) {
	in, out := newMailbox[string]()

	in <- "first"
	in <- "second"
	close(in)

	assert.Equal(t, "first", <-out)
	assert.Equal(t, "second", <-out)
	_, open := <-out
	assert.False(t, open, "out must close once the backlog is gone")
}

// an empty mailbox closes immediately when the in side does
func TestMailboxCloseEmpty(t *testing.T) {
	in, out := newMailbox[int]()
	close(in)

	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("out never closed")
	}
}

// concurrent producers all get through; nothing is lost
func TestMailboxConcurrentProducers(t *testing.T) {
	in, out := newMailbox[int]()

	const producers, each = 8, 100
	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < each; i++ {
				in <- 1
			}
		}()
	}

	sum := 0
	for i := 0; i < producers*each; i++ {
		sum += <-out
	}
	assert.Equal(t, producers*each, sum)
}
