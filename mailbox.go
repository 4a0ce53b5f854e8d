// mailbox
package apocalypse

// newMailbox returns the two ends of an unbounded FIFO queue. Sends on the
// in side never block, whatever the consumer is doing; this is what lets
// hell forward into a busy demon without ever stalling its own loop, and
// lets any number of gates enqueue instructions concurrently.
//
// Closing the in side lets the pump drain whatever is buffered and then
// close the out side, so late consumers still see everything that was
// accepted before the close.
func newMailbox[T any]() (chan<- T, <-chan T) {
	in := make(chan T)
	out := make(chan T)

	go func() {
		var backlog []T
		var zero T
		for {
			var (
				sendCh chan T
				next   T
			)
			if len(backlog) > 0 {
				sendCh = out
				next = backlog[0]
			} else if in == nil {
				close(out)
				return
			}
			select {
			case v, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				backlog = append(backlog, v)
			case sendCh <- next:
				backlog[0] = zero // let the element be collected
				backlog = backlog[1:]
				if len(backlog) == 0 {
					backlog = nil
				}
			}
		}
	}()

	return in, out
}
