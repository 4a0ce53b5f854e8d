// errors
package apocalypse

import (
	"github.com/pkg/errors"
)

// Sentinel errors returned by gate operations. Match with errors.Is;
// most call sites receive them wrapped with the address or demon involved.
var (
	// ErrWrongType reports a boxed input or output that failed its cast
	// back to the static type of the Location. Location typing makes this
	// unreachable in correct usage, so seeing it means an internal
	// invariant was violated.
	ErrWrongType = errors.New("wrong input or output type")

	// ErrWrongReplicas reports a replica pool request for less than one replica.
	ErrWrongReplicas = errors.New("at least one replica is required")

	// ErrInvalidLocation reports a location whose address is no longer
	// registered. Any send after a removal completes fails with this.
	ErrInvalidLocation = errors.New("location does not point to an active demon")

	// ErrOccupiedAddress reports a registration against an address that is
	// already taken. The monotonic counter makes this unreachable in
	// correct usage.
	ErrOccupiedAddress = errors.New("address is already occupied")

	// ErrDemonCommunication reports a demon that is registered but whose
	// task is no longer serving its channels, or an in-flight call that a
	// killswitch aborted before a reply was produced.
	ErrDemonCommunication = errors.New("demon is unreachable")

	// ErrHellClosed reports an instruction that could not be enqueued, or a
	// reply that will never arrive, because hell has been extinguished.
	ErrHellClosed = errors.New("hell is extinguished")
)
