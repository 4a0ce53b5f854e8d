// location
package apocalypse

import (
	"fmt"
)

// Address identifies one registered demon for the lifetime of one hell
// instance. Addresses are assigned monotonically and never reused, so a
// stale address can never alias a newer demon.
type Address uint64

// Location is a typed handle to a demon accepting I and answering O. It is
// the only way to build a correctly-typed payload for Send, which is what
// keeps the boxed values flowing through hell safe to cast back on arrival.
//
// Locations are small values: copy them, use them as map keys, compare them
// with ==. Two locations are equal when their addresses are equal. A
// location stays valid only while its address is registered; after a
// vanquish every use fails with ErrInvalidLocation.
type Location[I, O any] struct {
	address Address
}

// Address returns the raw address this location points at.
func (l Location[I, O]) Address() Address {
	return l.address
}

func (l Location[I, O]) String() string {
	return fmt.Sprintf("demon@%d", l.address)
}
