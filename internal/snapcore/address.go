// Package snapcore implements the ByteReader abstraction and the object
// inspector: the leaf layer that exposes a mapped executable or snapshot
// image as a uniform list of loadable segments, notes, and named sections.
package snapcore

// Address is a location in the captured task's virtual address space.
type Address uint64

// Sub returns int64(a - b). Requires a >= b.
func (a Address) Sub(b Address) int64 {
	return int64(a - b)
}

// Add returns a+x.
func (a Address) Add(x int64) Address {
	return a + Address(x)
}

// Max returns the larger of a and b.
func (a Address) Max(b Address) Address {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func (a Address) Min(b Address) Address {
	if a < b {
		return a
	}
	return b
}

// Align rounds a up to a multiple of x, a power of two.
func (a Address) Align(x int64) Address {
	return (a + Address(x) - 1) & ^(Address(x) - 1)
}
