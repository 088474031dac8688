package rsync

// RollingChecksum computes a fast 32-bit checksum that can be rolled (updated
// without full recomputation) as a fixed-length window slides over a byte
// stream. This particular checksum is detailed on page 55 of Andrew
// Tridgell's rsync thesis (https://www.samba.org/~tridge/phd_thesis.pdf). It
// is not theoretically optimal, but it is cheap and good enough to gate
// strong hash confirmation.
//
// Both components are 16-bit sums with wrapping arithmetic. The block length
// used in the roll update is likewise truncated to 16 bits, so windows longer
// than 65535 bytes remain internally consistent even though the length term
// wraps.
type RollingChecksum struct {
	// a is the wrapping sum of the window's bytes.
	a uint16
	// b is the wrapping sum of (L-i)*X[i] over the window.
	b uint16
	// length is the window length, truncated to 16 bits.
	length uint16
}

// NewRollingChecksum initializes a rolling checksum over an entire window.
// Initialization is O(len(data)); subsequent Roll calls are O(1).
func NewRollingChecksum(data []byte) RollingChecksum {
	var c RollingChecksum
	c.length = uint16(len(data))
	for i, x := range data {
		c.a += uint16(x)
		c.b += uint16(len(data)-i) * uint16(x)
	}
	return c
}

// Roll updates the checksum for a one-byte slide of the window: out is the
// byte leaving the front of the window and in is the byte entering at the
// back. The window length is unchanged.
func (c *RollingChecksum) Roll(out, in byte) {
	c.a = c.a - uint16(out) + uint16(in)
	c.b = c.b - c.length*uint16(out) + c.a
}

// Sum returns the composed 32-bit checksum value.
func (c RollingChecksum) Sum() uint32 {
	return uint32(c.b)<<16 | uint32(c.a)
}

// WeakChecksum computes the composed checksum of a window in one shot. It is
// equivalent to NewRollingChecksum(data).Sum().
func WeakChecksum(data []byte) uint32 {
	c := NewRollingChecksum(data)
	return c.Sum()
}
