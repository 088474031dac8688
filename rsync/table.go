package rsync

import (
	"bytes"
)

// SignatureTable indexes block signatures by their weak checksum so that
// delta computation can locate candidate blocks in constant time. Collisions
// on the weak value are resolved by chaining: each bucket holds block indices
// in insertion order, so the lowest matching index always wins when multiple
// blocks share both hashes. The table never removes entries.
type SignatureTable struct {
	// signatures is the full signature list backing the table. Buckets store
	// indices into this slice rather than copies of the digests.
	signatures []BlockSignature
	// buckets maps weak checksums to chains of positions in signatures.
	buckets map[uint32][]uint32
}

// NewSignatureTable builds a lookup table over the specified signature list.
// The size of the table is known up front, so no rehashing occurs after
// construction.
func NewSignatureTable(signatures []BlockSignature) *SignatureTable {
	buckets := make(map[uint32][]uint32, len(signatures))
	for i, s := range signatures {
		buckets[s.Weak] = append(buckets[s.Weak], uint32(i))
	}
	return &SignatureTable{
		signatures: signatures,
		buckets:    buckets,
	}
}

// Lookup returns the chain of candidate positions for a weak checksum, in
// insertion order. The returned slice is aliased into the table and must not
// be modified.
func (t *SignatureTable) Lookup(weak uint32) []uint32 {
	return t.buckets[weak]
}

// Candidates indicates whether or not any block carries the specified weak
// checksum.
func (t *SignatureTable) Candidates(weak uint32) bool {
	return len(t.buckets[weak]) > 0
}

// Match scans the chain for a weak checksum in insertion order and returns
// the index of the first block whose strong digest equals strong.
func (t *SignatureTable) Match(weak uint32, strong []byte) (uint32, bool) {
	for _, position := range t.buckets[weak] {
		if bytes.Equal(t.signatures[position].Strong, strong) {
			return t.signatures[position].Index, true
		}
	}
	return 0, false
}
