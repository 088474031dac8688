// Package rsync provides the core delta-transfer algorithm: rolling weak
// checksums, strong block digests, block signature generation, delta
// computation against a base signature, and file reconstruction from a delta
// instruction stream.
package rsync
