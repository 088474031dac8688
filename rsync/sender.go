package rsync

import (
	"os"

	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/compress"
	"github.com/blocksync-io/blocksync/ratelimit"
)

// Sender computes delta instruction streams for source files against base
// signatures. If a compressor is provided, literal payloads are compressed
// before being recorded; if a limiter is provided, recorded payloads are
// throttled to the configured bandwidth.
type Sender struct {
	// blockSize is the block size that was used to generate base signatures.
	blockSize int
	// algorithm is the strong digest algorithm.
	algorithm Algorithm
	// compressor, if non-nil, compresses literal data payloads.
	compressor *compress.Compressor
	// limiter, if non-nil, throttles literal data emission.
	limiter *ratelimit.Limiter
}

// NewSender creates a delta computer. The compressor and limiter may be nil.
func NewSender(blockSize int, algorithm Algorithm, compressor *compress.Compressor, limiter *ratelimit.Limiter) (*Sender, error) {
	if blockSize <= 0 {
		return nil, errors.New("non-positive block size")
	} else if !algorithm.Supported() {
		return nil, errors.Errorf("unsupported digest algorithm: %s", algorithm.Description())
	}
	return &Sender{
		blockSize:  blockSize,
		algorithm:  algorithm,
		compressor: compressor,
		limiter:    limiter,
	}, nil
}

// Delta computes the delta instruction stream that transforms the base file
// described by signatures into the source file at the specified path.
// Applying the returned instructions in order against the base yields the
// source byte-for-byte.
func (s *Sender) Delta(source string, signatures []BlockSignature) ([]Instruction, error) {
	// Read the source into memory. The scan needs random access to the
	// search window.
	buffer, err := os.ReadFile(source)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read source file")
	}
	return s.DeltaBytes(buffer, signatures)
}

// DeltaBytes computes the delta instruction stream for an in-memory source.
func (s *Sender) DeltaBytes(buffer []byte, signatures []BlockSignature) ([]Instruction, error) {
	// An empty source needs no instructions.
	if len(buffer) == 0 {
		return nil, nil
	}

	// Build the lookup table and create the hasher for match confirmation.
	table := NewSignatureTable(signatures)
	hasher := s.algorithm.Factory()()
	strongHash := func(block []byte) []byte {
		hasher.Reset()
		hasher.Write(block)
		return hasher.Sum(nil)
	}

	// Accumulate instructions and pending literal bytes. flushLiteral records
	// the pending literal data (after optional compression and throttling)
	// and resets the accumulator.
	var instructions []Instruction
	var literal []byte
	flushLiteral := func() error {
		if len(literal) == 0 {
			return nil
		}
		payload := literal
		if s.compressor != nil {
			compressed, err := s.compressor.Compress(payload)
			if err != nil {
				return errors.Wrap(err, "unable to compress literal data")
			}
			payload = compressed
		} else {
			payload = append([]byte(nil), payload...)
		}
		if s.limiter != nil {
			s.limiter.Throttle(len(payload))
		}
		instructions = append(instructions, Instruction{Data: payload})
		literal = literal[:0]
		return nil
	}

	// Scan the source with a sliding window. The rolling checksum is
	// recomputed from scratch after each match (the window jumps a full
	// block) and rolled by one byte otherwise.
	pos := 0
	var rolling RollingChecksum
	rollingValid := false
	for pos+s.blockSize <= len(buffer) {
		// Update the weak checksum for the window at pos.
		if rollingValid {
			rolling.Roll(buffer[pos-1], buffer[pos+s.blockSize-1])
		} else {
			rolling = NewRollingChecksum(buffer[pos : pos+s.blockSize])
			rollingValid = true
		}

		// Check for a block match, confirming weak candidates with the
		// strong digest. The table scans chains in insertion order, so the
		// lowest matching block index wins.
		if table.Candidates(rolling.Sum()) {
			block := buffer[pos : pos+s.blockSize]
			if index, ok := table.Match(rolling.Sum(), strongHash(block)); ok {
				if err := flushLiteral(); err != nil {
					return nil, err
				}
				instructions = append(instructions, Instruction{Index: index})
				pos += s.blockSize
				rollingValid = false
				continue
			}
		}

		// No match, so the leading byte of the window is literal data.
		literal = append(literal, buffer[pos])
		pos += 1
	}

	// Handle the tail (shorter than a block). It can still match a short
	// final base block.
	if pos < len(buffer) {
		tail := buffer[pos:]
		weak := WeakChecksum(tail)
		matched := false
		if table.Candidates(weak) {
			if index, ok := table.Match(weak, strongHash(tail)); ok {
				if err := flushLiteral(); err != nil {
					return nil, err
				}
				instructions = append(instructions, Instruction{Index: index})
				matched = true
			}
		}
		if !matched {
			literal = append(literal, tail...)
		}
	}

	// Record any remaining literal data.
	if err := flushLiteral(); err != nil {
		return nil, err
	}

	// Success.
	return instructions, nil
}
