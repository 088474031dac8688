package rsync

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/filesystem"
)

// BlockSignature pairs the weak and strong hashes for a single block of a
// base file.
type BlockSignature struct {
	// Index is the 0-based position of the block within the base file.
	Index uint32
	// Weak is the rolling checksum of the block.
	Weak uint32
	// Strong is the strong digest of the block. Its length depends on the
	// digest algorithm in use.
	Strong []byte
}

// Instruction is a single element of a delta stream. If Data is non-empty,
// the instruction carries literal bytes (possibly compressed) that should be
// written to the output directly. Otherwise it references block Index of the
// base file.
type Instruction struct {
	// Data contains literal data for literal instructions. Receivers may
	// treat a length-0 buffer as semantically equivalent to a nil buffer.
	Data []byte
	// Index is the base block index for block instructions.
	Index uint32
}

// IsLiteral indicates whether or not the instruction carries literal data.
func (i Instruction) IsLiteral() bool {
	return len(i.Data) > 0
}

const (
	// minimumBlockSize is the minimum block size that will be returned by
	// OptimalBlockSize. It also serves as the block size for empty bases.
	minimumBlockSize = 700
	// maximumBlockSize is the maximum block size that will be returned by
	// OptimalBlockSize. It needs to be bounded by what can fit into a
	// reasonably sized in-memory buffer, particularly if multiple engines are
	// running.
	maximumBlockSize = 128 * 1024
	// parallelHashingThreshold is the base length at or above which block
	// hashing fans out across cores.
	parallelHashingThreshold = 1024 * 1024
)

// OptimalBlockSize chooses a block size for a base of the specified length.
// It uses the square-root heuristic from the rsync thesis, clamped to a
// sensible range.
func OptimalBlockSize(baseLength uint64) int {
	result := int(math.Sqrt(float64(baseLength)))
	if result < minimumBlockSize {
		result = minimumBlockSize
	} else if result > maximumBlockSize {
		result = maximumBlockSize
	}
	return result
}

// Generator computes block signatures for base files.
type Generator struct {
	// blockSize is the block size used for signature generation.
	blockSize int
	// algorithm is the strong digest algorithm.
	algorithm Algorithm
}

// NewGenerator creates a signature generator with the specified block size
// and strong digest algorithm.
func NewGenerator(blockSize int, algorithm Algorithm) (*Generator, error) {
	if blockSize <= 0 {
		return nil, errors.New("non-positive block size")
	} else if !algorithm.Supported() {
		return nil, errors.Errorf("unsupported digest algorithm: %s", algorithm.Description())
	}
	return &Generator{
		blockSize: blockSize,
		algorithm: algorithm,
	}, nil
}

// BlockSize returns the generator's block size.
func (g *Generator) BlockSize() int {
	return g.blockSize
}

// Signature computes the block signatures for the file at the specified
// path. Signatures are returned in block order with monotonically increasing
// indices. An empty base yields an empty signature list.
//
// For bases at or above the parallel hashing threshold, the file is read into
// memory and its blocks are hashed across cores. Smaller bases are hashed
// sequentially through a buffered reader.
func (g *Generator) Signature(path string) ([]BlockSignature, error) {
	// Grab metadata so that we can choose a hashing strategy and buffer size.
	metadata, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to probe base file")
	}

	// Large bases are hashed in parallel from an in-memory buffer.
	if metadata.Size() >= parallelHashingThreshold {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read base file")
		}
		return parallelSignature(data, g.blockSize, g.algorithm), nil
	}

	// Open the base for sequential hashing.
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open base file")
	}
	defer file.Close()
	reader := bufio.NewReaderSize(file, filesystem.BufferSize(uint64(metadata.Size())))

	// Perform hashing.
	return g.signature(reader)
}

// BytesSignature computes block signatures for an in-memory base.
func (g *Generator) BytesSignature(base []byte) []BlockSignature {
	result, err := g.signature(bytes.NewReader(base))
	if err != nil {
		panic(errors.Wrap(err, "in-memory signature failure"))
	}
	return result
}

func (g *Generator) signature(base io.Reader) ([]BlockSignature, error) {
	// Create the result and a hasher for strong digests.
	var result []BlockSignature
	hasher := g.algorithm.Factory()()

	// Read blocks and append their signatures until we reach EOF.
	buffer := make([]byte, g.blockSize)
	index := uint32(0)
	eof := false
	for !eof {
		// Read the next block and watch for errors. If we receive io.EOF,
		// then nothing was read, and we should break immediately. This means
		// that the base had a length that was a multiple of the block size.
		// If we receive io.ErrUnexpectedEOF, then something was read but
		// we're still at the end of the file, so we should hash this block
		// but not go through the loop again. Other errors are terminal.
		n, err := io.ReadFull(base, buffer)
		if err == io.EOF {
			break
		} else if err == io.ErrUnexpectedEOF {
			eof = true
		} else if err != nil {
			return nil, errors.Wrap(err, "unable to read base block")
		}

		// Compute hashes for the block. Note that we don't assume we've
		// received a full block - we only hash the portion of the buffer that
		// was filled.
		block := buffer[:n]
		hasher.Reset()
		hasher.Write(block)

		// Add the block signature.
		result = append(result, BlockSignature{
			Index:  index,
			Weak:   WeakChecksum(block),
			Strong: hasher.Sum(nil),
		})

		// Increment the block index.
		index += 1
	}

	// Success.
	return result, nil
}
