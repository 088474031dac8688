package rsync

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/compress"
	"github.com/blocksync-io/blocksync/filesystem"
)

// ErrNoBase is returned when a delta stream references a base block but no
// base file was provided to the receiver.
var ErrNoBase = errors.New("matched block reference but no base file provided")

// PlacementMode controls how reconstructed output reaches its destination.
type PlacementMode uint8

const (
	// PlacementAtomic writes to a sibling temporary file and renames it over
	// the destination on success. On any error the temporary file is removed
	// and the destination is untouched.
	PlacementAtomic PlacementMode = iota
	// PlacementInPlace writes directly into the destination. A failure can
	// leave the destination partially updated.
	PlacementInPlace
	// PlacementPartial writes to a predictable partial file and renames it
	// over the destination on success. On failure the partial file is
	// retained so that a subsequent run can reuse it.
	PlacementPartial
)

// Receiver reconstructs files from delta instruction streams.
type Receiver struct {
	// blockSize is the block size that was used to generate the delta.
	blockSize int
	// compressor, if non-nil, decompresses literal data payloads.
	compressor *compress.Compressor
	// mode is the placement mode.
	mode PlacementMode
	// partialDir, if non-empty, holds partial files for PlacementPartial.
	// When empty, partial files are siblings of the destination with a
	// ".partial" extension.
	partialDir string
}

// NewReceiver creates a file reconstructor. The compressor may be nil, in
// which case literal payloads are written as-is.
func NewReceiver(blockSize int, compressor *compress.Compressor, mode PlacementMode, partialDir string) (*Receiver, error) {
	if blockSize <= 0 {
		return nil, errors.New("non-positive block size")
	}
	return &Receiver{
		blockSize:  blockSize,
		compressor: compressor,
		mode:       mode,
		partialDir: partialDir,
	}, nil
}

// Reconstruct applies a delta instruction stream to the base file (which may
// be empty to indicate that no base exists) and places the result at output
// according to the receiver's placement mode.
func (r *Receiver) Reconstruct(base string, delta []Instruction, output string) error {
	// In-place placement writes straight into the destination.
	if r.mode == PlacementInPlace {
		return r.reconstructInPlace(base, delta, output)
	}

	// Compute the intermediate path for staged placement.
	var staging string
	var retainOnError bool
	if r.mode == PlacementPartial {
		if r.partialDir != "" {
			staging = filepath.Join(r.partialDir, filepath.Base(output))
		} else {
			staging = output + ".partial"
		}
		retainOnError = true
	} else {
		// Create the temporary file as a sibling of the destination so that
		// the final rename doesn't cross a filesystem boundary.
		temporary, err := os.CreateTemp(filepath.Dir(output), filepath.Base(output))
		if err != nil {
			return errors.Wrap(err, "unable to create temporary file")
		}
		staging = temporary.Name()
		temporary.Close()
	}

	// Apply the delta into the staging file.
	if err := r.reconstructTo(staging, base, delta); err != nil {
		if !retainOnError {
			os.Remove(staging)
		}
		return err
	}

	// Move the result into place.
	if err := os.Rename(staging, output); err != nil {
		if !retainOnError {
			os.Remove(staging)
		}
		return errors.Wrap(err, "unable to relocate reconstructed file")
	}

	// Success.
	return nil
}

// reconstructTo applies the delta into the file at path, creating or
// truncating it.
func (r *Receiver) reconstructTo(path, base string, delta []Instruction) error {
	// Create the output file.
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "unable to create output file")
	}

	// Apply the instruction stream through a buffered writer.
	writer := bufio.NewWriterSize(file, filesystem.BufferSizeFor(path))
	if err := r.apply(writer, base, delta); err != nil {
		file.Close()
		return err
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return errors.Wrap(err, "unable to flush output")
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "unable to close output file")
	}

	// Success.
	return nil
}

// reconstructInPlace applies the delta directly into the destination,
// truncating it to the reconstructed length afterwards.
func (r *Receiver) reconstructInPlace(base string, delta []Instruction, output string) error {
	// Open the destination for read-write, creating it if necessary.
	file, err := os.OpenFile(output, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrap(err, "unable to open destination")
	}
	defer file.Close()

	// Apply the instruction stream. Writes are unbuffered here since block
	// reads from the base may alias not-yet-written destination regions when
	// base and destination are the same file - the documented in-place risk.
	counter := &countingWriter{writer: file}
	if err := r.apply(counter, base, delta); err != nil {
		return err
	}

	// Trim any leftover bytes from the previous contents.
	if err := file.Truncate(counter.written); err != nil {
		return errors.Wrap(err, "unable to truncate destination")
	}

	// Success.
	return nil
}

// apply writes the effect of a delta instruction stream to destination,
// reading matched blocks from the base file.
func (r *Receiver) apply(destination io.Writer, base string, delta []Instruction) error {
	// Open the base lazily: deltas for new files carry only literal data and
	// need no base at all.
	var baseFile *os.File
	defer func() {
		if baseFile != nil {
			baseFile.Close()
		}
	}()

	// Apply each instruction in order.
	buffer := make([]byte, r.blockSize)
	for _, instruction := range delta {
		if instruction.IsLiteral() {
			// Decompress if necessary and write the literal data.
			data := instruction.Data
			if r.compressor != nil {
				decompressed, err := r.compressor.Decompress(data)
				if err != nil {
					return errors.Wrap(err, "unable to decompress literal data")
				}
				data = decompressed
			}
			if _, err := destination.Write(data); err != nil {
				return errors.Wrap(err, "unable to write literal data")
			}
		} else {
			// A block instruction requires a base.
			if baseFile == nil {
				if base == "" {
					return ErrNoBase
				}
				file, err := os.Open(base)
				if err != nil {
					return errors.Wrap(err, "unable to open base file")
				}
				baseFile = file
			}

			// Seek to the block and copy it. The final block of the base may
			// be shorter than the block size.
			offset := int64(instruction.Index) * int64(r.blockSize)
			if _, err := baseFile.Seek(offset, io.SeekStart); err != nil {
				return errors.Wrap(err, "unable to seek to base block")
			}
			n, err := io.ReadFull(baseFile, buffer)
			if err != nil && err != io.ErrUnexpectedEOF {
				return errors.Wrap(err, "unable to read base block")
			}
			if _, err := destination.Write(buffer[:n]); err != nil {
				return errors.Wrap(err, "unable to write base block")
			}
		}
	}

	// Success.
	return nil
}

// countingWriter tracks the number of bytes written through it.
type countingWriter struct {
	writer  io.Writer
	written int64
}

func (w *countingWriter) Write(data []byte) (int, error) {
	n, err := w.writer.Write(data)
	w.written += int64(n)
	return n, err
}
