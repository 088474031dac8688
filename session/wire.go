package session

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/filesystem"
	"github.com/blocksync-io/blocksync/multiplex"
	"github.com/blocksync-io/blocksync/protocol"
	"github.com/blocksync-io/blocksync/ratelimit"
	"github.com/blocksync-io/blocksync/rsync"
)

// maxSignatureCount bounds the number of block signatures accepted per
// file, guarding against hostile or corrupt length fields.
const maxSignatureCount = 1 << 24

// maxLiteralLength bounds a single literal payload. Senders flush literal
// runs per instruction, so anything larger indicates corruption.
const maxLiteralLength = 1 << 30

// newLimiter builds a bandwidth limiter from a KB/s cap, or nil if no cap is
// set.
func newLimiter(kilobytesPerSecond int64) *ratelimit.Limiter {
	if kilobytesPerSecond <= 0 {
		return nil
	}
	return ratelimit.NewLimiter(kilobytesPerSecond * 1024)
}

// wireEntry converts a scanned filesystem entry into its wire form.
func wireEntry(entry filesystem.Entry, relative string) protocol.FileEntry {
	result := protocol.FileEntry{
		Name:    relative,
		Size:    int64(entry.Size),
		ModTime: entry.ModTime,
	}
	switch entry.Kind {
	case filesystem.EntryKindDirectory:
		result.Mode = protocol.ModeDirectory | 0o755
	case filesystem.EntryKindSymlink:
		result.Mode = protocol.ModeSymlink | 0o777
		result.LinkTarget = entry.LinkTarget
	default:
		result.Mode = protocol.ModeRegular | 0o644
	}
	return result
}

// transmitList encodes the scanned entries onto the wire and returns the
// transmitted list, whose indices the peer will use to request files.
func transmitList(writer io.Writer, session protocol.Session, entries []filesystem.Entry, root string) ([]protocol.FileEntry, error) {
	encoder := protocol.NewListEncoder(writer, session)
	var list []protocol.FileEntry
	for _, entry := range entries {
		relative, ok := entry.Relative(root)
		if !ok {
			continue
		}
		wire := wireEntry(entry, relative)
		if err := encoder.WriteEntry(wire); err != nil {
			return nil, errors.Wrap(err, "unable to transmit file list entry")
		}
		list = append(list, wire)
	}
	if err := encoder.WriteEnd(); err != nil {
		return nil, errors.Wrap(err, "unable to terminate file list")
	}
	return list, nil
}

// transmitSignatures encodes a base signature list: a count followed by
// fixed-width weak and strong hashes per block.
func transmitSignatures(writer io.Writer, signatures []rsync.BlockSignature, digest rsync.Algorithm) error {
	if err := protocol.WriteVarint30(writer, int64(len(signatures))); err != nil {
		return errors.Wrap(err, "unable to write signature count")
	}
	var weak [4]byte
	for _, signature := range signatures {
		binary.LittleEndian.PutUint32(weak[:], signature.Weak)
		if _, err := writer.Write(weak[:]); err != nil {
			return errors.Wrap(err, "unable to write weak hash")
		}
		if len(signature.Strong) != digest.Size() {
			return errors.New("signature digest length mismatch")
		}
		if _, err := writer.Write(signature.Strong); err != nil {
			return errors.Wrap(err, "unable to write strong hash")
		}
	}
	return nil
}

// receiveSignatures decodes a base signature list encoded by
// transmitSignatures.
func receiveSignatures(reader io.Reader, digest rsync.Algorithm) ([]rsync.BlockSignature, error) {
	count, err := protocol.ReadVarint30(reader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read signature count")
	}
	if count < 0 || count > maxSignatureCount {
		return nil, errors.Errorf("invalid signature count: %d", count)
	}
	signatures := make([]rsync.BlockSignature, 0, count)
	var weak [4]byte
	for i := int64(0); i < count; i++ {
		if _, err := io.ReadFull(reader, weak[:]); err != nil {
			return nil, errors.Wrap(err, "unable to read weak hash")
		}
		strong := make([]byte, digest.Size())
		if _, err := io.ReadFull(reader, strong); err != nil {
			return nil, errors.Wrap(err, "unable to read strong hash")
		}
		signatures = append(signatures, rsync.BlockSignature{
			Index:  uint32(i),
			Weak:   binary.LittleEndian.Uint32(weak[:]),
			Strong: strong,
		})
	}
	return signatures, nil
}

// transmitDelta encodes a delta instruction stream: positive lengths
// introduce literal data, negative values reference base blocks, and zero
// terminates the stream.
func transmitDelta(writer *multiplex.Writer, delta []rsync.Instruction) error {
	for _, instruction := range delta {
		if instruction.IsLiteral() {
			if err := protocol.WriteVarint30(writer, int64(len(instruction.Data))); err != nil {
				return errors.Wrap(err, "unable to write literal length")
			}
			if _, err := writer.Write(instruction.Data); err != nil {
				return errors.Wrap(err, "unable to write literal data")
			}
		} else {
			if err := protocol.WriteVarint30(writer, -int64(instruction.Index)-1); err != nil {
				return errors.Wrap(err, "unable to write block reference")
			}
		}
	}
	if err := protocol.WriteVarint30(writer, 0); err != nil {
		return errors.Wrap(err, "unable to terminate delta")
	}
	return nil
}

// receiveDelta decodes a delta instruction stream encoded by transmitDelta.
func receiveDelta(reader io.Reader) ([]rsync.Instruction, error) {
	var delta []rsync.Instruction
	for {
		token, err := protocol.ReadVarint30(reader)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read delta token")
		}
		if token == 0 {
			return delta, nil
		}
		if token > 0 {
			if token > maxLiteralLength {
				return nil, errors.Errorf("invalid literal length: %d", token)
			}
			data := make([]byte, token)
			if _, err := io.ReadFull(reader, data); err != nil {
				return nil, errors.Wrap(err, "unable to read literal data")
			}
			delta = append(delta, rsync.Instruction{Data: data})
		} else {
			delta = append(delta, rsync.Instruction{Index: uint32(-token - 1)})
		}
	}
}
