// Package multiplex frames byte streams and out-of-band messages over a
// single ordered transport. Every frame is a 4-byte little-endian header - a
// message code in the top byte and a 24-bit payload length in the lower
// bytes - followed by the payload itself. Data frames carry user bytes;
// error, info, and warning frames carry UTF-8 text surfaced to a message
// sink on the receiving side.
package multiplex

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// messageBase offsets all message codes on the wire.
	messageBase = 7
	// maxPayloadLength is the largest payload that fits the 24-bit length
	// field.
	maxPayloadLength = 1<<24 - 1
)

// Code identifies the class of a frame.
type Code uint8

const (
	// CodeData carries user bytes.
	CodeData Code = iota
	// CodeError carries a fatal error message.
	CodeError
	// CodeInfo carries an informational message.
	CodeInfo
	// CodeWarning carries a warning message.
	CodeWarning
)

// header is the tag-length pair that precedes every payload on the wire.
type header struct {
	// code is the frame's message code.
	code Code
	// length is the length of the subsequent payload.
	length uint32
}

// readHeader reads a header from a stream. It is recommended that the stream
// be buffered to avoid the overhead of short reads. An io.EOF at the header
// boundary is returned unwrapped, because that is a natural end of stream.
func readHeader(reader io.Reader) (header, error) {
	var headerBytes [4]byte
	if _, err := io.ReadFull(reader, headerBytes[:]); err != nil {
		if err == io.EOF {
			return header{}, io.EOF
		}
		return header{}, errors.Wrap(err, "unable to read frame header")
	}
	packed := binary.LittleEndian.Uint32(headerBytes[:])
	tag := uint8(packed >> 24)
	if tag < messageBase {
		return header{}, errors.Errorf("invalid frame tag: %d", tag)
	}
	return header{
		code:   Code(tag - messageBase),
		length: packed & maxPayloadLength,
	}, nil
}

// write encodes a header to a stream.
func (h header) write(writer io.Writer) error {
	var headerBytes [4]byte
	packed := uint32(messageBase+h.code)<<24 | (h.length & maxPayloadLength)
	binary.LittleEndian.PutUint32(headerBytes[:], packed)
	if _, err := writer.Write(headerBytes[:]); err != nil {
		return errors.Wrap(err, "unable to write frame header")
	}
	return nil
}
