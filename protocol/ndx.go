package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// NdxDone marks the end of an index stream.
	NdxDone int32 = -1
	// NdxFlistEOF marks the end of file-list transmission.
	NdxFlistEOF int32 = -2
)

// NdxState holds the delta-coding state for file index transmission. Indices
// are usually near their predecessors, so they travel as small differences
// from the previously sent value of the same sign. Encoder and decoder must
// maintain identical state.
type NdxState struct {
	// prevPositive is the previously coded non-negative index.
	prevPositive int32
	// prevNegative is the magnitude of the previously coded negative index.
	prevNegative int32
}

// NewNdxState creates index-coding state positioned at the stream start.
func NewNdxState() *NdxState {
	return &NdxState{
		prevPositive: -1,
		prevNegative: 1,
	}
}

// WriteNdx encodes a file index. Protocol versions below 30 send a plain
// 32-bit value; newer versions send sign-separated deltas with escape forms
// for large jumps.
func WriteNdx(writer io.Writer, ndx int32, state *NdxState, version int32) error {
	if version < 30 {
		var buffer [4]byte
		binary.LittleEndian.PutUint32(buffer[:], uint32(ndx))
		_, err := writer.Write(buffer[:])
		return errors.Wrap(err, "unable to write index")
	}

	// The done marker is a bare zero byte.
	if ndx == NdxDone {
		_, err := writer.Write([]byte{0})
		return errors.Wrap(err, "unable to write index")
	}

	// Compute the delta from the previous index of the same sign. Negative
	// indices are coded by magnitude behind a 0xFF marker.
	var output [6]byte
	var count int
	var diff, magnitude int32
	if ndx >= 0 {
		diff = ndx - state.prevPositive
		state.prevPositive = ndx
		magnitude = ndx
	} else {
		output[count] = 0xFF
		count++
		magnitude = -ndx
		diff = magnitude - state.prevNegative
		state.prevNegative = magnitude
	}

	if diff > 0 && diff < 0xFE {
		output[count] = byte(diff)
		count++
	} else if diff < 0 || diff > 0x7FFF {
		// Large jump: send the absolute value with a width marker.
		output[count] = 0xFE
		output[count+1] = byte(uint32(magnitude)>>24) | 0x80
		output[count+2] = byte(magnitude)
		output[count+3] = byte(magnitude >> 8)
		output[count+4] = byte(magnitude >> 16)
		count += 5
	} else {
		output[count] = 0xFE
		output[count+1] = byte(diff >> 8)
		output[count+2] = byte(diff)
		count += 3
	}

	_, err := writer.Write(output[:count])
	return errors.Wrap(err, "unable to write index")
}

// ReadNdx decodes a file index encoded by WriteNdx.
func ReadNdx(reader io.Reader, state *NdxState, version int32) (int32, error) {
	if version < 30 {
		var buffer [4]byte
		if _, err := io.ReadFull(reader, buffer[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read index")
		}
		return int32(binary.LittleEndian.Uint32(buffer[:])), nil
	}

	leading, err := readByte(reader)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read index")
	}
	if leading == 0 {
		return NdxDone, nil
	}

	negative := leading == 0xFF
	if negative {
		leading, err = readByte(reader)
		if err != nil {
			return 0, errors.Wrap(err, "unable to read index")
		}
	}

	var magnitude int32
	if leading == 0xFE {
		var pair [2]byte
		if _, err := io.ReadFull(reader, pair[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read index")
		}
		if pair[0]&0x80 != 0 {
			var rest [2]byte
			if _, err := io.ReadFull(reader, rest[:]); err != nil {
				return 0, errors.Wrap(err, "unable to read index")
			}
			magnitude = int32(pair[1]) | int32(rest[0])<<8 | int32(rest[1])<<16 | int32(pair[0]&0x7F)<<24
		} else {
			magnitude = int32(pair[0])<<8 | int32(pair[1])
			if negative {
				magnitude += state.prevNegative
			} else {
				magnitude += state.prevPositive
			}
		}
	} else {
		magnitude = int32(leading)
		if negative {
			magnitude += state.prevNegative
		} else {
			magnitude += state.prevPositive
		}
	}

	if negative {
		state.prevNegative = magnitude
		return -magnitude, nil
	}
	state.prevPositive = magnitude
	return magnitude, nil
}
