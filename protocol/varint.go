// Package protocol implements the wire codecs: variable-width integers,
// length-prefixed strings, file index deltas, the session handshake, and the
// delta-compressed file-list encoding.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// intByteExtra maps the top six bits of a leading byte to the number of
// extra bytes that follow it. The leading byte self-describes the encoding
// width: n leading set bits indicate n extra little-endian bytes, with the
// remaining low bits of the leading byte supplying the value's top bits.
var intByteExtra = [64]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	2, 2, 2, 2, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 5, 6,
}

// readByte reads a single byte from a stream.
func readByte(reader io.Reader) (byte, error) {
	var buffer [1]byte
	if _, err := io.ReadFull(reader, buffer[:]); err != nil {
		return 0, err
	}
	return buffer[0], nil
}

// WriteVarint encodes a 32-bit value in the minimum self-describing width:
// one byte for 0-127, otherwise a prefixed form whose leading byte carries
// the width and the value's top bits.
func WriteVarint(writer io.Writer, value int32) error {
	var buffer [5]byte
	binary.LittleEndian.PutUint32(buffer[1:], uint32(value))

	// Find the highest non-zero byte.
	count := 4
	for count > 1 && buffer[count] == 0 {
		count--
	}

	// Fold the top byte into the prefix if it fits, otherwise extend.
	bit := byte(1) << (7 - count + 1)
	if buffer[count] >= bit {
		count++
		buffer[0] = ^(bit - 1)
	} else if count > 1 {
		buffer[0] = buffer[count] | ^(bit*2 - 1)
	} else {
		buffer[0] = buffer[count]
	}

	if _, err := writer.Write(buffer[:count]); err != nil {
		return errors.Wrap(err, "unable to write varint")
	}
	return nil
}

// ReadVarint decodes a value encoded by WriteVarint.
func ReadVarint(reader io.Reader) (int32, error) {
	leading, err := readByte(reader)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read varint prefix")
	}
	extra := int(intByteExtra[leading>>2])
	if extra == 0 {
		return int32(leading), nil
	} else if extra > 4 {
		return 0, errors.New("varint overflows 32 bits")
	}

	var buffer [5]byte
	if _, err := io.ReadFull(reader, buffer[:extra]); err != nil {
		return 0, errors.Wrap(err, "unable to read varint payload")
	}
	bit := byte(1) << (8 - extra)
	buffer[extra] = leading & (bit - 1)
	if extra == 4 && buffer[4] != 0 {
		return 0, errors.New("varint overflows 32 bits")
	}
	return int32(binary.LittleEndian.Uint32(buffer[:4])), nil
}

// WriteVarint30 encodes a length or identifier in tri-mode form: a 2-byte
// short form for small values, a 5-byte standard form (0xFE escape plus a
// 32-bit payload), and a 9-byte extended form (0xFF escape plus a 64-bit
// payload). The short form is only used when its leading byte can't collide
// with an escape.
func WriteVarint30(writer io.Writer, value int64) error {
	var buffer [9]byte
	if value >= 0 && value < 0x10000 && value&0xFF < 0xFE {
		buffer[0] = byte(value)
		buffer[1] = byte(value >> 8)
		_, err := writer.Write(buffer[:2])
		return errors.Wrap(err, "unable to write varint30")
	} else if value >= 0 && value <= 0x7FFFFFFF {
		buffer[0] = 0xFE
		binary.LittleEndian.PutUint32(buffer[1:5], uint32(value))
		_, err := writer.Write(buffer[:5])
		return errors.Wrap(err, "unable to write varint30")
	}
	buffer[0] = 0xFF
	binary.LittleEndian.PutUint64(buffer[1:9], uint64(value))
	_, err := writer.Write(buffer[:9])
	return errors.Wrap(err, "unable to write varint30")
}

// ReadVarint30 decodes a value encoded by WriteVarint30.
func ReadVarint30(reader io.Reader) (int64, error) {
	leading, err := readByte(reader)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read varint30 prefix")
	}
	switch leading {
	case 0xFE:
		var buffer [4]byte
		if _, err := io.ReadFull(reader, buffer[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read varint30 payload")
		}
		return int64(binary.LittleEndian.Uint32(buffer[:])), nil
	case 0xFF:
		var buffer [8]byte
		if _, err := io.ReadFull(reader, buffer[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read varint30 payload")
		}
		return int64(binary.LittleEndian.Uint64(buffer[:])), nil
	default:
		high, err := readByte(reader)
		if err != nil {
			return 0, errors.Wrap(err, "unable to read varint30 payload")
		}
		return int64(leading) | int64(high)<<8, nil
	}
}

// WriteVarlong30 encodes a byte offset in tri-mode form: a 3-byte short form
// for values below 16 MiB, a 7-byte standard form (0xFE escape plus a 48-bit
// payload), and a 9-byte extended form (0xFF escape plus a 64-bit payload).
func WriteVarlong30(writer io.Writer, value int64) error {
	var buffer [9]byte
	if value >= 0 && value < 0x1000000 && value&0xFF < 0xFE {
		buffer[0] = byte(value)
		buffer[1] = byte(value >> 8)
		buffer[2] = byte(value >> 16)
		_, err := writer.Write(buffer[:3])
		return errors.Wrap(err, "unable to write varlong30")
	} else if value >= 0 && value < 1<<47 {
		buffer[0] = 0xFE
		for i := 0; i < 6; i++ {
			buffer[1+i] = byte(value >> (8 * i))
		}
		_, err := writer.Write(buffer[:7])
		return errors.Wrap(err, "unable to write varlong30")
	}
	buffer[0] = 0xFF
	binary.LittleEndian.PutUint64(buffer[1:9], uint64(value))
	_, err := writer.Write(buffer[:9])
	return errors.Wrap(err, "unable to write varlong30")
}

// ReadVarlong30 decodes a value encoded by WriteVarlong30.
func ReadVarlong30(reader io.Reader) (int64, error) {
	leading, err := readByte(reader)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read varlong30 prefix")
	}
	switch leading {
	case 0xFE:
		var buffer [6]byte
		if _, err := io.ReadFull(reader, buffer[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read varlong30 payload")
		}
		var value int64
		for i := 0; i < 6; i++ {
			value |= int64(buffer[i]) << (8 * i)
		}
		return value, nil
	case 0xFF:
		var buffer [8]byte
		if _, err := io.ReadFull(reader, buffer[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read varlong30 payload")
		}
		return int64(binary.LittleEndian.Uint64(buffer[:])), nil
	default:
		var buffer [2]byte
		if _, err := io.ReadFull(reader, buffer[:]); err != nil {
			return 0, errors.Wrap(err, "unable to read varlong30 payload")
		}
		return int64(leading) | int64(buffer[0])<<8 | int64(buffer[1])<<16, nil
	}
}

// WriteShortint encodes a 16-bit value in little-endian order.
func WriteShortint(writer io.Writer, value uint16) error {
	var buffer [2]byte
	binary.LittleEndian.PutUint16(buffer[:], value)
	_, err := writer.Write(buffer[:])
	return errors.Wrap(err, "unable to write shortint")
}

// ReadShortint decodes a value encoded by WriteShortint.
func ReadShortint(reader io.Reader) (uint16, error) {
	var buffer [2]byte
	if _, err := io.ReadFull(reader, buffer[:]); err != nil {
		return 0, errors.Wrap(err, "unable to read shortint")
	}
	return binary.LittleEndian.Uint16(buffer[:]), nil
}

// maxVstringLength bounds the length of wire strings.
const maxVstringLength = 0x7FFF

// WriteVstring encodes a length-prefixed string. Lengths up to 127 use a
// single prefix byte; longer strings set the prefix's high bit and extend
// the length across a second byte.
func WriteVstring(writer io.Writer, value string) error {
	length := len(value)
	if length > maxVstringLength {
		return errors.Errorf("string too long for wire encoding: %d", length)
	}
	var prefix [2]byte
	prefixLength := 1
	if length > 0x7F {
		prefix[0] = byte(length>>8) | 0x80
		prefix[1] = byte(length)
		prefixLength = 2
	} else {
		prefix[0] = byte(length)
	}
	if _, err := writer.Write(prefix[:prefixLength]); err != nil {
		return errors.Wrap(err, "unable to write string length")
	}
	if length > 0 {
		if _, err := io.WriteString(writer, value); err != nil {
			return errors.Wrap(err, "unable to write string payload")
		}
	}
	return nil
}

// ReadVstring decodes a string encoded by WriteVstring.
func ReadVstring(reader io.Reader) (string, error) {
	prefix, err := readByte(reader)
	if err != nil {
		return "", errors.Wrap(err, "unable to read string length")
	}
	length := int(prefix)
	if prefix&0x80 != 0 {
		low, err := readByte(reader)
		if err != nil {
			return "", errors.Wrap(err, "unable to read string length")
		}
		length = int(prefix&0x7F)<<8 | int(low)
	}
	if length == 0 {
		return "", nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return "", errors.Wrap(err, "unable to read string payload")
	}
	return string(payload), nil
}
