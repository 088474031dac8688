package multiplex

import (
	"io"

	"github.com/pkg/errors"
)

// Writer frames a byte stream onto an underlying writer. Writes of arbitrary
// size are chunked into frames that fit the 24-bit length field, so callers
// can treat the Writer as a plain byte sink. The Writer assumes exclusive
// ownership of the underlying stream for its lifetime.
type Writer struct {
	// writer is the underlying stream.
	writer io.Writer
}

// NewWriter creates a framing writer over the specified stream.
func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

// Write implements io.Writer.Write, emitting the buffer as one or more data
// frames.
func (w *Writer) Write(data []byte) (int, error) {
	written := 0
	for {
		chunk := data
		if len(chunk) > maxPayloadLength {
			chunk = chunk[:maxPayloadLength]
		}
		if err := (header{CodeData, uint32(len(chunk))}).write(w.writer); err != nil {
			return written, err
		}
		if n, err := w.writer.Write(chunk); err != nil {
			return written + n, errors.Wrap(err, "unable to write frame payload")
		}
		written += len(chunk)
		data = data[len(chunk):]
		if len(data) == 0 {
			return written, nil
		}
	}
}

// WriteMessage emits an out-of-band message frame. Data frames can't be sent
// through this method.
func (w *Writer) WriteMessage(code Code, message string) error {
	if code == CodeData {
		return errors.New("data frames must be sent via Write")
	} else if len(message) > maxPayloadLength {
		message = message[:maxPayloadLength]
	}
	if err := (header{code, uint32(len(message))}).write(w.writer); err != nil {
		return err
	}
	if _, err := io.WriteString(w.writer, message); err != nil {
		return errors.Wrap(err, "unable to write message payload")
	}
	return nil
}
