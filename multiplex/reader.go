package multiplex

import (
	"io"

	"github.com/pkg/errors"
)

// MessageSink receives out-of-band messages extracted from the frame stream.
type MessageSink func(code Code, message string)

// Reader reassembles the data stream from a framed transport, transparently
// extracting out-of-band message frames and routing them to a sink. It
// exposes the data frames' payloads as a plain byte stream. The Reader
// assumes exclusive ownership of the underlying stream for its lifetime.
type Reader struct {
	// reader is the underlying stream.
	reader io.Reader
	// sink receives out-of-band messages. It may be nil, in which case
	// messages are dropped.
	sink MessageSink
	// remaining is the unread portion of the current data frame.
	remaining uint32
}

// NewReader creates a framing reader over the specified stream.
func NewReader(reader io.Reader, sink MessageSink) *Reader {
	return &Reader{
		reader: reader,
		sink:   sink,
	}
}

// Read implements io.Reader.Read, returning bytes from data frames only.
// Message frames encountered between data frames are dispatched to the sink.
// An end of stream at a frame boundary surfaces as io.EOF; an end of stream
// inside a frame surfaces as an unexpected EOF error.
func (r *Reader) Read(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	// Advance to the next non-empty data frame if we're at a boundary.
	for r.remaining == 0 {
		h, err := readHeader(r.reader)
		if err != nil {
			return 0, err
		}
		if h.code == CodeData {
			r.remaining = h.length
			continue
		}

		// Drain the message payload and dispatch it.
		payload := make([]byte, h.length)
		if _, err := io.ReadFull(r.reader, payload); err != nil {
			return 0, errors.Wrap(err, "unable to read message payload")
		}
		if r.sink != nil {
			r.sink(h.code, string(payload))
		}
	}

	// Read from the current data frame.
	if uint32(len(buffer)) > r.remaining {
		buffer = buffer[:r.remaining]
	}
	n, err := io.ReadFull(r.reader, buffer)
	r.remaining -= uint32(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, io.ErrUnexpectedEOF
	} else if err != nil {
		return n, errors.Wrap(err, "unable to read frame payload")
	}
	return n, nil
}
