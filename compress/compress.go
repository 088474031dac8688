// Package compress provides the payload codec used for literal data on the
// wire. It is a pure codec: callers decide when compression applies.
package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Algorithm specifies a compression algorithm.
type Algorithm uint8

const (
	// AlgorithmDefault represents an unspecified algorithm. It resolves to
	// AlgorithmZlib.
	AlgorithmDefault Algorithm = iota
	// AlgorithmZstd is Zstandard.
	AlgorithmZstd
	// AlgorithmLZ4 is LZ4 in frame format.
	AlgorithmLZ4
	// AlgorithmZlib is DEFLATE with a zlib envelope.
	AlgorithmZlib
)

// IsDefault indicates whether or not the algorithm is AlgorithmDefault.
func (a Algorithm) IsDefault() bool {
	return a == AlgorithmDefault
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (a Algorithm) MarshalText() ([]byte, error) {
	var result string
	switch a {
	case AlgorithmDefault:
	case AlgorithmZstd:
		result = "zstd"
	case AlgorithmLZ4:
		result = "lz4"
	case AlgorithmZlib:
		result = "zlib"
	default:
		result = "unknown"
	}
	return []byte(result), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (a *Algorithm) UnmarshalText(textBytes []byte) error {
	switch string(textBytes) {
	case "zstd":
		*a = AlgorithmZstd
	case "lz4":
		*a = AlgorithmLZ4
	case "zlib":
		*a = AlgorithmZlib
	default:
		return errors.Errorf("unknown compression algorithm specification: %s", string(textBytes))
	}
	return nil
}

// Description returns a human-readable description of the algorithm.
func (a Algorithm) Description() string {
	switch a {
	case AlgorithmDefault:
		return "Default"
	case AlgorithmZstd:
		return "Zstandard"
	case AlgorithmLZ4:
		return "LZ4"
	case AlgorithmZlib:
		return "zlib"
	default:
		return "Unknown"
	}
}

// Compressor is a symmetric compress/decompress codec for a single
// algorithm. It is not safe for concurrent use.
type Compressor struct {
	// algorithm is the effective algorithm.
	algorithm Algorithm
}

// NewCompressor creates a codec for the specified algorithm.
func NewCompressor(algorithm Algorithm) *Compressor {
	if algorithm.IsDefault() {
		algorithm = AlgorithmZlib
	}
	return &Compressor{algorithm: algorithm}
}

// Algorithm returns the codec's effective algorithm.
func (c *Compressor) Algorithm() Algorithm {
	return c.algorithm
}

// Compress returns the compressed form of data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create zstd encoder")
		}
		result := encoder.EncodeAll(data, nil)
		encoder.Close()
		return result, nil
	case AlgorithmLZ4:
		output := bytes.NewBuffer(nil)
		writer := lz4.NewWriter(output)
		if _, err := writer.Write(data); err != nil {
			return nil, errors.Wrap(err, "unable to compress data")
		}
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "unable to finalize lz4 frame")
		}
		return output.Bytes(), nil
	case AlgorithmZlib:
		output := bytes.NewBuffer(nil)
		writer := zlib.NewWriter(output)
		if _, err := writer.Write(data); err != nil {
			return nil, errors.Wrap(err, "unable to compress data")
		}
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "unable to finalize zlib stream")
		}
		return output.Bytes(), nil
	default:
		return nil, errors.New("unknown compression algorithm")
	}
}

// Decompress returns the decompressed form of data.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create zstd decoder")
		}
		defer decoder.Close()
		result, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to decompress data")
		}
		return result, nil
	case AlgorithmLZ4:
		result, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, errors.Wrap(err, "unable to decompress data")
		}
		return result, nil
	case AlgorithmZlib:
		reader, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "unable to open zlib stream")
		}
		defer reader.Close()
		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, errors.Wrap(err, "unable to decompress data")
		}
		return result, nil
	default:
		return nil, errors.New("unknown compression algorithm")
	}
}
