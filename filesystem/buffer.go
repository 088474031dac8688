package filesystem

import (
	"os"
)

const (
	// minimumBufferSize matches common filesystem cluster sizes.
	minimumBufferSize = 4 * 1024
	// defaultBufferSize is a reasonable general-purpose buffer size.
	defaultBufferSize = 64 * 1024
	// maximumBufferSize bounds buffers for very large files.
	maximumBufferSize = 1024 * 1024
)

// BufferSize maps a file size to an I/O buffer size: small files get a
// cluster-sized buffer, mid-sized files the default, and large files
// progressively larger buffers up to the maximum.
func BufferSize(fileSize uint64) int {
	switch {
	case fileSize < 64*1024:
		return minimumBufferSize
	case fileSize < 1024*1024:
		return defaultBufferSize
	case fileSize < 10*1024*1024:
		return 256 * 1024
	case fileSize < 100*1024*1024:
		return 512 * 1024
	default:
		return maximumBufferSize
	}
}

// BufferSizeFor probes the file at path and returns the buffer size for its
// length, falling back to the default size if the file can't be probed.
func BufferSizeFor(path string) int {
	if metadata, err := os.Stat(path); err == nil {
		return BufferSize(uint64(metadata.Size()))
	}
	return defaultBufferSize
}
