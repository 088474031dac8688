package sync

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats accumulates the counters for one synchronization session. It is
// zero-initialized per session and owned by the driver.
type Stats struct {
	// ScannedFiles is the number of source entries considered.
	ScannedFiles uint64
	// TransferredFiles is the number of files created or updated.
	TransferredFiles uint64
	// UnchangedFiles is the number of files skipped as up to date.
	UnchangedFiles uint64
	// DeletedFiles is the number of destination entries deleted.
	DeletedFiles uint64
	// FailedFiles is the number of files that failed with non-fatal errors.
	FailedFiles uint64
	// TransferredBytes is the total size of transferred files.
	TransferredBytes uint64
	// DeletedBytes is the total size of deleted entries.
	DeletedBytes uint64
	// Elapsed is the session's wall time.
	Elapsed time.Duration
}

// Display writes the statistics block to a writer, numerically or in
// human-readable form.
func (s *Stats) Display(writer io.Writer, humanReadable bool) {
	size := func(count uint64) string {
		if humanReadable {
			return humanize.IBytes(count)
		}
		return fmt.Sprintf("%d bytes", count)
	}
	fmt.Fprintf(writer, "Number of files: %d\n", s.ScannedFiles)
	fmt.Fprintf(writer, "Number of transferred files: %d\n", s.TransferredFiles)
	fmt.Fprintf(writer, "Number of deleted files: %d\n", s.DeletedFiles)
	fmt.Fprintf(writer, "Number of unchanged files: %d\n", s.UnchangedFiles)
	if s.FailedFiles > 0 {
		fmt.Fprintf(writer, "Number of failed files: %d\n", s.FailedFiles)
	}
	fmt.Fprintf(writer, "Total transferred file size: %s\n", size(s.TransferredBytes))
	fmt.Fprintf(writer, "Total deleted file size: %s\n", size(s.DeletedBytes))
	if seconds := s.Elapsed.Seconds(); seconds > 0 {
		fmt.Fprintf(writer, "Elapsed time: %.3f seconds\n", seconds)
		rate := uint64(float64(s.TransferredBytes) / seconds)
		if humanReadable {
			fmt.Fprintf(writer, "Transfer rate: %s/s\n", humanize.IBytes(rate))
		} else {
			fmt.Fprintf(writer, "Transfer rate: %d bytes/s\n", rate)
		}
	}
}
