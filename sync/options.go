// Package sync implements the top-level synchronization driver: per-entry
// decisions, transfers, delete phases, backups, and statistics.
package sync

import (
	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/compress"
	"github.com/blocksync-io/blocksync/rsync"
)

// DeletePhase positions deletions relative to transfers.
type DeletePhase uint8

const (
	// DeleteNone disables deletion of extraneous destination entries.
	DeleteNone DeletePhase = iota
	// DeleteBefore deletes extraneous entries before any transfer.
	DeleteBefore
	// DeleteDuring deletes extraneous entries in the same pass as
	// DeleteBefore, ahead of all transfers; deletions are not interleaved
	// with the transfers directory by directory.
	DeleteDuring
	// DeleteAfter deletes extraneous entries after all transfers.
	DeleteAfter
)

// Options is the driver configuration. The zero value is a usable
// non-recursive, transfer-only configuration.
type Options struct {
	// Recursive descends into directories.
	Recursive bool
	// Archive implies Recursive and Links.
	Archive bool
	// Links recreates symlinks at the destination.
	Links bool
	// CopyLinks resolves symlinks to their referents while scanning.
	CopyLinks bool
	// Update skips files whose destination is newer than the source.
	Update bool
	// Checksum compares files by strong digest instead of size and time.
	Checksum bool
	// SizeOnly compares files by size alone.
	SizeOnly bool
	// WholeFile disables delta transfer and copies full contents.
	WholeFile bool
	// InPlace updates destination files in place.
	InPlace bool
	// Partial retains partially transferred files.
	Partial bool
	// PartialDir holds partial files when Partial is set.
	PartialDir string
	// Backup preserves overwritten destination files.
	Backup bool
	// BackupDir receives backups; when empty, backups are siblings named
	// with Suffix.
	BackupDir string
	// Suffix is the backup suffix for sibling backups.
	Suffix string
	// Delete removes destination entries absent from the source.
	Delete bool
	// DeleteBefore, DeleteDuring, and DeleteAfter pin the delete phase.
	DeleteBefore bool
	DeleteDuring bool
	DeleteAfter  bool
	// RemoveSourceFiles unlinks source files after transferring them.
	RemoveSourceFiles bool
	// Exclude and Include are ordered filter patterns.
	Exclude []string
	Include []string
	// ExcludeFrom and IncludeFrom name filter rule files.
	ExcludeFrom []string
	IncludeFrom []string
	// FilesFrom restricts the transfer to paths listed in a file.
	FilesFrom string
	// Compress enables payload compression for literal data.
	Compress bool
	// CompressChoice selects the compression algorithm.
	CompressChoice compress.Algorithm
	// BandwidthLimit caps outbound payload bandwidth in KB/s.
	BandwidthLimit int64
	// ChecksumChoice selects the strong digest algorithm.
	ChecksumChoice rsync.Algorithm
	// DryRun suppresses all filesystem mutation.
	DryRun bool
	// ListOnly prints the file list instead of synchronizing.
	ListOnly bool
	// Quiet mutes non-error console output.
	Quiet bool
	// Verbose raises console chattiness.
	Verbose int
	// LogFile appends operation records to a file.
	LogFile string
	// Stats prints the statistics block after the run.
	Stats bool
	// HumanReadable formats byte counts for humans.
	HumanReadable bool
}

// DefaultSuffix is the sibling backup suffix used when none is configured.
const DefaultSuffix = "~"

// Apply normalizes implied options.
func (o *Options) Apply() {
	if o.Archive {
		o.Recursive = true
		o.Links = true
	}
	if o.BackupDir != "" {
		o.Backup = true
	}
	if o.PartialDir != "" {
		o.Partial = true
	}
	if o.Suffix == "" {
		o.Suffix = DefaultSuffix
	}
}

// Validate rejects option combinations that can't be honored. Validation
// failures are fatal at startup.
func (o *Options) Validate() error {
	phases := 0
	for _, set := range []bool{o.DeleteBefore, o.DeleteDuring, o.DeleteAfter} {
		if set {
			phases++
		}
	}
	if phases > 1 {
		return errors.New("only one delete phase may be specified")
	}
	if o.InPlace && o.Partial {
		return errors.New("inplace and partial placement are mutually exclusive")
	}
	if !o.Compress && !o.CompressChoice.IsDefault() {
		return errors.New("compression algorithm specified without compression enabled")
	}
	if !o.ChecksumChoice.Supported() {
		return errors.Errorf("unsupported digest algorithm: %s", o.ChecksumChoice.Description())
	}
	if o.BandwidthLimit < 0 {
		return errors.New("negative bandwidth limit")
	}
	return nil
}

// DeletePhase resolves the effective delete phase.
func (o *Options) DeletePhase() DeletePhase {
	if !o.Delete && !o.DeleteBefore && !o.DeleteDuring && !o.DeleteAfter {
		return DeleteNone
	}
	if o.DeleteBefore {
		return DeleteBefore
	} else if o.DeleteDuring {
		return DeleteDuring
	}
	return DeleteAfter
}

// Placement resolves the receiver placement mode.
func (o *Options) Placement() rsync.PlacementMode {
	if o.InPlace {
		return rsync.PlacementInPlace
	} else if o.Partial {
		return rsync.PlacementPartial
	}
	return rsync.PlacementAtomic
}
