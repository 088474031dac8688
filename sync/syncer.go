package sync

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/compress"
	"github.com/blocksync-io/blocksync/filesystem"
	"github.com/blocksync-io/blocksync/filter"
	"github.com/blocksync-io/blocksync/logging"
	"github.com/blocksync-io/blocksync/ratelimit"
	"github.com/blocksync-io/blocksync/rsync"
)

// Syncer drives one-way synchronization of a source tree onto a destination
// tree. It owns the session's filter engine and statistics and scopes the
// per-file rsync machinery.
type Syncer struct {
	// options is the driver configuration.
	options Options
	// filters gates every entry produced by the scanner.
	filters *filter.Engine
	// console is the message sink.
	console *console
	// compressor compresses literal payloads when compression is enabled.
	compressor *compress.Compressor
	// limiter throttles payload emission when a bandwidth cap is set.
	limiter *ratelimit.Limiter
}

// New creates a syncer from the specified options. Invalid option
// combinations and malformed filter patterns are rejected here, before any
// tree is scanned.
func New(options Options) (*Syncer, error) {
	// Normalize and validate the configuration.
	options.Apply()
	if err := options.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// Build the filter engine. Pattern errors are session-fatal.
	filters := filter.NewEngine()
	for _, pattern := range options.Exclude {
		if err := filters.AddExclude(pattern); err != nil {
			return nil, errors.Wrap(err, "invalid exclude pattern")
		}
	}
	for _, pattern := range options.Include {
		if err := filters.AddInclude(pattern); err != nil {
			return nil, errors.Wrap(err, "invalid include pattern")
		}
	}
	for _, path := range options.ExcludeFrom {
		if err := filters.AddExcludeFile(path); err != nil {
			return nil, errors.Wrap(err, "unable to load exclude file")
		}
	}
	for _, path := range options.IncludeFrom {
		if err := filters.AddIncludeFile(path); err != nil {
			return nil, errors.Wrap(err, "unable to load include file")
		}
	}

	// Create the syncer.
	syncer := &Syncer{
		options: options,
		filters: filters,
		console: newConsole(&options),
	}
	if options.Compress {
		syncer.compressor = compress.NewCompressor(options.CompressChoice)
	}
	if options.BandwidthLimit > 0 {
		syncer.limiter = ratelimit.NewLimiter(options.BandwidthLimit * 1024)
	}

	// Success.
	return syncer, nil
}

// entryMap is an ordered view of scanned entries keyed by relative path.
type entryMap struct {
	// order is the sorted relative path list.
	order []string
	// entries maps relative paths to their entries.
	entries map[string]filesystem.Entry
}

// Sync synchronizes the source tree onto the destination tree and returns
// the session statistics. File-level failures are logged and counted; only
// session-level failures surface as errors.
func (s *Syncer) Sync(source, destination string) (*Stats, error) {
	stats := &Stats{}
	started := time.Now()

	// Resolve paths.
	source, err := filepath.Abs(source)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve source path")
	}
	destination, err = filepath.Abs(destination)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve destination path")
	}
	s.console.Verbose("syncing %s to %s", source, destination)
	logging.Log().Info().Str("source", source).Str("destination", destination).Msg("sync started")
	if s.options.DryRun {
		s.console.Basic("dry run - no changes will be made")
	}

	// Scan the source tree.
	scanner := filesystem.NewScanner(s.options.Recursive, s.options.CopyLinks)
	sourceEntries, err := scanner.Scan(source)
	if err != nil {
		return nil, errors.Wrap(err, "unable to scan source")
	}

	// A file source synchronizes a single entry into the destination
	// directory; a directory source synchronizes its contents.
	sourceBase := source
	if len(sourceEntries) == 1 && sourceEntries[0].Path == source && !sourceEntries[0].IsDirectory() {
		sourceBase = filepath.Dir(source)
	}

	// Restrict to the files-from list if one was provided.
	if s.options.FilesFrom != "" {
		allowed, err := filesystem.ReadFilesFrom(s.options.FilesFrom)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read files-from list")
		}
		sourceEntries = restrictToList(sourceEntries, sourceBase, allowed)
	}

	// Build the filtered source view.
	sourceMap := s.buildEntryMap(sourceEntries, sourceBase)
	stats.ScannedFiles = uint64(len(sourceMap.order))
	s.console.Verbose("found %d entries in source", len(sourceMap.order))

	// A list-only session prints the view and stops.
	if s.options.ListOnly {
		s.list(sourceMap)
		stats.Elapsed = time.Since(started)
		return stats, nil
	}

	// Ensure the destination root exists.
	if !s.options.DryRun {
		if err := os.MkdirAll(destination, 0755); err != nil {
			return nil, errors.Wrap(err, "unable to create destination root")
		}
	}

	// Scan the destination tree. A missing or unreadable destination is
	// treated as empty.
	destEntries, _ := scanner.Scan(destination)
	destMap := s.buildEntryMap(destEntries, destination)

	// Delete extraneous entries up front for the before and during phases.
	phase := s.options.DeletePhase()
	if phase == DeleteBefore || phase == DeleteDuring {
		s.deleteExtraneous(sourceMap, destMap, destination, stats)
	}

	// Walk the source view in sorted path order.
	for _, relative := range sourceMap.order {
		entry := sourceMap.entries[relative]
		sourcePath := filepath.Join(sourceBase, filepath.FromSlash(relative))
		destPath := filepath.Join(destination, filepath.FromSlash(relative))

		switch {
		case entry.IsDirectory():
			s.syncDirectory(relative, destPath, stats)
		case entry.IsSymlink():
			s.syncSymlink(relative, entry, destPath, stats)
		default:
			s.syncFile(relative, entry, sourcePath, destPath, destMap, stats)
		}
	}

	// Delete extraneous entries last for the after phase.
	if phase == DeleteAfter {
		s.deleteExtraneous(sourceMap, destMap, destination, stats)
	}

	// Finalize statistics.
	stats.Elapsed = time.Since(started)
	logging.Log().Info().
		Uint64("transferred", stats.TransferredFiles).
		Uint64("deleted", stats.DeletedFiles).
		Uint64("unchanged", stats.UnchangedFiles).
		Dur("elapsed", stats.Elapsed).
		Msg("sync completed")

	// Success.
	return stats, nil
}

// syncDirectory ensures a destination directory exists.
func (s *Syncer) syncDirectory(relative, destPath string, stats *Stats) {
	if _, err := os.Lstat(destPath); err == nil {
		return
	}
	if s.options.DryRun {
		s.console.Basic("created directory %s", relative)
		return
	}
	if err := os.MkdirAll(destPath, 0755); err != nil {
		s.fileFailure(relative, errors.Wrap(err, "unable to create directory"), stats)
		return
	}
	s.console.Basic("created directory %s", relative)
}

// syncSymlink recreates a source symlink at the destination.
func (s *Syncer) syncSymlink(relative string, entry filesystem.Entry, destPath string, stats *Stats) {
	if !s.options.Links {
		s.console.Verbose("skipping non-regular file %s", relative)
		return
	}

	// An existing link with the right target is up to date.
	if target, err := os.Readlink(destPath); err == nil && target == entry.LinkTarget {
		stats.UnchangedFiles++
		return
	}

	s.console.Basic("%s -> %s", relative, entry.LinkTarget)
	if s.options.DryRun {
		stats.TransferredFiles++
		return
	}
	os.Remove(destPath)
	if err := os.Symlink(entry.LinkTarget, destPath); err != nil {
		s.fileFailure(relative, errors.Wrap(err, "unable to create symlink"), stats)
		return
	}
	stats.TransferredFiles++
	logging.Log().Info().Str("path", relative).Msg("symlink created")
}

// syncFile applies the per-file decision table and performs any required
// transfer.
func (s *Syncer) syncFile(relative string, entry filesystem.Entry, sourcePath, destPath string, destMap *entryMap, stats *Stats) {
	// Decide whether the file needs transferring.
	var destEntry *filesystem.Entry
	if existing, ok := destMap.entries[relative]; ok {
		destEntry = &existing
	}
	transfer, err := s.shouldTransfer(sourcePath, destPath, entry, destEntry)
	if err != nil {
		s.fileFailure(relative, err, stats)
		return
	}
	if !transfer {
		stats.UnchangedFiles++
		s.console.Verbose("skipping %s", relative)
		return
	}

	s.console.Basic("transferring %s", relative)
	if s.options.DryRun {
		stats.TransferredFiles++
		stats.TransferredBytes += entry.Size
		logging.Log().Info().Str("path", relative).Msg("dry run - would transfer")
		if s.options.RemoveSourceFiles {
			logging.Log().Info().Str("path", relative).Msg("dry run - would remove source")
		}
		return
	}

	// Perform the transfer.
	if err := s.transferFile(sourcePath, destPath, entry, destEntry); err != nil {
		s.fileFailure(relative, err, stats)
		return
	}

	// Carry the source modification time so that an unchanged re-run skips
	// the file.
	modTime := time.Unix(entry.ModTime, 0)
	if err := os.Chtimes(destPath, modTime, modTime); err != nil {
		s.console.Warning("unable to set times on %s: %v", relative, err)
	}

	stats.TransferredFiles++
	stats.TransferredBytes += entry.Size
	logging.Log().Info().Str("path", relative).Uint64("bytes", entry.Size).Msg("transferred")

	// Unlink the source if requested. Failures here are non-fatal.
	if s.options.RemoveSourceFiles {
		if err := os.Remove(sourcePath); err != nil {
			s.console.Warning("unable to remove source file %s: %v", relative, err)
			logging.Log().Warn().Str("path", relative).Err(err).Msg("source removal failed")
		} else {
			s.console.Verbose("removed source file %s", relative)
			logging.Log().Info().Str("path", relative).Msg("source removed")
		}
	}
}

// shouldTransfer implements the per-file decision table.
func (s *Syncer) shouldTransfer(sourcePath, destPath string, source filesystem.Entry, dest *filesystem.Entry) (bool, error) {
	// A missing destination always transfers.
	if dest == nil {
		return true, nil
	}

	// A newer destination wins under update.
	if s.options.Update && dest.ModTime > source.ModTime {
		return false, nil
	}

	// Size-only comparison.
	if s.options.SizeOnly {
		return source.Size != dest.Size, nil
	}

	// Full content comparison.
	if s.options.Checksum {
		sourceDigest, err := s.fileDigest(sourcePath)
		if err != nil {
			return false, errors.Wrap(err, "unable to digest source")
		}
		destDigest, err := s.fileDigest(destPath)
		if err != nil {
			return false, errors.Wrap(err, "unable to digest destination")
		}
		return !bytes.Equal(sourceDigest, destDigest), nil
	}

	// Quick check: size and modification time.
	return source.Size != dest.Size || source.ModTime != dest.ModTime, nil
}

// transferFile moves one file's contents to the destination, using whole
// file copies for new files and delta transfer otherwise.
func (s *Syncer) transferFile(sourcePath, destPath string, source filesystem.Entry, dest *filesystem.Entry) error {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.Wrap(err, "unable to create parent directory")
	}

	// Preserve the destination before overwriting if requested.
	if s.options.Backup && dest != nil {
		if err := s.backup(destPath); err != nil {
			return errors.Wrap(err, "unable to back up destination")
		}
	}

	// New destinations and whole-file mode use a plain copy.
	if s.options.WholeFile || dest == nil || !dest.IsFile() {
		copied, err := filesystem.CopyFile(sourcePath, destPath)
		if err != nil {
			return err
		}
		s.limiter.Throttle(int(copied))
		return nil
	}

	// Delta transfer: signature of the destination, delta of the source
	// against it, reconstruction over the destination.
	blockSize := rsync.OptimalBlockSize(source.Size)
	generator, err := rsync.NewGenerator(blockSize, s.options.ChecksumChoice)
	if err != nil {
		return err
	}
	signatures, err := generator.Signature(destPath)
	if err != nil {
		return errors.Wrap(err, "unable to generate signatures")
	}
	sender, err := rsync.NewSender(blockSize, s.options.ChecksumChoice, s.compressor, s.limiter)
	if err != nil {
		return err
	}
	delta, err := sender.Delta(sourcePath, signatures)
	if err != nil {
		return errors.Wrap(err, "unable to compute delta")
	}
	receiver, err := rsync.NewReceiver(blockSize, s.compressor, s.options.Placement(), s.options.PartialDir)
	if err != nil {
		return err
	}
	if err := receiver.Reconstruct(destPath, delta, destPath); err != nil {
		return errors.Wrap(err, "unable to reconstruct destination")
	}

	// Success.
	return nil
}

// backup copies a destination file to its backup location: a named file in
// the backup directory, or a suffixed sibling.
func (s *Syncer) backup(path string) error {
	var target string
	if s.options.BackupDir != "" {
		if err := os.MkdirAll(s.options.BackupDir, 0755); err != nil {
			return errors.Wrap(err, "unable to create backup directory")
		}
		target = filepath.Join(s.options.BackupDir, filepath.Base(path))
	} else {
		target = path + s.options.Suffix
	}
	if _, err := filesystem.CopyFile(path, target); err != nil {
		return err
	}
	s.console.Verbose("backed up %s to %s", path, target)
	return nil
}

// deleteExtraneous removes destination entries with no source counterpart.
// Entries beneath a deleted directory are counted but need no individual
// removal.
func (s *Syncer) deleteExtraneous(sourceMap, destMap *entryMap, destination string, stats *Stats) {
	var deletedDirs []string
	for _, relative := range destMap.order {
		if _, present := sourceMap.entries[relative]; present {
			continue
		}
		entry := destMap.entries[relative]

		// Check whether an ancestor was already removed.
		swallowed := false
		for _, dir := range deletedDirs {
			if strings.HasPrefix(relative, dir+"/") {
				swallowed = true
				break
			}
		}

		s.console.Basic("deleting %s", relative)
		if !s.options.DryRun && !swallowed {
			fullPath := filepath.Join(destination, filepath.FromSlash(relative))
			var err error
			if entry.IsDirectory() {
				err = os.RemoveAll(fullPath)
			} else {
				err = os.Remove(fullPath)
			}
			if err != nil {
				s.fileFailure(relative, errors.Wrap(err, "unable to delete"), stats)
				continue
			}
		}
		if entry.IsDirectory() {
			deletedDirs = append(deletedDirs, relative)
		}
		stats.DeletedFiles++
		stats.DeletedBytes += entry.Size
		if s.options.DryRun {
			logging.Log().Info().Str("path", relative).Msg("dry run - would delete")
		} else {
			logging.Log().Info().Str("path", relative).Msg("deleted")
		}
	}
}

// list prints the file list without synchronizing.
func (s *Syncer) list(entries *entryMap) {
	for _, relative := range entries.order {
		entry := entries.entries[relative]
		kind := "f"
		if entry.IsDirectory() {
			kind = "d"
		} else if entry.IsSymlink() {
			kind = "l"
		}
		s.console.Basic("%s %12d %s", kind, entry.Size, relative)
	}
}

// buildEntryMap converts scanned entries into a filtered, ordered relative
// view.
func (s *Syncer) buildEntryMap(entries []filesystem.Entry, base string) *entryMap {
	result := &entryMap{entries: make(map[string]filesystem.Entry, len(entries))}
	for _, entry := range entries {
		relative, ok := entry.Relative(base)
		if !ok {
			continue
		}
		if !s.filters.ShouldInclude(relative) {
			continue
		}
		result.entries[relative] = entry
		result.order = append(result.order, relative)
	}
	sort.Strings(result.order)
	return result
}

// fileDigest computes the configured strong digest of a file's contents.
func (s *Syncer) fileDigest(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer file.Close()
	hasher := s.options.ChecksumChoice.Factory()()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}
	return hasher.Sum(nil), nil
}

// fileFailure records a non-fatal per-file failure: one warning line, one
// log record, one counter bump.
func (s *Syncer) fileFailure(relative string, err error, stats *Stats) {
	stats.FailedFiles++
	s.console.Warning("%s: %v", relative, err)
	logging.Log().Warn().Str("path", relative).Err(err).Msg("file failed")
}

// restrictToList filters scanned entries to those whose relative paths
// appear in a files-from list. Directories along listed paths are retained
// so that parents get created.
func restrictToList(entries []filesystem.Entry, base string, allowed []string) []filesystem.Entry {
	allowedSet := make(map[string]bool, len(allowed))
	for _, path := range allowed {
		path = strings.Trim(path, "/")
		allowedSet[path] = true
		// Retain ancestor directories.
		for {
			slash := strings.LastIndex(path, "/")
			if slash < 0 {
				break
			}
			path = path[:slash]
			allowedSet[path] = true
		}
	}
	var result []filesystem.Entry
	for _, entry := range entries {
		relative, ok := entry.Relative(base)
		if !ok {
			continue
		}
		if allowedSet[relative] {
			result = append(result, entry)
		}
	}
	return result
}
