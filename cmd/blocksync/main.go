package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/blocksync-io/blocksync/logging"
	syncpkg "github.com/blocksync-io/blocksync/sync"
)

// fatal prints an error message to standard error and terminates the process
// with an error exit code.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	os.Exit(1)
}

var rootConfiguration struct {
	verbose           int
	quiet             bool
	archive           bool
	recursive         bool
	links             bool
	copyLinks         bool
	update            bool
	checksum          bool
	sizeOnly          bool
	wholeFile         bool
	inplace           bool
	partial           bool
	partialDir        string
	backup            bool
	backupDir         string
	suffix            string
	delete            bool
	deleteBefore      bool
	deleteDuring      bool
	deleteAfter       bool
	removeSourceFiles bool
	exclude           []string
	include           []string
	excludeFrom       []string
	includeFrom       []string
	filesFrom         string
	compressFlag      bool
	compressChoice    string
	bwlimit           int64
	checksumChoice    string
	dryRun            bool
	listOnly          bool
	stats             bool
	humanReadable     bool
	logFile           string
}

// buildOptions converts parsed flags into driver options. Flag values that
// fail to parse are startup-fatal.
func buildOptions() (syncpkg.Options, error) {
	options := syncpkg.Options{
		Verbose:           rootConfiguration.verbose,
		Quiet:             rootConfiguration.quiet,
		Archive:           rootConfiguration.archive,
		Recursive:         rootConfiguration.recursive,
		Links:             rootConfiguration.links,
		CopyLinks:         rootConfiguration.copyLinks,
		Update:            rootConfiguration.update,
		Checksum:          rootConfiguration.checksum,
		SizeOnly:          rootConfiguration.sizeOnly,
		WholeFile:         rootConfiguration.wholeFile,
		InPlace:           rootConfiguration.inplace,
		Partial:           rootConfiguration.partial,
		PartialDir:        rootConfiguration.partialDir,
		Backup:            rootConfiguration.backup,
		BackupDir:         rootConfiguration.backupDir,
		Suffix:            rootConfiguration.suffix,
		Delete:            rootConfiguration.delete,
		DeleteBefore:      rootConfiguration.deleteBefore,
		DeleteDuring:      rootConfiguration.deleteDuring,
		DeleteAfter:       rootConfiguration.deleteAfter,
		RemoveSourceFiles: rootConfiguration.removeSourceFiles,
		Exclude:           rootConfiguration.exclude,
		Include:           rootConfiguration.include,
		ExcludeFrom:       rootConfiguration.excludeFrom,
		IncludeFrom:       rootConfiguration.includeFrom,
		FilesFrom:         rootConfiguration.filesFrom,
		Compress:          rootConfiguration.compressFlag,
		BandwidthLimit:    rootConfiguration.bwlimit,
		DryRun:            rootConfiguration.dryRun,
		ListOnly:          rootConfiguration.listOnly,
		Stats:             rootConfiguration.stats,
		HumanReadable:     rootConfiguration.humanReadable,
		LogFile:           rootConfiguration.logFile,
	}
	if rootConfiguration.compressChoice != "" {
		if err := options.CompressChoice.UnmarshalText([]byte(rootConfiguration.compressChoice)); err != nil {
			return options, err
		}
	}
	if rootConfiguration.checksumChoice != "" {
		if err := options.ChecksumChoice.UnmarshalText([]byte(rootConfiguration.checksumChoice)); err != nil {
			return options, err
		}
	}
	return options, nil
}

func rootMain(command *cobra.Command, arguments []string) error {
	// A synchronization needs at least one source and a destination.
	if len(arguments) < 2 {
		command.Help()
		return errors.New("source and destination required")
	}
	sources := arguments[:len(arguments)-1]
	destination := arguments[len(arguments)-1]

	// Convert flags to driver options.
	options, err := buildOptions()
	if err != nil {
		return errors.Wrap(err, "invalid option value")
	}

	// Initialize the operation log if requested.
	if options.LogFile != "" {
		if err := logging.Init(options.LogFile); err != nil {
			return errors.Wrap(err, "unable to initialize log file")
		}
	}

	// Create the driver. Bad option combinations and malformed filter
	// patterns fail here.
	syncer, err := syncpkg.New(options)
	if err != nil {
		return err
	}

	// Synchronize each source into the destination.
	var failures uint64
	for _, source := range sources {
		stats, err := syncer.Sync(source, destination)
		if err != nil {
			return errors.Wrapf(err, "unable to synchronize %s", source)
		}
		failures += stats.FailedFiles
		if options.Stats {
			stats.Display(os.Stdout, options.HumanReadable)
		}
	}

	// Per-file failures don't abort the run, but they do fail it.
	if failures > 0 {
		return errors.Errorf("%d file(s) could not be transferred", failures)
	}

	// Success.
	return nil
}

var rootCommand = &cobra.Command{
	Use:   "blocksync [flags] SOURCE... DESTINATION",
	Short: "blocksync transfers file trees using block-level delta encoding.",
	Run: func(command *cobra.Command, arguments []string) {
		if err := rootMain(command, arguments); err != nil {
			fatal(err)
		}
	},
	DisableFlagsInUseLine: true,
}

func init() {
	flags := rootCommand.Flags()
	flags.CountVarP(&rootConfiguration.verbose, "verbose", "v", "Increase verbosity")
	flags.BoolVarP(&rootConfiguration.quiet, "quiet", "q", false, "Suppress non-error output")
	flags.BoolVarP(&rootConfiguration.archive, "archive", "a", false, "Archive mode (implies --recursive and --links)")
	flags.BoolVarP(&rootConfiguration.recursive, "recursive", "r", false, "Recurse into directories")
	flags.BoolVarP(&rootConfiguration.links, "links", "l", false, "Recreate symlinks at the destination")
	flags.BoolVarP(&rootConfiguration.copyLinks, "copy-links", "L", false, "Transform symlinks into their referents")
	flags.BoolVarP(&rootConfiguration.update, "update", "u", false, "Skip files that are newer at the destination")
	flags.BoolVarP(&rootConfiguration.checksum, "checksum", "c", false, "Compare files by strong digest")
	flags.BoolVar(&rootConfiguration.sizeOnly, "size-only", false, "Compare files by size alone")
	flags.BoolVarP(&rootConfiguration.wholeFile, "whole-file", "W", false, "Copy whole files without delta transfer")
	flags.BoolVar(&rootConfiguration.inplace, "inplace", false, "Update destination files in place")
	flags.BoolVar(&rootConfiguration.partial, "partial", false, "Keep partially transferred files")
	flags.StringVar(&rootConfiguration.partialDir, "partial-dir", "", "Put partially transferred files into DIR")
	flags.BoolVarP(&rootConfiguration.backup, "backup", "b", false, "Back up destination files before overwriting")
	flags.StringVar(&rootConfiguration.backupDir, "backup-dir", "", "Put backups into DIR")
	flags.StringVar(&rootConfiguration.suffix, "suffix", "", "Backup suffix (default \"~\")")
	flags.BoolVar(&rootConfiguration.delete, "delete", false, "Delete extraneous destination files")
	flags.BoolVar(&rootConfiguration.deleteBefore, "delete-before", false, "Delete before transferring")
	flags.BoolVar(&rootConfiguration.deleteDuring, "delete-during", false, "Delete in one pass ahead of transfers (same as --delete-before)")
	flags.BoolVar(&rootConfiguration.deleteAfter, "delete-after", false, "Delete after transferring")
	flags.BoolVar(&rootConfiguration.removeSourceFiles, "remove-source-files", false, "Remove source files after transfer")
	flags.StringArrayVar(&rootConfiguration.exclude, "exclude", nil, "Exclude entries matching PATTERN")
	flags.StringArrayVar(&rootConfiguration.include, "include", nil, "Include entries matching PATTERN")
	flags.StringArrayVar(&rootConfiguration.excludeFrom, "exclude-from", nil, "Read exclude patterns from FILE")
	flags.StringArrayVar(&rootConfiguration.includeFrom, "include-from", nil, "Read include patterns from FILE")
	flags.StringVar(&rootConfiguration.filesFrom, "files-from", "", "Read the transfer list from FILE")
	flags.BoolVarP(&rootConfiguration.compressFlag, "compress", "z", false, "Compress literal data during transfer")
	flags.StringVar(&rootConfiguration.compressChoice, "compress-choice", "", "Compression algorithm (zstd, lz4, zlib)")
	flags.Int64Var(&rootConfiguration.bwlimit, "bwlimit", 0, "Limit bandwidth in KB/s")
	flags.StringVar(&rootConfiguration.checksumChoice, "checksum-choice", "", "Digest algorithm (md4, md5, blake2b)")
	flags.BoolVarP(&rootConfiguration.dryRun, "dry-run", "n", false, "Show what would be done without doing it")
	flags.BoolVar(&rootConfiguration.listOnly, "list-only", false, "List files instead of transferring them")
	flags.BoolVar(&rootConfiguration.stats, "stats", false, "Print transfer statistics")
	flags.BoolVar(&rootConfiguration.humanReadable, "human-readable", false, "Print sizes in human-readable form")
	flags.StringVar(&rootConfiguration.logFile, "log-file", "", "Append operation records to FILE")
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fatal(err)
	}
}
