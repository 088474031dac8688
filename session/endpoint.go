// Package session runs synchronization sessions over a byte-stream
// transport. The serving side owns the source tree and computes deltas; the
// pulling side owns the destination tree, decides per-file actions, and
// reconstructs content. Transport establishment is the caller's concern -
// any reliable, ordered io.ReadWriter will do.
package session

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/blocksync-io/blocksync/compress"
	"github.com/blocksync-io/blocksync/filesystem"
	"github.com/blocksync-io/blocksync/multiplex"
	"github.com/blocksync-io/blocksync/protocol"
	"github.com/blocksync-io/blocksync/rsync"
	syncpkg "github.com/blocksync-io/blocksync/sync"
)

// Config parameterizes a session endpoint.
type Config struct {
	// Recursive descends into directories when scanning the source.
	Recursive bool
	// Delete removes destination entries absent from the source (pull side
	// only).
	Delete bool
	// Digest is the preferred strong digest algorithm.
	Digest rsync.Algorithm
	// Compress enables literal payload compression.
	Compress bool
	// CompressChoice selects the compression algorithm preference.
	CompressChoice compress.Algorithm
	// BandwidthLimit caps delta emission in KB/s (serve side only).
	BandwidthLimit int64
	// Seed is the checksum seed offered by the serving side.
	Seed int32
	// Messages receives out-of-band messages from the peer. It may be nil.
	Messages multiplex.MessageSink
}

// digestPreferences builds the digest preference list, preferred algorithm
// first.
func (c *Config) digestPreferences() []string {
	preferences := []string{"md5", "md4", "blake2b"}
	if c.Digest.IsDefault() {
		return preferences
	}
	name, _ := c.Digest.MarshalText()
	result := []string{string(name)}
	for _, p := range preferences {
		if p != string(name) {
			result = append(result, p)
		}
	}
	return result
}

// compressionPreferences builds the compression preference list. An
// endpoint that doesn't want compression offers only "none"; a serving
// endpoint accepts anything the pull side asks for.
func (c *Config) compressionPreferences(serving bool) []string {
	if serving {
		return []string{"none", "zstd", "lz4", "zlib"}
	}
	if !c.Compress {
		return []string{"none"}
	}
	choice := c.CompressChoice
	if choice.IsDefault() {
		choice = compress.AlgorithmZlib
	}
	name, _ := choice.MarshalText()
	return []string{string(name), "none"}
}

// negotiated resolves the session's digest algorithm and compressor from the
// handshake result.
func negotiated(session protocol.Session) (rsync.Algorithm, *compress.Compressor, error) {
	var digest rsync.Algorithm
	if err := digest.UnmarshalText([]byte(session.Digest)); err != nil {
		return 0, nil, errors.Wrap(err, "unusable digest negotiation result")
	}
	if !digest.Supported() {
		return 0, nil, errors.Errorf("negotiated digest is unsupported: %s", session.Digest)
	}
	if session.Compression == "" || session.Compression == "none" {
		return digest, nil, nil
	}
	var algorithm compress.Algorithm
	if err := algorithm.UnmarshalText([]byte(session.Compression)); err != nil {
		return 0, nil, errors.Wrap(err, "unusable compression negotiation result")
	}
	return digest, compress.NewCompressor(algorithm), nil
}

// Serve runs the source endpoint of a session: it scans root, transmits the
// file list, and answers per-file delta requests until the peer signals
// completion or the transport fails.
func Serve(stream io.ReadWriter, root string, config Config) error {
	// Negotiate the session on the raw stream.
	session, err := protocol.Handshake(
		stream, protocol.RoleServer, protocol.DefaultCompatFlags(), config.Seed,
		config.digestPreferences(), config.compressionPreferences(true))
	if err != nil {
		return errors.Wrap(err, "handshake failed")
	}
	digest, compressor, err := negotiated(session)
	if err != nil {
		return err
	}

	// The framer owns the transport from here on.
	reader := multiplex.NewReader(stream, config.Messages)
	writer := multiplex.NewWriter(stream)

	// Scan the source tree and transmit the file list in scan order.
	scanner := filesystem.NewScanner(config.Recursive, false)
	entries, err := scanner.Scan(root)
	if err != nil {
		return errors.Wrap(err, "unable to scan source")
	}
	list, err := transmitList(writer, session, entries, root)
	if err != nil {
		return err
	}

	// Construct the delta machinery.
	limiter := newLimiter(config.BandwidthLimit)

	// Answer delta requests until the peer is done.
	ndxState := protocol.NewNdxState()
	for {
		ndx, err := protocol.ReadNdx(reader, ndxState, session.Version)
		if err != nil {
			return errors.Wrap(err, "unable to read file index")
		}
		if ndx == protocol.NdxDone {
			return nil
		}
		if ndx < 0 || int(ndx) >= len(list) {
			return errors.Errorf("received invalid file index: %d", ndx)
		}
		entry := list[ndx]

		// Receive the peer's base signatures for this file.
		blockSize := rsync.OptimalBlockSize(uint64(entry.Size))
		signatures, err := receiveSignatures(reader, digest)
		if err != nil {
			return err
		}

		// Compute and transmit the delta. A source file that fails to read
		// is reported out of band and terminated with an empty delta so that
		// the peer can move on.
		sender, err := rsync.NewSender(blockSize, digest, compressor, limiter)
		if err != nil {
			return err
		}
		delta, err := sender.Delta(filepath.Join(root, filepath.FromSlash(entry.Name)), signatures)
		if err != nil {
			if err := writer.WriteMessage(multiplex.CodeWarning, err.Error()); err != nil {
				return errors.Wrap(err, "unable to report file failure")
			}
		}
		if err := transmitDelta(writer, delta); err != nil {
			return err
		}
	}
}

// Pull runs the destination endpoint of a session: it receives the file
// list, decides per-file actions against the local tree, requests deltas for
// outdated files, and reconstructs them atomically.
func Pull(stream io.ReadWriter, root string, config Config) (*syncpkg.Stats, error) {
	stats := &syncpkg.Stats{}
	started := time.Now()

	// Negotiate the session on the raw stream.
	session, err := protocol.Handshake(
		stream, protocol.RoleClient, protocol.DefaultCompatFlags(), 0,
		config.digestPreferences(), config.compressionPreferences(false))
	if err != nil {
		return nil, errors.Wrap(err, "handshake failed")
	}
	digest, compressor, err := negotiated(session)
	if err != nil {
		return nil, err
	}

	// The framer owns the transport from here on.
	reader := multiplex.NewReader(stream, config.Messages)
	writer := multiplex.NewWriter(stream)

	// Receive the file list to completion before any transfer begins.
	decoder := protocol.NewListDecoder(reader, session)
	var list []protocol.FileEntry
	for {
		entry, done, err := decoder.ReadEntry()
		if err != nil {
			return nil, errors.Wrap(err, "unable to receive file list")
		}
		if done {
			break
		}
		list = append(list, entry)
	}
	stats.ScannedFiles = uint64(len(list))

	// Ensure the destination root exists.
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create destination root")
	}

	// Process entries in list order.
	ndxState := protocol.NewNdxState()
	for index, entry := range list {
		localPath := filepath.Join(root, filepath.FromSlash(entry.Name))

		// Directories and symlinks need no content transfer.
		if entry.IsDirectory() {
			if err := os.MkdirAll(localPath, 0755); err != nil {
				return nil, errors.Wrapf(err, "unable to create directory %s", entry.Name)
			}
			continue
		}
		if entry.IsSymlink() {
			if target, err := os.Readlink(localPath); err == nil && target == entry.LinkTarget {
				stats.UnchangedFiles++
				continue
			}
			os.Remove(localPath)
			if err := os.Symlink(entry.LinkTarget, localPath); err != nil {
				return nil, errors.Wrapf(err, "unable to create symlink %s", entry.Name)
			}
			stats.TransferredFiles++
			continue
		}

		// Quick check against the local file.
		if info, err := os.Lstat(localPath); err == nil &&
			info.Mode().IsRegular() &&
			info.Size() == entry.Size &&
			info.ModTime().Unix() == entry.ModTime {
			stats.UnchangedFiles++
			continue
		}

		// Request a delta for this file, offering signatures of whatever
		// local content exists.
		if err := protocol.WriteNdx(writer, int32(index), ndxState, session.Version); err != nil {
			return nil, errors.Wrap(err, "unable to request file")
		}
		blockSize := rsync.OptimalBlockSize(uint64(entry.Size))
		generator, err := rsync.NewGenerator(blockSize, digest)
		if err != nil {
			return nil, err
		}
		var signatures []rsync.BlockSignature
		base := ""
		if info, err := os.Lstat(localPath); err == nil && info.Mode().IsRegular() {
			if computed, err := generator.Signature(localPath); err == nil {
				signatures = computed
				base = localPath
			}
		}
		if err := transmitSignatures(writer, signatures, digest); err != nil {
			return nil, err
		}

		// Receive and apply the delta.
		delta, err := receiveDelta(reader)
		if err != nil {
			return nil, err
		}
		receiver, err := rsync.NewReceiver(blockSize, compressor, rsync.PlacementAtomic, "")
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
			return nil, errors.Wrapf(err, "unable to create parent for %s", entry.Name)
		}
		if err := receiver.Reconstruct(base, delta, localPath); err != nil {
			return nil, errors.Wrapf(err, "unable to reconstruct %s", entry.Name)
		}
		modTime := time.Unix(entry.ModTime, 0)
		os.Chtimes(localPath, modTime, modTime)
		stats.TransferredFiles++
		stats.TransferredBytes += uint64(entry.Size)
	}

	// Signal completion.
	if err := protocol.WriteNdx(writer, protocol.NdxDone, ndxState, session.Version); err != nil {
		return nil, errors.Wrap(err, "unable to signal completion")
	}

	// Remove local entries absent from the received list.
	if config.Delete {
		deleteExtraneous(root, list, stats)
	}

	stats.Elapsed = time.Since(started)
	return stats, nil
}

// deleteExtraneous removes local entries that don't appear in the received
// file list.
func deleteExtraneous(root string, list []protocol.FileEntry, stats *syncpkg.Stats) {
	expected := make(map[string]bool, len(list))
	for _, entry := range list {
		expected[entry.Name] = true
	}
	scanner := filesystem.NewScanner(true, false)
	entries, err := scanner.Scan(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		relative, ok := entry.Relative(root)
		if !ok || expected[relative] {
			continue
		}
		fullPath := filepath.Join(root, filepath.FromSlash(relative))
		if entry.IsDirectory() {
			if err := os.RemoveAll(fullPath); err != nil {
				continue
			}
		} else if err := os.Remove(fullPath); err != nil {
			continue
		}
		stats.DeletedFiles++
		stats.DeletedBytes += entry.Size
	}
}
