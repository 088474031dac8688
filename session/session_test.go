package session

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blocksync-io/blocksync/compress"
	"github.com/blocksync-io/blocksync/rsync"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal("unable to create directory:", err)
		}
		if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
			t.Fatal("unable to write file:", err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	result := make(map[string]string)
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			t.Fatal("unable to read file:", err)
		}
		result[filepath.ToSlash(relative)] = string(contents)
		return nil
	})
	return result
}

// runSession wires a serving endpoint and a pulling endpoint together over
// an in-memory connection.
func runSession(t *testing.T, sourceRoot, destRoot string, serveConfig, pullConfig Config) error {
	t.Helper()
	serveStream, pullStream := net.Pipe()
	defer serveStream.Close()
	defer pullStream.Close()

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- Serve(serveStream, sourceRoot, serveConfig)
	}()
	_, pullErr := Pull(pullStream, destRoot, pullConfig)
	if pullErr != nil {
		return pullErr
	}

	select {
	case err := <-serveErrors:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("serving endpoint did not terminate")
		return nil
	}
}

func TestSessionTransfersTree(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	files := map[string]string{
		"a.txt":       "alpha contents",
		"sub/b.txt":   "beta contents",
		"sub/c.empty": "",
	}
	writeTree(t, source, files)

	serveConfig := Config{Recursive: true, Seed: 42}
	pullConfig := Config{Recursive: true}
	if err := runSession(t, source, destination, serveConfig, pullConfig); err != nil {
		t.Fatal("session failed:", err)
	}

	result := readTree(t, destination)
	if len(result) != len(files) {
		t.Fatalf("destination has %d files, expected %d: %v", len(result), len(files), result)
	}
	for name, contents := range files {
		if result[name] != contents {
			t.Errorf("%s: expected %q, got %q", name, contents, result[name])
		}
	}
}

func TestSessionSkipsUnchangedAndUpdatesChanged(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{
		"same.txt":    "identical",
		"changed.txt": "AAAAAABBBBBBCCCCCC",
	})
	writeTree(t, destination, map[string]string{
		"same.txt":    "identical",
		"changed.txt": "AAAAAADDDDDDCCCCCC",
	})

	// Align the unchanged file's time with the source so the quick check
	// skips it; skew the changed file's.
	if info, err := os.Stat(filepath.Join(source, "same.txt")); err == nil {
		os.Chtimes(filepath.Join(destination, "same.txt"), info.ModTime(), info.ModTime())
	}
	past := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(destination, "changed.txt"), past, past)

	serveStream, pullStream := net.Pipe()
	defer serveStream.Close()
	defer pullStream.Close()
	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- Serve(serveStream, source, Config{Recursive: true})
	}()
	stats, err := Pull(pullStream, destination, Config{Recursive: true})
	if err != nil {
		t.Fatal("pull failed:", err)
	}
	if err := <-serveErrors; err != nil {
		t.Fatal("serve failed:", err)
	}

	if stats.UnchangedFiles != 1 {
		t.Errorf("expected 1 unchanged file, got %d", stats.UnchangedFiles)
	}
	if stats.TransferredFiles != 1 {
		t.Errorf("expected 1 transferred file, got %d", stats.TransferredFiles)
	}
	if result := readTree(t, destination)["changed.txt"]; result != "AAAAAABBBBBBCCCCCC" {
		t.Errorf("changed file incorrect: %q", result)
	}
}

func TestSessionWithCompression(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{
		"compressible.txt": string(make([]byte, 100000)),
	})

	serveConfig := Config{Recursive: true}
	pullConfig := Config{
		Recursive:      true,
		Compress:       true,
		CompressChoice: compress.AlgorithmZstd,
	}
	if err := runSession(t, source, destination, serveConfig, pullConfig); err != nil {
		t.Fatal("session failed:", err)
	}
	result := readTree(t, destination)
	if len(result["compressible.txt"]) != 100000 {
		t.Errorf("compressed transfer corrupted contents: %d bytes", len(result["compressible.txt"]))
	}
}

func TestSessionWithDigestPreference(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"a.txt": "digest test"})

	serveConfig := Config{Recursive: true}
	pullConfig := Config{Recursive: true, Digest: rsync.AlgorithmBLAKE2b}
	if err := runSession(t, source, destination, serveConfig, pullConfig); err != nil {
		t.Fatal("session failed:", err)
	}
	if result := readTree(t, destination)["a.txt"]; result != "digest test" {
		t.Errorf("contents incorrect: %q", result)
	}
}

func TestSessionDelete(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"keep.txt": "keep"})
	writeTree(t, destination, map[string]string{"keep.txt": "keep", "extra.txt": "extra"})

	serveConfig := Config{Recursive: true}
	pullConfig := Config{Recursive: true, Delete: true}
	if err := runSession(t, source, destination, serveConfig, pullConfig); err != nil {
		t.Fatal("session failed:", err)
	}
	result := readTree(t, destination)
	if len(result) != 1 || result["keep.txt"] != "keep" {
		t.Errorf("deletion incorrect: %v", result)
	}
}
