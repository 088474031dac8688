package sync

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTree materializes a map of relative paths to contents beneath root.
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

// readTree reads all regular files beneath root as a map of relative paths
// to contents.
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

func newTestSyncer(t *testing.T, options Options) *Syncer {
	t.Helper()
	options.Quiet = true
	syncer, err := New(options)
	if err != nil {
		t.Fatal("unable to create syncer:", err)
	}
	return syncer
}

func TestSyncNewDirectory(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{
		"file1.txt":     "content1",
		"sub/file2.txt": "content2",
	})

	syncer := newTestSyncer(t, Options{Recursive: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.TransferredFiles != 2 {
		t.Errorf("expected 2 transferred files, got %d", stats.TransferredFiles)
	}
	expected := map[string]string{"file1.txt": "content1", "sub/file2.txt": "content2"}
	if result := readTree(t, destination); len(result) != len(expected) {
		t.Errorf("destination tree incorrect: %v", result)
	} else {
		for name, contents := range expected {
			if result[name] != contents {
				t.Errorf("%s: expected %q, got %q", name, contents, result[name])
			}
		}
	}
}

func TestSyncIdempotent(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	syncer := newTestSyncer(t, Options{Recursive: true})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}

	// A second run over unchanged inputs must transfer nothing.
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to re-sync:", err)
	}
	if stats.TransferredFiles != 0 {
		t.Errorf("second run transferred %d files", stats.TransferredFiles)
	}
	if stats.UnchangedFiles != 2 {
		t.Errorf("second run reported %d unchanged files, expected 2", stats.UnchangedFiles)
	}
}

func TestSyncUpdatesChangedFile(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"data.bin": "AAAAAABBBBBBCCCCCC"})
	writeTree(t, destination, map[string]string{"data.bin": "AAAAAADDDDDDCCCCCC"})

	// Make the destination visibly older so the quick check fires.
	past := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(destination, "data.bin"), past, past)

	syncer := newTestSyncer(t, Options{Recursive: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.TransferredFiles != 1 {
		t.Errorf("expected 1 transferred file, got %d", stats.TransferredFiles)
	}
	if result := readTree(t, destination)["data.bin"]; result != "AAAAAABBBBBBCCCCCC" {
		t.Errorf("destination contents incorrect: %q", result)
	}
}

func TestSyncDeleteAfter(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"f1.txt": "c1"})
	writeTree(t, destination, map[string]string{"f1.txt": "c1", "f2.txt": "extra"})

	// Align times so f1 is seen as unchanged.
	if info, err := os.Stat(filepath.Join(source, "f1.txt")); err == nil {
		os.Chtimes(filepath.Join(destination, "f1.txt"), info.ModTime(), info.ModTime())
	}

	syncer := newTestSyncer(t, Options{Recursive: true, Delete: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.DeletedFiles != 1 {
		t.Errorf("expected 1 deleted file, got %d", stats.DeletedFiles)
	}
	result := readTree(t, destination)
	if len(result) != 1 || result["f1.txt"] != "c1" {
		t.Errorf("destination tree incorrect: %v", result)
	}
}

func TestSyncDeleteDryRun(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"f1.txt": "c1"})
	writeTree(t, destination, map[string]string{"f1.txt": "c1", "f2.txt": "extra"})

	syncer := newTestSyncer(t, Options{Recursive: true, Delete: true, DryRun: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}

	// The dry run must count the deletion without performing it.
	if stats.DeletedFiles != 1 {
		t.Errorf("dry run reported %d deletions, expected 1", stats.DeletedFiles)
	}
	result := readTree(t, destination)
	if len(result) != 2 || result["f2.txt"] != "extra" {
		t.Errorf("dry run modified the destination: %v", result)
	}
}

func TestSyncDryRunTransfers(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "content"})

	syncer := newTestSyncer(t, Options{Recursive: true, DryRun: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.TransferredFiles != 1 {
		t.Errorf("dry run reported %d transfers, expected 1", stats.TransferredFiles)
	}
	if _, err := os.Lstat(filepath.Join(destination, "file.txt")); !os.IsNotExist(err) {
		t.Error("dry run created destination content")
	}
}

func TestSyncSizeOnlySkips(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "same-size-a"})
	writeTree(t, destination, map[string]string{"file.txt": "same-size-b"})

	syncer := newTestSyncer(t, Options{Recursive: true, SizeOnly: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.UnchangedFiles != 1 || stats.TransferredFiles != 0 {
		t.Errorf("size-only comparison failed: %+v", stats)
	}
}

func TestSyncChecksumDetectsDifference(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "same-size-a"})
	writeTree(t, destination, map[string]string{"file.txt": "same-size-b"})

	// Equalize metadata so only the digest can tell them apart.
	if info, err := os.Stat(filepath.Join(source, "file.txt")); err == nil {
		os.Chtimes(filepath.Join(destination, "file.txt"), info.ModTime(), info.ModTime())
	}

	syncer := newTestSyncer(t, Options{Recursive: true, Checksum: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.TransferredFiles != 1 {
		t.Errorf("checksum comparison missed a difference: %+v", stats)
	}
	if result := readTree(t, destination)["file.txt"]; result != "same-size-a" {
		t.Errorf("destination contents incorrect: %q", result)
	}
}

func TestSyncUpdateSkipsNewerDestination(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "older"})
	writeTree(t, destination, map[string]string{"file.txt": "newer-content"})

	past := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(source, "file.txt"), past, past)

	syncer := newTestSyncer(t, Options{Recursive: true, Update: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.TransferredFiles != 0 {
		t.Error("update mode overwrote a newer destination")
	}
	if result := readTree(t, destination)["file.txt"]; result != "newer-content" {
		t.Errorf("destination contents incorrect: %q", result)
	}
}

func TestSyncExcludeFilter(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{
		"keep.txt":     "keep",
		"skip.log":     "skip",
		"sub/also.log": "skip",
	})

	syncer := newTestSyncer(t, Options{Recursive: true, Exclude: []string{"*.log"}})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}
	result := readTree(t, destination)
	if len(result) != 1 || result["keep.txt"] != "keep" {
		t.Errorf("filtering incorrect: %v", result)
	}
}

func TestSyncBackup(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "new contents"})
	writeTree(t, destination, map[string]string{"file.txt": "old contents"})

	past := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(destination, "file.txt"), past, past)

	syncer := newTestSyncer(t, Options{Recursive: true, Backup: true})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}
	result := readTree(t, destination)
	if result["file.txt"] != "new contents" {
		t.Errorf("destination not updated: %q", result["file.txt"])
	}
	if result["file.txt~"] != "old contents" {
		t.Errorf("backup missing or incorrect: %q", result["file.txt~"])
	}
}

func TestSyncBackupDir(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	backups := filepath.Join(directory, "backups")
	writeTree(t, source, map[string]string{"file.txt": "new contents"})
	writeTree(t, destination, map[string]string{"file.txt": "old contents"})

	past := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(destination, "file.txt"), past, past)

	syncer := newTestSyncer(t, Options{Recursive: true, BackupDir: backups})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}
	contents, err := os.ReadFile(filepath.Join(backups, "file.txt"))
	if err != nil {
		t.Fatal("backup missing:", err)
	}
	if !bytes.Equal(contents, []byte("old contents")) {
		t.Errorf("backup contents incorrect: %q", contents)
	}
}

func TestSyncRemoveSourceFiles(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "content"})

	syncer := newTestSyncer(t, Options{Recursive: true, RemoveSourceFiles: true})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}
	if _, err := os.Lstat(filepath.Join(source, "file.txt")); !os.IsNotExist(err) {
		t.Error("source file was not removed")
	}
	if result := readTree(t, destination)["file.txt"]; result != "content" {
		t.Errorf("destination contents incorrect: %q", result)
	}
}

func TestSyncFilesFrom(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{
		"wanted.txt":     "yes",
		"unwanted.txt":   "no",
		"sub/wanted.txt": "yes",
	})
	listPath := filepath.Join(directory, "list")
	if err := os.WriteFile(listPath, []byte("wanted.txt\nsub/wanted.txt\n"), 0600); err != nil {
		t.Fatal("unable to write list:", err)
	}

	syncer := newTestSyncer(t, Options{Recursive: true, FilesFrom: listPath})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}
	result := readTree(t, destination)
	if len(result) != 2 || result["wanted.txt"] != "yes" || result["sub/wanted.txt"] != "yes" {
		t.Errorf("files-from restriction incorrect: %v", result)
	}
}

func TestSyncListOnly(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	writeTree(t, source, map[string]string{"file.txt": "content"})

	syncer := newTestSyncer(t, Options{Recursive: true, ListOnly: true})
	stats, err := syncer.Sync(source, destination)
	if err != nil {
		t.Fatal("unable to sync:", err)
	}
	if stats.ScannedFiles != 1 {
		t.Errorf("list-only scanned %d files, expected 1", stats.ScannedFiles)
	}
	if _, err := os.Lstat(destination); !os.IsNotExist(err) {
		t.Error("list-only created the destination")
	}
}

func TestSyncSingleFileSource(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "lonely.txt")
	destination := filepath.Join(directory, "destination")
	if err := os.WriteFile(source, []byte("single"), 0600); err != nil {
		t.Fatal("unable to write source:", err)
	}

	syncer := newTestSyncer(t, Options{})
	if _, err := syncer.Sync(source, destination); err != nil {
		t.Fatal("unable to sync:", err)
	}
	if result := readTree(t, destination)["lonely.txt"]; result != "single" {
		t.Errorf("single-file sync incorrect: %q", result)
	}
}

func TestSyncInvalidPatternIsFatal(t *testing.T) {
	if _, err := New(Options{Exclude: []string{"bad["}}); err == nil {
		t.Error("malformed pattern did not fail startup")
	}
}

func TestOptionsValidation(t *testing.T) {
	invalid := []Options{
		{DeleteBefore: true, DeleteAfter: true},
		{InPlace: true, Partial: true},
		{CompressChoice: 1},
		{BandwidthLimit: -1},
	}
	for i, options := range invalid {
		options.Apply()
		if err := options.Validate(); err == nil {
			t.Errorf("invalid option set %d passed validation", i)
		}
	}

	valid := Options{Archive: true}
	valid.Apply()
	if err := valid.Validate(); err != nil {
		t.Error("archive options failed validation:", err)
	}
	if !valid.Recursive || !valid.Links {
		t.Error("archive did not imply recursion and links")
	}
}

func TestDeletePhaseResolution(t *testing.T) {
	testCases := []struct {
		options  Options
		expected DeletePhase
	}{
		{Options{}, DeleteNone},
		{Options{Delete: true}, DeleteAfter},
		{Options{DeleteBefore: true}, DeleteBefore},
		{Options{DeleteDuring: true}, DeleteDuring},
		{Options{Delete: true, DeleteAfter: true}, DeleteAfter},
	}
	for i, testCase := range testCases {
		if phase := testCase.options.DeletePhase(); phase != testCase.expected {
			t.Errorf("case %d: expected phase %d, got %d", i, testCase.expected, phase)
		}
	}
}
