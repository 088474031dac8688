package filesystem

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestBufferSizeTiers(t *testing.T) {
	testCases := []struct {
		fileSize uint64
		expected int
	}{
		{0, 4 * 1024},
		{63 * 1024, 4 * 1024},
		{64 * 1024, 64 * 1024},
		{1024*1024 - 1, 64 * 1024},
		{1024 * 1024, 256 * 1024},
		{10 * 1024 * 1024, 512 * 1024},
		{100 * 1024 * 1024, 1024 * 1024},
		{1 << 40, 1024 * 1024},
	}
	for _, testCase := range testCases {
		if result := BufferSize(testCase.fileSize); result != testCase.expected {
			t.Errorf("buffer size for %d: expected %d, got %d",
				testCase.fileSize, testCase.expected, result)
		}
	}
}

func TestBufferSizeForMissingFile(t *testing.T) {
	if result := BufferSizeFor(filepath.Join(t.TempDir(), "missing")); result != 64*1024 {
		t.Errorf("missing file should use the default buffer size, got %d", result)
	}
}

func TestScanSingleFile(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "test.txt")
	if err := os.WriteFile(path, []byte("test content"), 0600); err != nil {
		t.Fatal("unable to write file:", err)
	}

	entries, err := NewScanner(true, false).Scan(path)
	if err != nil {
		t.Fatal("unable to scan:", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].IsFile() || entries[0].Size != 12 {
		t.Error("file entry metadata incorrect")
	}
}

func TestScanShallow(t *testing.T) {
	directory := t.TempDir()
	if err := os.WriteFile(filepath.Join(directory, "file1.txt"), []byte("content1"), 0600); err != nil {
		t.Fatal("unable to write file:", err)
	}
	if err := os.WriteFile(filepath.Join(directory, "file2.txt"), []byte("content2"), 0600); err != nil {
		t.Fatal("unable to write file:", err)
	}
	if err := os.Mkdir(filepath.Join(directory, "subdir"), 0700); err != nil {
		t.Fatal("unable to create directory:", err)
	}
	if err := os.WriteFile(filepath.Join(directory, "subdir", "nested.txt"), []byte("nested"), 0600); err != nil {
		t.Fatal("unable to write file:", err)
	}

	entries, err := NewScanner(false, false).Scan(directory)
	if err != nil {
		t.Fatal("unable to scan:", err)
	}
	if len(entries) != 3 {
		t.Errorf("shallow scan returned %d entries, expected 3", len(entries))
	}
}

func TestScanRecursive(t *testing.T) {
	directory := t.TempDir()
	if err := os.WriteFile(filepath.Join(directory, "file1.txt"), []byte("content1"), 0600); err != nil {
		t.Fatal("unable to write file:", err)
	}
	if err := os.Mkdir(filepath.Join(directory, "subdir"), 0700); err != nil {
		t.Fatal("unable to create directory:", err)
	}
	if err := os.WriteFile(filepath.Join(directory, "subdir", "file2.txt"), []byte("content2"), 0600); err != nil {
		t.Fatal("unable to write file:", err)
	}

	entries, err := NewScanner(true, false).Scan(directory)
	if err != nil {
		t.Fatal("unable to scan:", err)
	}
	// file1.txt, subdir, subdir/file2.txt - but not the root itself.
	if len(entries) != 3 {
		t.Fatalf("recursive scan returned %d entries, expected 3", len(entries))
	}
	for _, entry := range entries {
		if entry.Path == directory {
			t.Error("scan included the root directory")
		}
	}
}

func TestScanMissingRoot(t *testing.T) {
	if _, err := NewScanner(true, false).Scan(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("scanning a missing root did not fail")
	}
}

func TestScanSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on Windows")
	}
	directory := t.TempDir()
	target := filepath.Join(directory, "target.txt")
	if err := os.WriteFile(target, []byte("target"), 0600); err != nil {
		t.Fatal("unable to write target:", err)
	}
	if err := os.Symlink(target, filepath.Join(directory, "link")); err != nil {
		t.Fatal("unable to create symlink:", err)
	}

	entries, err := NewScanner(true, false).Scan(directory)
	if err != nil {
		t.Fatal("unable to scan:", err)
	}
	var link *Entry
	for i := range entries {
		if filepath.Base(entries[i].Path) == "link" {
			link = &entries[i]
		}
	}
	if link == nil {
		t.Fatal("symlink missing from scan")
	}
	if !link.IsSymlink() || link.LinkTarget != target {
		t.Error("symlink entry metadata incorrect")
	}
}

func TestEntryRelative(t *testing.T) {
	entry := Entry{Path: filepath.Join("/base", "sub", "file.txt")}
	relative, ok := entry.Relative("/base")
	if !ok || relative != "sub/file.txt" {
		t.Errorf("relative path incorrect: %q", relative)
	}
	if _, ok := (Entry{Path: "/elsewhere/file"}).Relative("/base"); ok {
		t.Error("entry outside base produced a relative path")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "file")
	if err := WriteFileAtomic(path, []byte("contents"), 0600); err != nil {
		t.Fatal("unable to write atomically:", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("unable to read file:", err)
	}
	if !bytes.Equal(contents, []byte("contents")) {
		t.Error("contents incorrect")
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatal("unable to list directory:", err)
	}
	if len(entries) != 1 {
		t.Error("temporary file left behind")
	}
}

func TestCopyFile(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "source")
	destination := filepath.Join(directory, "destination")
	if err := os.WriteFile(source, []byte("copy me"), 0600); err != nil {
		t.Fatal("unable to write source:", err)
	}
	copied, err := CopyFile(source, destination)
	if err != nil {
		t.Fatal("unable to copy:", err)
	}
	if copied != 7 {
		t.Errorf("expected 7 bytes copied, got %d", copied)
	}
	contents, err := os.ReadFile(destination)
	if err != nil {
		t.Fatal("unable to read destination:", err)
	}
	if !bytes.Equal(contents, []byte("copy me")) {
		t.Error("destination contents incorrect")
	}
}

func TestReadFilesFrom(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "list")
	contents := "# header\n\nsub/file1.txt\nfile2.txt\n  \n# trailing comment\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal("unable to write list:", err)
	}
	result, err := ReadFilesFrom(path)
	if err != nil {
		t.Fatal("unable to read list:", err)
	}
	if len(result) != 2 || result[0] != "sub/file1.txt" || result[1] != "file2.txt" {
		t.Errorf("list parsed incorrectly: %v", result)
	}
}
