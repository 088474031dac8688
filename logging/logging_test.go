package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogDisabledByDefault(t *testing.T) {
	// Emitting before Init must be a safe no-op.
	Log().Info().Str("key", "value").Msg("dropped")
}

func TestInitAndLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operations.log")
	if err := Init(path); err != nil {
		t.Fatal("unable to initialize logging:", err)
	}
	if !Enabled() {
		t.Error("logging not reported as enabled")
	}
	Log().Info().Str("path", "a/b.txt").Msg("transferred")

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("unable to read log:", err)
	}
	if !strings.Contains(string(contents), "transferred") || !strings.Contains(string(contents), "a/b.txt") {
		t.Errorf("log record missing fields: %q", contents)
	}
}

func TestInitMissingDirectory(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "missing", "log")); err == nil {
		t.Error("initialization against a missing directory succeeded")
	}
}
