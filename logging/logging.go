// Package logging provides the process-wide operation log. The log is
// disabled until Init is called; before that, every emitted event is a
// no-op. The sink is guarded so that initialization and emission are safe
// from any goroutine.
package logging

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// mu guards logger and enabled.
	mu sync.Mutex
	// logger is the active sink. It discards everything until Init.
	logger = zerolog.Nop()
	// enabled records whether or not Init has succeeded.
	enabled bool
)

// Init directs the operation log to the file at path, creating or appending
// as necessary. Each call replaces the sink installed by the previous one.
func Init(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return errors.Wrap(err, "unable to open log file")
	}
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(file).With().Timestamp().Logger()
	enabled = true
	return nil
}

// Enabled indicates whether or not the operation log has been initialized.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log returns a copy of the process-wide logger as it stands at the time of
// the call. The returned logger is a no-op if Init hasn't been called.
func Log() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	current := logger
	return &current
}
