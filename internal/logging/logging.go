package logging

import (
	"log/slog"
	"os"
)

// New returns a node-ready slog.Logger using the pretty handler, colorized
// when stderr is a terminal-friendly destination. verbose lowers the
// minimum level to Debug, which surfaces dropped/malformed-datagram
// diagnostics that are otherwise suppressed.
func New(verbose bool) *slog.Logger {
	opts := DefaultOptions()
	if verbose {
		opts.SlogOpts.Level = slog.LevelDebug
	}
	return slog.New(NewPrettyHandler(os.Stderr, &opts))
}
