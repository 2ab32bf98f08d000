// Package weftlog builds the structured logger shared by cmd/weftd and
// cmd/weft: log/slog with a rotating JSON file sink. Component loggers
// throughout the module (graph, blobstore, derive, gc, offline, wire)
// already take a *slog.Logger dependency directly; this package is only
// where that root logger gets constructed and where a subsystem fork
// adds its context fields, generalizing
// original_source/.../background.rs's log.fork(ea!(subsys = ...))
// idiom to slog.With(...).
//
// gopkg.in/natefinch/lumberjack.v2 is declared in the teacher's go.mod
// but never wired to an actual io.Writer there; this package gives it
// that home.
package weftlog

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB   = 64
	maxBackups  = 7
	maxAgeDays  = 0 // unbounded; maxBackups is the retention cap
	rotatedFile = "weft.log"
	compressOld = true
)

// New builds the root logger. If logDir is empty, logs go to stderr
// only (the CLI's interactive-use mode); otherwise every record is
// written as JSON to logDir/weft.log via lumberjack, and level-at-or-
// above-warn records are additionally mirrored to stderr so an operator
// watching a foreground weftd still sees problems as they happen.
func New(logDir string, level string) (*slog.Logger, error) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	if logDir == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, rotatedFile),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compressOld,
	}
	w := io.MultiWriter(rotator, stderrAtWarn{})
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// stderrAtWarn mirrors only warn-and-above JSON records to stderr, so a
// foreground daemon's terminal isn't flooded with info/debug noise while
// the rotated file keeps the full record.
type stderrAtWarn struct{}

func (stderrAtWarn) Write(p []byte) (int, error) {
	// A cheap substring check rather than re-parsing the JSON record:
	// slog.JSONHandler always emits the level key verbatim as
	// "level":"WARN" / "level":"ERROR".
	if bytes.Contains(p, []byte(`"level":"WARN"`)) || bytes.Contains(p, []byte(`"level":"ERROR"`)) {
		return os.Stderr.Write(p)
	}
	return len(p), nil
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to
// a slog.Level, defaulting to Info for an unrecognised value rather than
// failing startup over a typo in config.yaml.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForSubsystem returns a child logger with a "subsystem" field, the way
// background.rs's log.fork(ea!(subsys = "gc")) scopes every subsequent
// record to one worker.
func ForSubsystem(log *slog.Logger, subsystem string) *slog.Logger {
	return log.With("subsystem", subsystem)
}
