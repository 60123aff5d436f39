// Package auditlog provides structured JSON logging for all audit pipeline
// events.
package auditlog

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Prevents terminal escape injection via crafted
// prompt or rule content (e.g. \x1b[2J to clear screen when tailing logs).
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured log entries.
const (
	EventAuditStart     EventType = "audit_start"
	EventAuditComplete  EventType = "audit_complete"
	EventAuditError     EventType = "audit_error"
	EventFinding        EventType = "finding"
	EventRulePackReload EventType = "rulepack_reload"
	EventEvidenceSaved  EventType = "evidence_saved"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl             zerolog.Logger
	includeAllowed bool
	fileHandle     *os.File // non-nil if logging to file
}

// New creates a new audit logger. format is "json" or "text"; output is
// "stdout", "file", or "both". The caller should call Close when done.
func New(format, output, filePath string, includeAllowed bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "schnabel").
		Logger()

	return &Logger{
		zl:             zl,
		includeAllowed: includeAllowed,
		fileHandle:     fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Zerolog exposes the underlying logger for subsystems (rule-pack loader)
// that take a zerolog.Logger directly.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// LogAuditStart logs the beginning of one audit turn.
func (l *Logger) LogAuditStart(requestID string, chunkCount, toolCallCount int) {
	if !l.includeAllowed {
		return
	}
	l.zl.Info().
		Str("event", string(EventAuditStart)).
		Str("request_id", sanitizeString(requestID)).
		Int("chunks", chunkCount).
		Int("tool_calls", toolCallCount).
		Msg("audit started")
}

// LogAuditComplete logs the decision for one audit turn. Allowed turns are
// logged only when includeAllowed is set.
func (l *Logger) LogAuditComplete(requestID, action, risk string, findingCount int, confidence float64, duration time.Duration) {
	if action == "allow" && !l.includeAllowed {
		return
	}
	evt := l.zl.Info()
	if action != "allow" {
		evt = l.zl.Warn()
	}
	evt.
		Str("event", string(EventAuditComplete)).
		Str("request_id", sanitizeString(requestID)).
		Str("action", action).
		Str("risk", risk).
		Int("findings", findingCount).
		Float64("confidence", confidence).
		Dur("duration_ms", duration).
		Msg("audit complete")
}

// LogAuditError logs a fatal audit failure.
func (l *Logger) LogAuditError(requestID string, err error) {
	l.zl.Error().
		Str("event", string(EventAuditError)).
		Str("request_id", sanitizeString(requestID)).
		Err(err).
		Msg("audit failed")
}

// LogFinding logs a single detect finding.
func (l *Logger) LogFinding(requestID, scanner, risk, summary, field string, score float64) {
	l.zl.Warn().
		Str("event", string(EventFinding)).
		Str("request_id", sanitizeString(requestID)).
		Str("scanner", scanner).
		Str("risk", risk).
		Str("field", field).
		Float64("score", score).
		Str("summary", sanitizeString(summary)).
		Msg("finding")
}

// LogRulePackReload logs a rule pack reload outcome.
func (l *Logger) LogRulePackReload(version string, err error) {
	if err != nil {
		l.zl.Warn().
			Str("event", string(EventRulePackReload)).
			Err(err).
			Msg("rule pack reload failed")
		return
	}
	l.zl.Info().
		Str("event", string(EventRulePackReload)).
		Str("version", version).
		Msg("rule pack reloaded")
}

// LogEvidenceSaved logs where an evidence package was written.
func (l *Logger) LogEvidenceSaved(requestID, path, rootHash string) {
	if !l.includeAllowed {
		return
	}
	l.zl.Info().
		Str("event", string(EventEvidenceSaved)).
		Str("request_id", sanitizeString(requestID)).
		Str("path", sanitizeString(path)).
		Str("root_hash", rootHash).
		Msg("evidence saved")
}

// LogStartup logs process start.
func (l *Logger) LogStartup(mode, rulePackVersion string) {
	l.zl.Info().
		Str("event", "startup").
		Str("mode", mode).
		Str("rulepack_version", rulePackVersion).
		Msg("schnabel started")
}

// LogShutdown logs process stop.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("schnabel stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// entry. The sub-logger shares the parent's file handle; only the root
// logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:             l.zl.With().Str(key, value).Logger(),
		includeAllowed: l.includeAllowed,
	}
}

// Close cleans up the logger, flushing and closing any open file handle.
// Idempotent.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
