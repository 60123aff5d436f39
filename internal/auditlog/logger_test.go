package auditlog

import "testing"

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean passthrough", "hello world", "hello world"},
		{"tab and newline kept", "a\tb\nc", "a\tb\nc"},
		{"ansi escape stripped", "evil\x1b[2Jtext", "eviltext"},
		{"bare control stripped", "a\x07b", "ab"},
		{"escape at end", "trailing\x1b", "trailing"},
		{"multiple escapes", "\x1b[31mred\x1b[0m", "red"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeString(tt.input); got != tt.want {
				t.Errorf("sanitizeString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	// Must not panic on any logging path.
	l.LogAuditStart("r", 1, 0)
	l.LogAuditComplete("r", "allow", "none", 0, 0, 0)
	l.LogAuditError("r", nil)
	l.LogFinding("r", "s", "high", "sum", "prompt", 0.5)
	l.LogRulePackReload("v", nil)
	l.LogEvidenceSaved("r", "/tmp/x", "hash")
	l.Close()
	l.Close()
}

func TestWith_SharesNoFileHandle(t *testing.T) {
	l := NewNop()
	sub := l.With("session", "abc")
	if sub.fileHandle != nil {
		t.Error("sub-logger must not own a file handle")
	}
}
