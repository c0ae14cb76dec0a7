package engine

import (
	"fmt"
	"strings"
	"sync"
)

// Log is a per-run append-only log. Each run owns its own Log, so runs never
// share log state; the mutex only guards readers that inspect a run while it
// is still executing.
type Log struct {
	mu  sync.Mutex
	buf strings.Builder
}

// NewLog creates an empty run log.
func NewLog() *Log {
	return &Log{}
}

// Appendf appends one formatted line to the log.
func (l *Log) Appendf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, format, args...)
	l.buf.WriteByte('\n')
}

// AppendOutput appends captured step output verbatim, ensuring a trailing
// newline so subsequent entries start on their own line.
func (l *Log) AppendOutput(output string) {
	if output == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.WriteString(output)
	if !strings.HasSuffix(output, "\n") {
		l.buf.WriteByte('\n')
	}
}

// String returns the accumulated log text.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
