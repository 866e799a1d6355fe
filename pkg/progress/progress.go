// Package progress reports how far a long-running operation has got.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
)

// Callback receives progress updates during long operations.
type Callback func(op string, current, total int, message string)

// Noop discards progress updates.
func Noop(op string, current, total int, message string) {}

// Progress counts finished steps of one operation and reports each of them.
// It is safe for concurrent use.
type Progress struct {
	Op    string
	Total int

	mu      sync.Mutex
	current int
	cb      Callback
}

// New creates a Progress for total steps. A nil cb discards updates.
func New(op string, total int, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Increment records one finished step described by message.
func (p *Progress) Increment(message string) {
	p.mu.Lock()
	p.current++
	current := p.current
	p.mu.Unlock()
	p.cb(p.Op, current, p.Total, message)
}

// Done marks every step finished.
func (p *Progress) Done(message string) {
	p.mu.Lock()
	p.current = p.Total
	p.mu.Unlock()
	p.cb(p.Op, p.Total, p.Total, message)
}

// Current returns the number of finished steps.
func (p *Progress) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

const (
	barWidth = 30
	// maxMessage bounds the trailing message so the bar stays on one line.
	maxMessage = 48
)

// Terminal draws a single-line progress bar, redrawing it in place.
type Terminal struct {
	mu       sync.Mutex
	w        io.Writer
	op       string
	total    int
	current  int
	lastLen  int
	disabled bool
}

// NewTerminal creates a progress bar on w.
func NewTerminal(w io.Writer, op string, total int, enabled bool) *Terminal {
	return &Terminal{w: w, op: op, total: total, disabled: !enabled}
}

// IsTTY reports whether w is an interactive terminal, which is when a bar is worth drawing.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Callback returns a Callback that redraws the bar. A positive total
// reported by the operation replaces the one the bar was created with.
func (t *Terminal) Callback() Callback {
	return func(_ string, current, total int, message string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.disabled {
			return
		}
		if total > 0 {
			t.total = total
		}
		t.current = current
		t.draw(message)
	}
}

// Done fills the bar and ends its line.
func (t *Terminal) Done(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return
	}
	t.current = t.total
	t.draw(message)
	fmt.Fprintln(t.w)
	t.lastLen = 0
}

// SetEnabled turns drawing on or off.
func (t *Terminal) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.disabled = !enabled
	t.mu.Unlock()
}

// IsEnabled reports whether the bar is drawn.
func (t *Terminal) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disabled
}

// draw renders the bar; t.mu must be held.
func (t *Terminal) draw(message string) {
	total := t.total
	if total <= 0 {
		total = 1
	}
	filled := min(barWidth*t.current/total, barWidth)
	if filled < 0 {
		filled = 0
	}

	var b strings.Builder
	b.WriteByte('\r')
	if t.lastLen > 0 {
		b.WriteString(strings.Repeat(" ", t.lastLen))
		b.WriteByte('\r')
	}
	fmt.Fprintf(&b, "%s [%s%s] %d/%d (%.0f%%)",
		t.op, strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled),
		t.current, total, float64(t.current)/float64(total)*100)
	if message != "" {
		b.WriteByte(' ')
		b.WriteString(truncate(message, maxMessage))
	}

	line := b.String()
	fmt.Fprint(t.w, line)
	t.lastLen = len(line)
}

// truncate shortens s to at most n runes, keeping its end, which for paths
// is the part worth reading.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return "..." + string(r[len(r)-(n-3):])
}
