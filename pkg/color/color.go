// Package color provides terminal color output for hookctl.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

var state struct {
	enabled    atomic.Bool
	overridden atomic.Bool
	once       sync.Once
}

// Init decides whether colors are used. NO_COLOR, TERM=dumb, noColorFlag and
// a non-terminal stdout all disable them. An explicit Enable or Disable wins.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		enabled := !noColorFlag
		if _, exists := os.LookupEnv("NO_COLOR"); exists {
			enabled = false
		}
		if os.Getenv("TERM") == "dumb" {
			enabled = false
		}
		if fd := os.Stdout.Fd(); !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			enabled = false
		}
		state.enabled.Store(enabled)
	})
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Disable turns off color output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on color output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// ANSI codes.
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
)

func wrap(code string) func(string) string {
	return func(s string) string {
		if !Enabled() {
			return s
		}
		return code + s + Reset
	}
}

var (
	Redf    = wrap(Red)
	Greenf  = wrap(Green)
	Yellowf = wrap(Yellow)
	Bluef   = wrap(Blue)
	Cyanf   = wrap(Cyan)
	Boldf   = wrap(Bold)
	Dimf    = wrap(DimCode)
)

// Success formats a success message in green.
func Success(s string) string { return Greenf(s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string { return Greenf(fmt.Sprintf(format, args...)) }

// Error formats an error message in red.
func Error(s string) string { return Redf(s) }

// Warning formats a warning message in yellow.
func Warning(s string) string { return Yellowf(s) }

// Warningf formats a warning message with printf-style arguments.
func Warningf(format string, args ...any) string { return Yellowf(fmt.Sprintf(format, args...)) }

// Info formats an informational message in cyan.
func Info(s string) string { return Cyanf(s) }

// Path formats a file path.
func Path(s string) string { return Cyanf(s) }

// Role formats a role or lifecycle stage name.
func Role(s string) string { return Bluef(s) }

// Header formats a header in bold.
func Header(s string) string { return Boldf(s) }

// Dim formats secondary information.
func Dim(s string) string { return Dimf(s) }

// Code formats a command line.
func Code(s string) string {
	if !Enabled() {
		return s
	}
	return Bold + DimCode + s + Reset
}

// Severity colors a doctor severity label.
func Severity(s string) string {
	switch s {
	case "critical", "error":
		return Redf(s)
	case "warning":
		return Yellowf(s)
	default:
		return Dimf(s)
	}
}
