package color

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	enabled, overridden := state.enabled.Load(), state.overridden.Load()
	t.Cleanup(func() {
		state.enabled.Store(enabled)
		state.overridden.Store(overridden)
	})
}

func TestEnableDisable(t *testing.T) {
	restore(t)

	Enable()
	assert.True(t, Enabled())
	Disable()
	assert.False(t, Enabled())
}

func TestFormatters(t *testing.T) {
	restore(t)
	Enable()

	tests := []struct {
		name string
		fn   func(string) string
		code string
	}{
		{"Success", Success, Green},
		{"Error", Error, Red},
		{"Warning", Warning, Yellow},
		{"Info", Info, Cyan},
		{"Path", Path, Cyan},
		{"Role", Role, Blue},
		{"Header", Header, Bold},
		{"Dim", Dim, DimCode},
		{"Code", Code, Bold + DimCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code+"x"+Reset, tt.fn("x"))
		})
	}

	assert.Equal(t, Green+"purged 2"+Reset, Successf("purged %d", 2))
	assert.Equal(t, Yellow+"1 left"+Reset, Warningf("%d left", 1))
}

func TestFormattersDisabled(t *testing.T) {
	restore(t)
	Disable()

	for _, fn := range []func(string) string{Success, Error, Warning, Info, Path, Role, Header, Dim, Code, Severity} {
		assert.Equal(t, "plain", fn("plain"))
	}
}

func TestSeverity(t *testing.T) {
	restore(t)
	Enable()

	assert.Equal(t, Red+"critical"+Reset, Severity("critical"))
	assert.Equal(t, Red+"error"+Reset, Severity("error"))
	assert.Equal(t, Yellow+"warning"+Reset, Severity("warning"))
	assert.Equal(t, DimCode+"info"+Reset, Severity("info"))
}

func TestInitRespectsNoColor(t *testing.T) {
	restore(t)
	t.Setenv("NO_COLOR", "1")
	state.overridden.Store(false)
	state.enabled.Store(true)
	state.once = sync.Once{}
	t.Cleanup(func() { state.once = sync.Once{} })

	Init(false)
	assert.False(t, Enabled())
}

func TestInitRespectsFlag(t *testing.T) {
	restore(t)
	state.overridden.Store(false)
	state.enabled.Store(true)
	state.once = sync.Once{}
	t.Cleanup(func() { state.once = sync.Once{} })

	Init(true)
	assert.False(t, Enabled())
}

func TestInitKeepsOverride(t *testing.T) {
	restore(t)
	state.once = sync.Once{}
	t.Cleanup(func() { state.once = sync.Once{} })

	Enable()
	Init(true)
	assert.True(t, Enabled())
}
