package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhatlang_DetectsEnglish(t *testing.T) {
	d := NewWhatlang(0.01)

	code, ok := d.Detect("The quick brown fox jumps over the lazy dog while the farmer watches from the porch.")

	assert.True(t, ok)
	assert.Equal(t, "en", code)
}

func TestWhatlang_UnknownForSymbols(t *testing.T) {
	d := NewWhatlang(0)

	code, ok := d.Detect("1234 5678 !!! ???")

	assert.False(t, ok)
	assert.Empty(t, code)
}

func TestWhatlang_DefaultConfidence(t *testing.T) {
	assert.Equal(t, DefaultMinConfidence, NewWhatlang(-1).minConfidence)
	assert.Equal(t, 0.9, NewWhatlang(0.9).minConfidence)
}

func TestNoop(t *testing.T) {
	code, ok := Noop{}.Detect("anything at all")
	assert.False(t, ok)
	assert.Empty(t, code)
}
