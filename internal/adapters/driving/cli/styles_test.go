package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b c", truncate("a\n b\t\tc ", 10))
	long := strings.Repeat("x", 20)
	assert.Equal(t, strings.Repeat("x", 7)+"...", truncate(long, 10))
	assert.Equal(t, "héllo", truncate("héllo", 5))
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "a=1 b=2", formatCounts(map[string]int{"b": 2, "a": 1}))
	assert.Equal(t, "", formatCounts(nil))
}
