package sys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "?:??", FormatDuration(0))
	assert.Equal(t, "0:07", FormatDuration(7*time.Second))
	assert.Equal(t, "3:20", FormatDuration(200*time.Second))
	assert.Equal(t, "1:05:20", FormatDuration(time.Hour+5*time.Minute+20*time.Second))
}

func TestFormatSpan(t *testing.T) {
	assert.Equal(t, "now", FormatSpan(0))
	assert.Equal(t, "45s", FormatSpan(45*time.Second))
	assert.Equal(t, "3m 12s", FormatSpan(3*time.Minute+12*time.Second))
	assert.Equal(t, "2h 1m", FormatSpan(2*time.Hour+time.Minute))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
}

func TestTruncateWithPreserve(t *testing.T) {
	out := TruncateWithPreserve("a very long song title that keeps going", 30, "[YT] ", " - Artist")
	assert.LessOrEqual(t, len([]rune(out)), 30)
	assert.Contains(t, out, "[YT] ")
	assert.Contains(t, out, " - Artist")
}
