package home

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSleep_Durations(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	at, err := parseSleep("45m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(45*time.Minute), at)

	at, err = parseSleep("1h30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), at)

	_, err = parseSleep("-5m", now)
	assert.ErrorContains(t, err, "already passed")

	_, err = parseSleep("30h", now)
	assert.ErrorContains(t, err, "at most")
}

func TestParseSleep_NaturalLanguage(t *testing.T) {
	now := time.Now()
	at, err := parseSleep("in 30 minutes", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(30*time.Minute), at, time.Minute)
}
