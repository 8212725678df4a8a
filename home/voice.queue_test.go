package home

import (
	"testing"
	"time"

	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(c sys.Container) []string {
	var out []string
	for _, comp := range c.Components {
		switch v := comp.(type) {
		case sys.TextDisplay:
			out = append(out, v.Content)
		case sys.Section:
			for _, inner := range v.Components {
				if td, ok := inner.(sys.TextDisplay); ok {
					out = append(out, td.Content)
				}
			}
		}
	}
	return out
}

func track(id string, d time.Duration) *proc.Track {
	return &proc.Track{ID: id, Title: "T-" + id, Duration: d}
}

func TestRenderQueue_Empty(t *testing.T) {
	got := texts(renderQueue(proc.Snapshot{}))
	assert.Equal(t, []string{"**Queue:**", "_Empty_"}, got)

	got = texts(renderQueue(proc.Snapshot{Autoplay: true}))
	assert.Contains(t, got, "_Empty (Autoplay Ready)_")
	assert.Contains(t, got, "-# 📻 Autoplay")
}

func TestRenderQueue_WaitTimes(t *testing.T) {
	snap := proc.Snapshot{
		Current: track("cur", 3*time.Minute),
		Elapsed: time.Minute,
		Pending: []*proc.Track{track("a", 2*time.Minute), track("b", 0), track("c", time.Minute)},
	}
	got := texts(renderQueue(snap))
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "**Now Playing:**")
	assert.Contains(t, got[0], "`1:00 / 3:00`")

	assert.Contains(t, got[2], "`1.` T-a `2:00` · starts in 2m 0s")
	assert.Contains(t, got[2], "`2.` T-b `?:??` · starts in 4m 0s")
	assert.NotContains(t, got[2], "`3.` T-c `1:00` · starts in")
}

func TestRenderQueue_LoopHidesWait(t *testing.T) {
	snap := proc.Snapshot{
		Current: track("cur", 3*time.Minute),
		Status:  proc.SinkPaused,
		Loop:    true,
		Pending: []*proc.Track{track("a", time.Minute)},
	}
	got := texts(renderQueue(snap))
	assert.Contains(t, got[0], "**Paused:**")
	assert.NotContains(t, got[2], "starts in")
	assert.Equal(t, "-# 🔁 Loop", got[len(got)-1])
}

func TestRenderQueue_Paginates(t *testing.T) {
	var pending []*proc.Track
	for i := range queuePageSize + 3 {
		pending = append(pending, track(string(rune('a'+i)), time.Minute))
	}
	got := texts(renderQueue(proc.Snapshot{Pending: pending}))
	assert.Contains(t, got[1], "`1.` T-a `1:00` · starts in now")
	assert.Contains(t, got[1], "*...and 3 more*")
	assert.NotContains(t, got[1], "`11.`")
}

func TestQueuePosition(t *testing.T) {
	snap := proc.Snapshot{Current: track("cur", 0), Pending: []*proc.Track{track("a", 0), track("b", 0)}}
	assert.Equal(t, 0, queuePosition(snap, "cur"))
	assert.Equal(t, 2, queuePosition(snap, "b"))
	assert.Equal(t, -1, queuePosition(snap, "zzz"))
}

func TestPlayResponse(t *testing.T) {
	tr := &proc.Track{ID: "dQw4w9WgXcQ", Title: "Song"}
	snap := proc.Snapshot{Current: track("cur", 0), Pending: []*proc.Track{track("a", 0), tr}, Autoplay: true, Loop: true}

	c := playResponse(snap, tr, false)
	_, isSection := c.Components[0].(sys.Section)
	assert.True(t, isSection)
	got := texts(c)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "✅ Added to queue at position 2:")
	assert.Contains(t, got[0], "(Autoplay, Looping: Enabled)")

	now := texts(playResponse(proc.Snapshot{Current: tr}, tr, true))
	assert.Contains(t, now[0], "🎶 Playing:")

	gone := texts(playResponse(proc.Snapshot{}, &proc.Track{ID: "local", Title: "x"}, false))
	assert.Contains(t, gone[0], "✅ Added to queue:")
	assert.NotContains(t, gone[0], "Enabled")
}
