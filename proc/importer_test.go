package proc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(n int) []*Track {
	out := make([]*Track, n)
	for i := range out {
		out[i] = track(fmt.Sprintf("P%d", i+1))
	}
	return out
}

func TestImport_AddsAllWithPacing(t *testing.T) {
	opts := testOptions()
	opts.ImportDelay = 10 * time.Millisecond
	h := newHarness(t, opts)
	defer h.close(t)
	s := h.session(testGuild)

	start := time.Now()
	added, err := h.vs.Importer().Import(context.Background(), testGuild, batch(3), testVoice)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.GreaterOrEqual(t, time.Since(start), 2*opts.ImportDelay)

	assert.Equal(t, "P1", current(s))
	assert.Equal(t, []string{"P2", "P3"}, pendingIDs(s))
	eventually(t, func() bool { return h.notifier.Count(NoticeImported) == 1 }, "summary")
	n, _ := h.notifier.Find(NoticeImported)
	assert.Equal(t, 3, n.Count)
}

func TestImport_AbortsWhenSessionTornDown(t *testing.T) {
	h := newHarness(t, testOptions())
	defer h.close(t)
	h.session(testGuild)

	imp := h.vs.Importer()
	imp.waited = func(n int) {
		if n == 2 {
			h.vs.Reset(context.Background(), testGuild, true)
		}
	}

	added, err := imp.Import(context.Background(), testGuild, batch(5), testVoice)
	assert.ErrorIs(t, err, ErrSessionVanished)
	assert.Equal(t, 2, added)
	assert.NotContains(t, h.fetcher.Calls(), "P3")
	assert.Nil(t, h.vs.Get(testGuild), "import must not recreate the session")

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, h.notifier.Count(NoticeImported))
}

func TestImport_TeardownMidDelayAbortsPromptly(t *testing.T) {
	opts := testOptions()
	opts.ImportDelay = time.Minute
	opts.ImportTick = time.Millisecond
	h := newHarness(t, opts)
	defer h.close(t)
	h.session(testGuild)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.vs.Reset(context.Background(), testGuild, true)
	}()

	start := time.Now()
	added, err := h.vs.Importer().Import(context.Background(), testGuild, batch(3), testVoice)
	assert.ErrorIs(t, err, ErrSessionVanished)
	assert.Equal(t, 1, added)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestImport_ContextCancelStops(t *testing.T) {
	opts := testOptions()
	opts.ImportDelay = time.Minute
	h := newHarness(t, opts)
	defer h.close(t)
	s := h.session(testGuild)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	added, err := h.vs.Importer().Import(ctx, testGuild, batch(3), testVoice)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, added)
	assert.True(t, s.Alive())
	eventually(t, func() bool { return h.notifier.Count(NoticeImported) == 1 }, "partial summary")
}

func TestImport_SkipsDuplicates(t *testing.T) {
	opts := testOptions()
	opts.ImportDelay = 0
	h := newHarness(t, opts)
	defer h.close(t)
	s := h.session(testGuild)

	tracks := append(batch(2), track("P2"), track("P3"))
	added, err := h.vs.Importer().Import(context.Background(), testGuild, tracks, testVoice)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, []string{"P2", "P3"}, pendingIDs(s))
}
