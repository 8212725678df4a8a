package proc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFetchScheduler_NeverExceedsMaxConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{block: make(chan struct{})}
	cache := newFakeCache()
	f := NewFetchScheduler(fetcher, cache, 3)

	var wg sync.WaitGroup
	for g := 1; g <= 6; g++ {
		for i := 1; i <= 5; i++ {
			wg.Add(1)
			go func(guild snowflake.ID, id string) {
				defer wg.Done()
				f.Submit(guild, &Track{ID: id})
			}(snowflake.ID(g), fmt.Sprintf("g%d-t%d", g, i))
		}
	}
	wg.Wait()

	eventually(t, func() bool { return f.Active() == 3 }, "slots filled")
	assert.LessOrEqual(t, fetcher.Peak(), 3)

	close(fetcher.block)
	f.Wait()

	assert.Len(t, cache.Stored(), 30)
	assert.LessOrEqual(t, fetcher.Peak(), 3)
	assert.Zero(t, f.Active())
}

func TestFetchScheduler_OneInFlightPerGuild(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{block: make(chan struct{})}
	f := NewFetchScheduler(fetcher, newFakeCache(), 4)

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, f.Submit(testGuild, &Track{ID: id}))
	}

	eventually(t, func() bool { return f.InFlight(testGuild) == "A" }, "A in flight")
	assert.Equal(t, 1, f.Active())
	assert.Equal(t, []string{"B", "C"}, f.Pending(testGuild))

	close(fetcher.block)
	f.Wait()
	assert.Equal(t, []string{"A", "B", "C"}, fetcher.Calls())
}

func TestFetchScheduler_SuppressesDuplicates(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{block: make(chan struct{})}
	f := NewFetchScheduler(fetcher, newFakeCache("cached"), 1)

	assert.False(t, f.Submit(testGuild, &Track{ID: "cached"}))
	assert.True(t, f.Submit(testGuild, &Track{ID: "A"}))
	assert.True(t, f.Submit(testGuild, &Track{ID: "B"}))
	assert.False(t, f.Submit(testGuild, &Track{ID: "A"}), "in flight")
	assert.False(t, f.Submit(testGuild, &Track{ID: "B"}), "queued")
	assert.True(t, f.Submit(secondGuild, &Track{ID: "A"}), "other guild is independent")

	close(fetcher.block)
	f.Wait()
}

func TestFetchScheduler_RoundRobinAcrossGuilds(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{block: make(chan struct{})}
	f := NewFetchScheduler(fetcher, newFakeCache(), 1)

	f.Submit(testGuild, &Track{ID: "a1"})
	f.Submit(testGuild, &Track{ID: "a2"})
	f.Submit(secondGuild, &Track{ID: "b1"})

	close(fetcher.block)
	f.Wait()
	assert.Equal(t, []string{"a1", "b1", "a2"}, fetcher.Calls())
}

func TestFetchScheduler_AbandonFreesSlotAndDropsStaleResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{block: make(chan struct{})}
	cache := newFakeCache()
	f := NewFetchScheduler(fetcher, cache, 1)

	f.Submit(testGuild, &Track{ID: "A"})
	f.Submit(testGuild, &Track{ID: "B"})
	f.Submit(secondGuild, &Track{ID: "C"})
	eventually(t, func() bool { return f.InFlight(testGuild) == "A" }, "A in flight")

	f.Abandon(testGuild)
	assert.Empty(t, f.Pending(testGuild))
	eventually(t, func() bool { return f.InFlight(secondGuild) == "C" }, "freed slot reassigned")
	assert.Equal(t, 1, f.Active())

	// Abandoning twice is harmless.
	f.Abandon(testGuild)
	assert.Equal(t, 1, f.Active())

	close(fetcher.block)
	f.Wait()
	assert.Zero(t, f.Active())
	assert.Equal(t, []string{"C"}, cache.Stored())
}

func TestFetchScheduler_DropRemovesQueuedOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{block: make(chan struct{})}
	f := NewFetchScheduler(fetcher, newFakeCache(), 1)

	for _, id := range []string{"A", "B", "C"} {
		f.Submit(testGuild, &Track{ID: id})
	}
	eventually(t, func() bool { return f.InFlight(testGuild) == "A" }, "A in flight")

	assert.True(t, f.Drop(testGuild, "B"))
	assert.False(t, f.Drop(testGuild, "A"), "in flight runs to completion")
	assert.False(t, f.Drop(secondGuild, "C"))
	assert.Equal(t, []string{"C"}, f.Pending(testGuild))

	close(fetcher.block)
	f.Wait()
	assert.Equal(t, []string{"A", "C"}, fetcher.Calls())
}

func TestFetchScheduler_FailureReleasesSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &fakeFetcher{err: fmt.Errorf("boom")}
	cache := newFakeCache()
	f := NewFetchScheduler(fetcher, cache, 1)

	f.Submit(testGuild, &Track{ID: "A"})
	f.Submit(testGuild, &Track{ID: "B"})
	f.Wait()

	assert.Zero(t, f.Active())
	assert.Equal(t, []string{"A", "B"}, fetcher.Calls())
	assert.Empty(t, cache.Stored())
}

func TestScenario_CachedPlaysWhileFetchesQueue(t *testing.T) {
	opts := testOptions()
	opts.MaxConcurrency = 1
	h := newHarness(t, opts, "A")
	h.fetcher.block = make(chan struct{})
	defer h.close(t)
	s := h.session(testGuild)

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, h.vs.Enqueue(t.Context(), testGuild, track(id), testVoice))
	}

	assert.Equal(t, "A", current(s))
	assert.Equal(t, []string{"A"}, h.sink(testGuild).Plays())
	eventually(t, func() bool { return h.vs.Fetch().InFlight(testGuild) == "B" }, "B fetching")
	assert.Equal(t, []string{"C"}, h.vs.Fetch().Pending(testGuild))

	close(h.fetcher.block)
	eventually(t, func() bool { return len(h.cache.Stored()) == 2 }, "B and C cached")
	assert.Equal(t, []string{"B", "C"}, h.cache.Stored())
}
