package proc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/sys"
)

// ===========================
// Fetch Scheduler
// ===========================

// FetchScheduler downloads tracks into the cache. At most max fetches run at once across
// all guilds, and each guild has at most one in flight.
type FetchScheduler struct {
	fetcher AudioFetcher
	cache   Cache
	max     int

	mu     sync.Mutex
	active int
	states map[snowflake.ID]*fetchState
	order  []snowflake.ID
	cursor int
	wg     sync.WaitGroup
}

type fetchState struct {
	queue    []*Track
	fetching bool
	inflight *Track
	cancel   context.CancelFunc
}

func NewFetchScheduler(fetcher AudioFetcher, cache Cache, maxConcurrency int) *FetchScheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &FetchScheduler{
		fetcher: fetcher,
		cache:   cache,
		max:     maxConcurrency,
		states:  make(map[snowflake.ID]*fetchState),
	}
}

// Submit queues t for guildID. It is a no-op when the track is cached or already queued or
// in flight for that guild, which also covers prefetch racing with playback start.
func (f *FetchScheduler) Submit(guildID snowflake.ID, t *Track) bool {
	if t == nil || t.ID == "" {
		return false
	}
	if _, ok := f.cache.Resolve(t.ID); ok {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[guildID]
	if !ok {
		st = &fetchState{}
		f.states[guildID] = st
		f.order = append(f.order, guildID)
	}
	if st.inflight != nil && st.inflight.ID == t.ID {
		return false
	}
	for _, q := range st.queue {
		if q.ID == t.ID {
			return false
		}
	}
	st.queue = append(st.queue, t.Clone())
	f.admitLocked()
	return true
}

// Abandon cancels the guild's in-flight fetch, drops its queue and frees the slot.
func (f *FetchScheduler) Abandon(guildID snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[guildID]
	if !ok {
		return
	}
	if st.fetching {
		st.cancel()
		st.fetching = false
		st.inflight = nil
		f.active--
	}
	st.queue = nil
	f.dropLocked(guildID)
	f.admitLocked()
}

// Drop removes a queued fetch of id for guildID. A fetch already in flight runs to completion.
func (f *FetchScheduler) Drop(guildID snowflake.ID, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[guildID]
	if !ok {
		return false
	}
	n := len(st.queue)
	st.queue = slices.DeleteFunc(st.queue, func(t *Track) bool { return t.ID == id })
	if !st.fetching && len(st.queue) == 0 {
		f.dropLocked(guildID)
	}
	return len(st.queue) < n
}

func (f *FetchScheduler) admitLocked() {
	for f.active < f.max {
		id, st := f.nextLocked()
		if st == nil {
			return
		}
		t := st.queue[0]
		st.queue = st.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		st.fetching = true
		st.inflight = t
		st.cancel = cancel
		f.active++

		sys.LogDownload(sys.MsgDownloadStarted, t.Source(), id, f.active, f.max)
		f.wg.Add(1)
		go f.run(ctx, id, st, t)
	}
}

// nextLocked picks the next idle guild with queued work, rotating so no guild starves.
func (f *FetchScheduler) nextLocked() (snowflake.ID, *fetchState) {
	n := len(f.order)
	for i := 0; i < n; i++ {
		idx := (f.cursor + i) % n
		id := f.order[idx]
		st := f.states[id]
		if !st.fetching && len(st.queue) > 0 {
			f.cursor = idx + 1
			return id, st
		}
	}
	return 0, nil
}

func (f *FetchScheduler) dropLocked(guildID snowflake.ID) {
	delete(f.states, guildID)
	for i, id := range f.order {
		if id == guildID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			if f.cursor > i {
				f.cursor--
			}
			break
		}
	}
}

func (f *FetchScheduler) run(ctx context.Context, guildID snowflake.ID, st *fetchState, t *Track) {
	defer f.wg.Done()
	err := f.fetch(ctx, t)
	f.finish(guildID, st, t, err)
}

func (f *FetchScheduler) fetch(ctx context.Context, t *Track) error {
	rc, err := f.fetcher.Fetch(ctx, t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer rc.Close()

	if _, err := f.cache.Store(ctx, t, rc); err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return nil
}

func (f *FetchScheduler) finish(guildID snowflake.ID, st *fetchState, t *Track, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Abandon already released the slot for this state.
	if f.states[guildID] != st || st.inflight != t {
		sys.LogDownload(sys.MsgDownloadStale, t.Source(), guildID)
		return
	}

	st.cancel()
	st.fetching = false
	st.inflight = nil
	f.active--

	switch {
	case err == nil:
		sys.LogDownload(sys.MsgDownloadFinished, t.Source(), guildID)
	case errors.Is(err, context.Canceled):
	default:
		sys.LogDownload(sys.MsgDownloadFailed, t.Source(), guildID, err)
	}

	if len(st.queue) == 0 {
		f.dropLocked(guildID)
	}
	f.admitLocked()
}

// Pending lists the ids queued but not started for guildID.
func (f *FetchScheduler) Pending(guildID snowflake.ID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[guildID]
	if !ok {
		return nil
	}
	ids := make([]string, len(st.queue))
	for i, t := range st.queue {
		ids[i] = t.ID
	}
	return ids
}

// InFlight returns the id being fetched for guildID, or "".
func (f *FetchScheduler) InFlight(guildID snowflake.ID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[guildID]; ok && st.inflight != nil {
		return st.inflight.ID
	}
	return ""
}

func (f *FetchScheduler) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Wait blocks until every started fetch goroutine has returned.
func (f *FetchScheduler) Wait() {
	f.wg.Wait()
}

// Close abandons every guild and waits for running fetches to exit.
func (f *FetchScheduler) Close() {
	f.mu.Lock()
	ids := append([]snowflake.ID(nil), f.order...)
	f.mu.Unlock()
	for _, id := range ids {
		f.Abandon(id)
	}
	f.wg.Wait()
}
