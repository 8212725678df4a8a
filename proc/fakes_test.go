package proc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ---- sink ----

type fakeSink struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	playErr    error
	status     SinkStatus
	idle       chan struct{}
	attempts   []string
	played     []*AudioSource
	stops      int
	closes     int
}

func (f *fakeSink) Connect(ctx context.Context, channelID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSink) Play(src *AudioSource) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, src.Track.ID)
	if f.playErr != nil {
		return nil, f.playErr
	}
	f.closeIdleLocked()
	f.played = append(f.played, src)
	f.status = SinkPlaying
	f.idle = make(chan struct{})
	return f.idle, nil
}

func (f *fakeSink) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = SinkPaused
}

func (f *fakeSink) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = SinkPlaying
}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status = SinkIdle
	f.closeIdleLocked()
}

func (f *fakeSink) Status() SinkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSink) Close(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
}

// Finish simulates the current source playing to the end.
func (f *fakeSink) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = SinkIdle
	f.closeIdleLocked()
}

// GoIdleSilently flips the status without closing the idle channel.
func (f *fakeSink) GoIdleSilently() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = SinkIdle
}

func (f *fakeSink) closeIdleLocked() {
	if f.idle != nil {
		close(f.idle)
		f.idle = nil
	}
}

func (f *fakeSink) Plays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.played))
	for i, src := range f.played {
		ids[i] = src.Track.ID
	}
	return ids
}

func (f *fakeSink) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func (f *fakeSink) Counts() (stops, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops, f.closes
}

// ---- fetcher ----

type fakeFetcher struct {
	mu       sync.Mutex
	err      error
	block    chan struct{}
	calls    []string
	inflight int
	peak     int
}

func (f *fakeFetcher) Fetch(ctx context.Context, t *Track) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, t.ID)
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	block, err := f.block, f.err
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("opus:" + t.ID)), nil
}

func (f *fakeFetcher) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ---- cache ----

type fakeCache struct {
	mu     sync.Mutex
	files  map[string]string
	stored []string
}

func newFakeCache(cached ...string) *fakeCache {
	c := &fakeCache{files: make(map[string]string)}
	for _, id := range cached {
		c.files[id] = c.Path(id)
	}
	return c
}

func (c *fakeCache) Path(id string) string { return "/cache/" + id + ".opus" }

func (c *fakeCache) Resolve(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.files[id]
	return p, ok
}

func (c *fakeCache) Store(ctx context.Context, t *Track, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[t.ID] = c.Path(t.ID)
	c.stored = append(c.stored, t.ID)
	return c.files[t.ID], nil
}

func (c *fakeCache) Stored() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stored...)
}

// ---- notifier ----

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Notice
	edits []Notice
	next  snowflake.ID
}

func (n *fakeNotifier) Send(ctx context.Context, channelID snowflake.ID, notice Notice) (MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.sent = append(n.sent, notice)
	return MessageRef{ChannelID: channelID, MessageID: n.next}, nil
}

func (n *fakeNotifier) Edit(ctx context.Context, ref MessageRef, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits = append(n.edits, notice)
	return nil
}

func (n *fakeNotifier) Count(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) Find(kind NoticeKind) (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sent {
		if s.Kind == kind {
			return s, true
		}
	}
	return Notice{}, false
}

func (n *fakeNotifier) Edits() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.edits)
}

// ---- recommendations ----

type fakeProvider struct {
	name  string
	cands []Candidate
	err   error
	mu    sync.Mutex
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Recommend(ctx context.Context, seed *Track, limit int) ([]Candidate, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.cands, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeResolver struct {
	ids map[string]string
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (string, error) {
	if id, ok := r.ids[query]; ok {
		return id, nil
	}
	return "", errors.New("no results")
}

// ---- harness ----

const (
	testGuild   snowflake.ID = 1001
	testVoice   snowflake.ID = 2001
	testText    snowflake.ID = 3001
	secondGuild snowflake.ID = 1002
)

type harness struct {
	vs       *VoiceSystem
	fetcher  *fakeFetcher
	cache    *fakeCache
	notifier *fakeNotifier

	mu    sync.Mutex
	sinks map[snowflake.ID]*fakeSink
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.IdleTimeout = time.Minute
	opts.FallbackTimeout = time.Minute
	opts.ImportDelay = 30 * time.Millisecond
	opts.ImportTick = 2 * time.Millisecond
	return opts
}

func newHarness(t *testing.T, opts Options, cached ...string) *harness {
	t.Helper()
	h := &harness{
		fetcher:  &fakeFetcher{},
		cache:    newFakeCache(cached...),
		notifier: &fakeNotifier{},
		sinks:    make(map[snowflake.ID]*fakeSink),
	}
	h.vs = NewVoiceSystem(opts, Deps{
		Fetcher:  h.fetcher,
		Cache:    h.cache,
		Notifier: h.notifier,
		Sinks: SinkFactoryFunc(func(guildID snowflake.ID) Sink {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.sinks[guildID]; ok {
				return s
			}
			s := &fakeSink{}
			h.sinks[guildID] = s
			return s
		}),
	})
	return h
}

func (h *harness) sink(guildID snowflake.ID) *fakeSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sinks[guildID]
	if !ok {
		s = &fakeSink{}
		h.sinks[guildID] = s
	}
	return s
}

// session returns the guild's session with notices routed to the test text channel.
func (h *harness) session(guildID snowflake.ID) *VoiceSession {
	s := h.vs.Prepare(guildID)
	s.SetTextChannel(testText)
	return s
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	h.vs.Shutdown(context.Background())
	goleak.VerifyNone(t)
}

func track(id string) *Track {
	return &Track{ID: id, Title: "Track " + id, Duration: 3 * time.Minute, Meta: &TrackMeta{Channel: "Artist " + id}}
}

func current(s *VoiceSession) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

func pendingIDs(s *VoiceSession) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.pending))
	for i, t := range s.pending {
		ids[i] = t.ID
	}
	return ids
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
