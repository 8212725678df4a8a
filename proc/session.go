package proc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/sys"
)

// ===========================
// Voice Session
// ===========================

// VoiceSession is one guild's queue and playback slot. Every field below mu is guarded by it.
// Asynchronous callbacks capture gen when armed and are dropped if it has moved on.
type VoiceSession struct {
	GuildID snowflake.ID

	vs     *VoiceSystem
	sink   Sink
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	voiceChannel snowflake.ID
	textChannel  snowflake.ID
	pending      []*Track
	current      *Track
	lastFinished *Track
	playing      bool
	loop         bool
	autoplay     bool
	muted        bool
	failures     map[string]int
	history      []string
	gen          uint64
	source       *AudioSource
	watchCancel  context.CancelFunc
	idle         *time.Timer
	idleSeq      uint64
	sleep        *time.Timer
	sleepAt      time.Time
	sleepSeq     uint64
	autoplayBusy bool
	nowPlaying   MessageRef
	nowPlayingID string
	startedAt    time.Time
	pausedAt     time.Time
	pausedFor    time.Duration
	destroyed    bool
}

func newVoiceSession(vs *VoiceSystem, guildID snowflake.ID, sink Sink) *VoiceSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &VoiceSession{
		GuildID:  guildID,
		vs:       vs,
		sink:     sink,
		opts:     vs.opts,
		ctx:      ctx,
		cancel:   cancel,
		failures: make(map[string]int),
	}
}

// Snapshot is a copy of the session state for display.
type Snapshot struct {
	GuildID      snowflake.ID
	VoiceChannel snowflake.ID
	Current      *Track
	Pending      []*Track
	Loop         bool
	Autoplay     bool
	Playing      bool
	Status       SinkStatus
	Elapsed      time.Duration
	SleepAt      time.Time
}

func (s *VoiceSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		GuildID:      s.GuildID,
		VoiceChannel: s.voiceChannel,
		Current:      s.current.Clone(),
		Pending:      make([]*Track, len(s.pending)),
		Loop:         s.loop,
		Autoplay:     s.autoplay,
		Playing:      s.playing,
		Status:       s.sink.Status(),
		SleepAt:      s.sleepAt,
	}
	for i, t := range s.pending {
		snap.Pending[i] = t.Clone()
	}
	if s.current != nil && !s.startedAt.IsZero() {
		elapsed := time.Since(s.startedAt) - s.pausedFor
		if !s.pausedAt.IsZero() {
			elapsed -= time.Since(s.pausedAt)
		}
		snap.Elapsed = max(elapsed, 0)
	}
	return snap
}

func (s *VoiceSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.destroyed
}

func (s *VoiceSession) TextChannel() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannel
}

// SetTextChannel records where notices go; commands call it with their own channel.
func (s *VoiceSession) SetTextChannel(id snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textChannel = id
}

func (s *VoiceSession) VoiceChannel() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceChannel
}

func (s *VoiceSession) SetLoop(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = on
}

// SetAutoplay toggles recommendations. Turning it on with an empty queue looks for some at once.
func (s *VoiceSession) SetAutoplay(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoplay = on
	if !on || s.destroyed || len(s.pending) > 0 {
		return
	}
	if seed := s.current; seed != nil {
		s.triggerAutoplayLocked(seed)
	} else if s.lastFinished != nil {
		s.triggerAutoplayLocked(s.lastFinished)
	}
}

func (s *VoiceSession) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseLocked()
}

func (s *VoiceSession) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked()
}

func (s *VoiceSession) pauseLocked() bool {
	if s.destroyed || s.sink.Status() != SinkPlaying {
		return false
	}
	s.sink.Pause()
	s.pausedAt = time.Now()
	return true
}

func (s *VoiceSession) resumeLocked() bool {
	if s.destroyed || s.sink.Status() != SinkPaused {
		return false
	}
	s.sink.Resume()
	if !s.pausedAt.IsZero() {
		s.pausedFor += time.Since(s.pausedAt)
		s.pausedAt = time.Time{}
	}
	return true
}

func (s *VoiceSession) setMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case muted && !s.muted:
		s.muted = s.pauseLocked()
		if s.muted {
			s.notifyLocked(Notice{Kind: NoticeMuted})
		}
	case !muted && s.muted:
		s.muted = false
		s.resumeLocked()
	}
}

// Skip drops the current stream and advances. Loop still applies.
func (s *VoiceSession) Skip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.current == nil {
		return false
	}
	s.advanceLocked()
	return true
}

// Remove deletes the pending track at index (0-based).
func (s *VoiceSession) Remove(index int) (*Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.pending) {
		return nil, false
	}
	t := s.pending[index]
	s.pending = slices.Delete(s.pending, index, index+1)
	s.vs.fetch.Drop(s.GuildID, t.ID)
	return t.Clone(), true
}

// Clear empties the queue and cancels any downloads still waiting for it.
func (s *VoiceSession) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for _, t := range s.pending {
		s.vs.fetch.Drop(s.GuildID, t.ID)
	}
	s.pending = nil
	return n
}

// ===========================
// State Machine
// ===========================

// advanceLocked moves to the next playable track or drains. It never recurses: evictions
// and synchronous failures loop, and each track takes at most MaxFailures+1 passes.
func (s *VoiceSession) advanceLocked() {
	s.stopPlaybackLocked(true)

	limit := (len(s.pending) + 1) * (s.opts.MaxFailures + 1)
	for range limit {
		next := s.selectLocked()
		if next == nil {
			s.drainLocked()
			return
		}

		if n := s.failures[next.ID]; n >= s.opts.MaxFailures {
			s.evictLocked(next, n)
			continue
		}

		if err := s.startLocked(next); err != nil {
			s.failures[next.ID]++
			sys.LogVoice(sys.MsgVoiceTrackFailed, s.GuildID, next.DisplayTitle(), s.failures[next.ID], s.opts.MaxFailures, err)
			continue
		}
		return
	}

	if len(s.pending) == 0 {
		s.drainLocked()
		return
	}
	s.current = nil
	s.playing = false
	sys.LogWarn(sys.MsgVoiceAdvanceStuck, s.GuildID, len(s.pending))
}

// evictLocked gives up on t. Only the first eviction is announced; the count moves past the
// ceiling so a re-queued copy is skipped silently.
func (s *VoiceSession) evictLocked(t *Track, n int) {
	s.current = nil
	if n != s.opts.MaxFailures {
		return
	}
	s.failures[t.ID] = n + 1
	sys.LogVoice(sys.MsgVoiceTrackEvicted, t.DisplayTitle(), s.GuildID, n)
	s.notifyLocked(Notice{Kind: NoticeTrackFailed, Track: t.Clone(), Count: n})
}

func (s *VoiceSession) selectLocked() *Track {
	if s.loop && s.current != nil {
		return s.current
	}
	if len(s.pending) == 0 {
		return nil
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	return next
}

func (s *VoiceSession) drainLocked() {
	if s.current != nil {
		s.lastFinished = s.current
	}
	s.current = nil
	s.playing = false
	if s.idle != nil {
		return
	}
	s.armIdleLocked()
	sys.LogVoice(sys.MsgVoiceQueueEnded, s.GuildID)
	s.notifyLocked(Notice{Kind: NoticeQueueEnded})
	if s.autoplay && s.lastFinished != nil {
		s.triggerAutoplayLocked(s.lastFinished)
	}
}

// startLocked hands t to the sink and arms the completion watcher for a new generation.
func (s *VoiceSession) startLocked(t *Track) error {
	s.current = t
	s.cancelIdleLocked()
	s.gen++
	gen := s.gen

	var src *AudioSource
	if path, ok := s.vs.deps.Cache.Resolve(t.ID); ok {
		src = NewFileSource(t, path)
	} else {
		src = NewStreamSource(s.ctx, s.vs.deps.Fetcher, t)
	}

	idle, err := s.sink.Play(src)
	if err != nil {
		_ = src.Close()
		return err
	}
	src.Start()

	s.source = src
	s.playing = true
	s.startedAt = time.Now()
	s.pausedAt = time.Time{}
	s.pausedFor = 0
	s.pushHistoryLocked(t.ID)

	wctx, cancel := context.WithCancel(s.ctx)
	s.watchCancel = cancel
	s.wg.Add(1)
	go s.watch(wctx, gen, t, src, idle)

	s.announceLocked(gen, t)

	if s.autoplay && len(s.pending) == 0 {
		s.triggerAutoplayLocked(t)
	}
	if len(s.pending) > 0 {
		s.vs.fetch.Submit(s.GuildID, s.pending[0])
	}
	return nil
}

// stopPlaybackLocked invalidates the running generation and releases its stream.
func (s *VoiceSession) stopPlaybackLocked(stopSink bool) {
	s.gen++
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.source != nil {
		_ = s.source.Close()
		s.source = nil
		if stopSink {
			s.sink.Stop()
		}
	}
}

// watch waits for the sink to go idle or the stream to fail. The ticker covers sinks that
// return to idle without closing the channel.
func (s *VoiceSession) watch(ctx context.Context, gen uint64, t *Track, src *AudioSource, idle <-chan struct{}) {
	defer s.wg.Done()

	tick := time.NewTicker(s.opts.FallbackTimeout)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-src.Failed():
			s.complete(gen, t, src.Err())
			return
		case <-idle:
			s.complete(gen, t, src.Err())
			return
		case <-tick.C:
			if s.stalled(gen) {
				sys.LogVoice(sys.MsgVoiceFallback, s.GuildID, t.DisplayTitle())
				s.complete(gen, t, src.Err())
				return
			}
		}
	}
}

func (s *VoiceSession) stalled(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.destroyed && gen == s.gen && s.current != nil && s.sink.Status() == SinkIdle
}

func (s *VoiceSession) complete(gen uint64, t *Track, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || gen != s.gen {
		return
	}
	if err != nil {
		s.failures[t.ID]++
		sys.LogVoice(sys.MsgVoiceTrackFailed, s.GuildID, t.DisplayTitle(), s.failures[t.ID], s.opts.MaxFailures, err)
	} else {
		delete(s.failures, t.ID)
	}
	s.advanceLocked()
}

// ===========================
// Idle Teardown
// ===========================

func (s *VoiceSession) armIdleLocked() {
	if s.idle != nil || s.destroyed {
		return
	}
	s.idleSeq++
	seq := s.idleSeq
	s.idle = time.AfterFunc(s.opts.IdleTimeout, func() { s.idleExpired(seq) })
}

func (s *VoiceSession) cancelIdleLocked() {
	if s.idle == nil {
		return
	}
	s.idle.Stop()
	s.idle = nil
	s.idleSeq++
}

func (s *VoiceSession) idleExpired(seq uint64) {
	s.mu.Lock()
	ok := !s.destroyed && seq == s.idleSeq && s.current == nil && len(s.pending) == 0
	s.mu.Unlock()
	if !ok {
		return
	}
	sys.LogVoice(sys.MsgVoiceIdleTeardown, s.GuildID)
	s.vs.resetSession(context.Background(), s, true)
}

// ===========================
// Sleep Timer
// ===========================

// SetSleepTimer schedules a reset at the given time. A zero time cancels the timer.
func (s *VoiceSession) SetSleepTimer(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.cancelSleepLocked()
	if at.IsZero() {
		return true
	}
	s.sleepAt = at
	seq := s.sleepSeq
	s.sleep = time.AfterFunc(time.Until(at), func() { s.sleepExpired(seq) })
	return true
}

func (s *VoiceSession) cancelSleepLocked() {
	if s.sleep != nil {
		s.sleep.Stop()
		s.sleep = nil
	}
	s.sleepAt = time.Time{}
	s.sleepSeq++
}

func (s *VoiceSession) sleepExpired(seq uint64) {
	s.mu.Lock()
	ok := !s.destroyed && seq == s.sleepSeq
	s.mu.Unlock()
	if !ok {
		return
	}
	sys.LogVoice(sys.MsgVoiceSleepTimer, s.GuildID)
	s.vs.resetSession(context.Background(), s, true)
}

// retire marks the session destroyed and drops its queue and timers. It reports false if
// the session was already retired. Called with vs.mu held.
func (s *VoiceSession) retire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.destroyed = true
	s.cancelIdleLocked()
	s.cancelSleepLocked()
	s.stopPlaybackLocked(false)
	s.pending = nil
	s.current = nil
	s.playing = false
	s.cancel()
	return true
}

// release disconnects the sink and waits for the session's goroutines.
func (s *VoiceSession) release(ctx context.Context) {
	s.sink.Stop()
	s.sink.Close(ctx)
	s.wg.Wait()
}

// ===========================
// Helpers
// ===========================

func (s *VoiceSession) hasPendingLocked(id string) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(s.pending, func(t *Track) bool { return t.ID == id })
}

// removeTrack takes t back out of pending after a failed connect.
func (s *VoiceSession) removeTrack(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = slices.DeleteFunc(s.pending, func(p *Track) bool { return p == t })
	if len(s.pending) == 0 && s.current == nil {
		s.armIdleLocked()
	}
}

func (s *VoiceSession) pushHistoryLocked(id string) {
	if id == "" {
		return
	}
	s.history = append(s.history, id)
	if n := len(s.history) - s.opts.HistorySize; n > 0 {
		s.history = s.history[n:]
	}
}

// knownIDs returns the ids that recommendations must not repeat: pending, current and history.
func (s *VoiceSession) knownIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]struct{}, len(s.pending)+len(s.history)+1)
	for _, t := range s.pending {
		known[t.ID] = struct{}{}
	}
	for _, id := range s.history {
		known[id] = struct{}{}
	}
	if s.current != nil {
		known[s.current.ID] = struct{}{}
	}
	return known
}

func (s *VoiceSession) triggerAutoplayLocked(seed *Track) {
	if s.autoplayBusy || s.destroyed || s.vs.autoplay == nil {
		return
	}
	s.autoplayBusy = true
	seed = seed.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.vs.autoplay.Run(s.ctx, s, seed)
		s.mu.Lock()
		s.autoplayBusy = false
		s.mu.Unlock()
	}()
}

// notifyLocked sends n to the text channel without holding the lock across the call.
func (s *VoiceSession) notifyLocked(n Notice) {
	notifier := s.vs.deps.Notifier
	if notifier == nil || s.textChannel == 0 || s.destroyed {
		return
	}
	n.GuildID = s.GuildID
	channel := s.textChannel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := notifier.Send(s.ctx, channel, n); err != nil {
			sys.LogWarn(sys.MsgVoiceNotifyFail, s.GuildID, err)
		}
	}()
}

// announceLocked enriches t with metadata if needed, then posts or edits the now-playing message.
func (s *VoiceSession) announceLocked(gen uint64, t *Track) {
	notifier := s.vs.deps.Notifier
	channel := s.textChannel

	var edit MessageRef
	if s.loop && s.nowPlayingID == t.ID && s.nowPlaying.Valid() {
		edit = s.nowPlaying
	}
	needsInfo := s.vs.deps.Metadata != nil && t.ID != "" && (t.Title == "" || t.Duration == 0 || t.Channel() == "")
	snapshot := t.Clone()
	loop := s.loop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if needsInfo {
			if info, err := s.vs.deps.Metadata.Lookup(s.ctx, snapshot.ID); err == nil && info != nil {
				snapshot.apply(info)
				s.mu.Lock()
				if gen == s.gen && s.current == t {
					t.apply(info)
				}
				s.mu.Unlock()
			}
		}
		sys.LogVoice(sys.MsgVoiceNowPlaying, s.GuildID, snapshot.DisplayTitle())

		if notifier == nil || channel == 0 {
			return
		}
		n := Notice{Kind: NoticeNowPlaying, GuildID: s.GuildID, Track: snapshot, Loop: loop}
		if edit.Valid() {
			if err := notifier.Edit(s.ctx, edit, n); err == nil {
				return
			}
		}
		ref, err := notifier.Send(s.ctx, channel, n)
		if err != nil {
			sys.LogWarn(sys.MsgVoiceNotifyFail, s.GuildID, err)
			return
		}
		s.mu.Lock()
		s.nowPlaying = ref
		s.nowPlayingID = snapshot.ID
		s.mu.Unlock()
	}()
}
