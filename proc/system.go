package proc

import (
	"context"
	"fmt"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/sys"
)

// ===========================
// Voice System
// ===========================

// VoiceSystem owns every guild session plus the shared fetch scheduler.
//
// Lock order: vs.mu, then a session mutex, then the fetch scheduler's mutex. Never the
// other way round.
type VoiceSystem struct {
	opts     Options
	deps     Deps
	fetch    *FetchScheduler
	autoplay *Autoplay
	importer *PlaylistImporter

	mu          sync.Mutex
	sessions    map[snowflake.ID]*VoiceSession
	selfLeaving map[snowflake.ID]bool
}

func NewVoiceSystem(opts Options, deps Deps) *VoiceSystem {
	opts = opts.withDefaults()
	vs := &VoiceSystem{
		opts:        opts,
		deps:        deps,
		fetch:       NewFetchScheduler(deps.Fetcher, deps.Cache, opts.MaxConcurrency),
		sessions:    make(map[snowflake.ID]*VoiceSession),
		selfLeaving: make(map[snowflake.ID]bool),
	}
	vs.autoplay = NewAutoplay(vs, deps.Providers, deps.Resolver, opts)
	vs.importer = NewPlaylistImporter(vs, opts)
	return vs
}

func (vs *VoiceSystem) Options() Options            { return vs.opts }
func (vs *VoiceSystem) Fetch() *FetchScheduler      { return vs.fetch }
func (vs *VoiceSystem) Importer() *PlaylistImporter { return vs.importer }

// Get returns the live session for guildID, or nil.
func (vs *VoiceSystem) Get(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// Prepare returns the guild's session, creating it on first reference.
func (vs *VoiceSystem) Prepare(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if s, ok := vs.sessions[guildID]; ok {
		return s
	}
	s := newVoiceSession(vs, guildID, vs.deps.Sinks.NewSink(guildID))
	vs.sessions[guildID] = s
	delete(vs.selfLeaving, guildID)
	sys.LogVoice(sys.MsgVoiceSessionCreated, guildID)
	return s
}

func (vs *VoiceSystem) Count() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.sessions)
}

// Enqueue appends t to the guild's queue, joining target if needed, and starts playback when idle.
func (vs *VoiceSystem) Enqueue(ctx context.Context, guildID snowflake.ID, t *Track, target snowflake.ID) error {
	return vs.submit(ctx, vs.Prepare(guildID), t, target, false)
}

// PlayNow puts t at the head of the queue and cuts off whatever is playing.
func (vs *VoiceSystem) PlayNow(ctx context.Context, guildID snowflake.ID, t *Track, target snowflake.ID) error {
	return vs.submit(ctx, vs.Prepare(guildID), t, target, true)
}

// submit is the shared enqueue path. A zero target means the session must already be connected.
func (vs *VoiceSystem) submit(ctx context.Context, s *VoiceSession, t *Track, target snowflake.ID, now bool) error {
	t = t.Clone()
	if t.Path == "" && t.ID != "" {
		t.Path = vs.deps.Cache.Path(t.ID)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionVanished
	}
	if s.hasPendingLocked(t.ID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, t.ID)
	}
	if now {
		s.pending = append([]*Track{t}, s.pending...)
	} else {
		s.pending = append(s.pending, t)
	}
	s.cancelIdleLocked()
	// Submitted under the session lock so a concurrent reset either sees the fetch and
	// abandons it or marks the session destroyed first.
	vs.fetch.Submit(s.GuildID, t)
	s.mu.Unlock()

	if !s.sink.Connected() {
		if target == 0 {
			s.removeTrack(t)
			return ErrNotConnected
		}
		if err := s.sink.Connect(ctx, target); err != nil {
			sys.LogVoice(sys.MsgVoiceConnectFail, s.GuildID, err)
			s.removeTrack(t)
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrSessionVanished
	}
	if target != 0 {
		s.voiceChannel = target
	}

	active := s.playing && s.current != nil && s.sink.Status() != SinkIdle
	switch {
	case now && active:
		s.current = nil
		s.advanceLocked()
	case !active:
		s.advanceLocked()
	}
	return nil
}

// Reset tears the guild's session down. self marks the disconnect as our own doing so the
// voice-state handler does not announce it. Resetting an absent session does nothing.
func (vs *VoiceSystem) Reset(ctx context.Context, guildID snowflake.ID, self bool) bool {
	vs.mu.Lock()
	s, ok := vs.sessions[guildID]
	vs.mu.Unlock()
	if !ok {
		return false
	}
	return vs.resetSession(ctx, s, self)
}

func (vs *VoiceSystem) resetSession(ctx context.Context, s *VoiceSession, self bool) bool {
	vs.mu.Lock()
	if vs.sessions[s.GuildID] != s {
		vs.mu.Unlock()
		return false
	}
	delete(vs.sessions, s.GuildID)
	if self {
		vs.selfLeaving[s.GuildID] = true
	}
	retired := s.retire()
	vs.fetch.Abandon(s.GuildID)
	vs.mu.Unlock()

	if !retired {
		return false
	}
	s.release(ctx)
	sys.LogVoice(sys.MsgVoiceSessionReset, s.GuildID, self)
	return true
}

// HandleDisconnect processes an external "bot left voice" signal. It returns true when the
// disconnect was not self-initiated and a notice was sent.
func (vs *VoiceSystem) HandleDisconnect(ctx context.Context, guildID snowflake.ID) bool {
	vs.mu.Lock()
	self := vs.selfLeaving[guildID]
	delete(vs.selfLeaving, guildID)
	s := vs.sessions[guildID]
	vs.mu.Unlock()

	if self || s == nil {
		return false
	}

	channel := s.TextChannel()
	if !vs.resetSession(ctx, s, false) {
		return false
	}
	if vs.deps.Notifier != nil && channel != 0 {
		if _, err := vs.deps.Notifier.Send(ctx, channel, Notice{Kind: NoticeDisconnected, GuildID: guildID}); err != nil {
			sys.LogWarn(sys.MsgVoiceNotifyFail, guildID, err)
		}
	}
	return true
}

// CheckIfAlone resets the session when no humans remain in its channel.
func (vs *VoiceSystem) CheckIfAlone(ctx context.Context, guildID snowflake.ID, humans int) bool {
	if humans > 0 {
		return false
	}
	return vs.Reset(ctx, guildID, true)
}

// SetMuted pauses on server mute and resumes on unmute, only undoing pauses it caused.
func (vs *VoiceSystem) SetMuted(guildID snowflake.ID, muted bool) {
	if s := vs.Get(guildID); s != nil {
		s.setMuted(muted)
	}
}

// Shutdown resets every session and stops the fetch scheduler.
func (vs *VoiceSystem) Shutdown(ctx context.Context) {
	vs.mu.Lock()
	all := make([]*VoiceSession, 0, len(vs.sessions))
	for _, s := range vs.sessions {
		all = append(all, s)
	}
	vs.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *VoiceSession) {
			defer wg.Done()
			vs.resetSession(ctx, s, true)
		}(s)
	}
	wg.Wait()
	vs.fetch.Close()
}
