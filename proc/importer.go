package proc

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/sys"
)

// ===========================
// Playlist Importer
// ===========================

// PlaylistImporter feeds a batch into one session, pausing between tracks so the fetch
// queue and the chat are not flooded.
type PlaylistImporter struct {
	vs   *VoiceSystem
	opts Options

	// waited is called after each completed pacing delay.
	waited func(n int)
}

func NewPlaylistImporter(vs *VoiceSystem, opts Options) *PlaylistImporter {
	return &PlaylistImporter{vs: vs, opts: opts}
}

// Import enqueues tracks in order and returns how many were added. It stops early when the
// session it started with is torn down or ctx ends.
func (p *PlaylistImporter) Import(ctx context.Context, guildID snowflake.ID, tracks []*Track, target snowflake.ID) (int, error) {
	s := p.vs.Prepare(guildID)
	sys.LogPlaylist(sys.MsgPlaylistStarted, len(tracks), guildID)

	added, delays := 0, 0
	var err error
	for i, t := range tracks {
		if !s.Alive() {
			err = ErrSessionVanished
			break
		}

		serr := p.vs.submit(ctx, s, t, target, false)
		switch {
		case serr == nil:
			added++
		case errors.Is(serr, ErrDuplicate):
			continue
		default:
			err = serr
		}
		if err != nil {
			break
		}

		if i == len(tracks)-1 {
			break
		}
		if werr := p.wait(ctx, s); werr != nil {
			err = werr
			break
		}
		delays++
		if p.waited != nil {
			p.waited(delays)
		}
	}

	if err != nil && added < len(tracks) {
		sys.LogPlaylist(sys.MsgPlaylistAborted, guildID, added)
	}

	if added > 0 && s.Alive() {
		sys.LogPlaylist(sys.MsgPlaylistDone, added, guildID)
		s.mu.Lock()
		s.notifyLocked(Notice{Kind: NoticeImported, Count: added})
		s.mu.Unlock()
	}
	return added, err
}

// wait sleeps for the pacing delay, checking every tick whether the session still exists.
func (p *PlaylistImporter) wait(ctx context.Context, s *VoiceSession) error {
	if p.opts.ImportDelay <= 0 {
		return nil
	}
	deadline := time.NewTimer(p.opts.ImportDelay)
	defer deadline.Stop()
	tick := time.NewTicker(p.opts.ImportTick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if !s.Alive() {
				return ErrSessionVanished
			}
			return nil
		case <-tick.C:
			if !s.Alive() {
				return ErrSessionVanished
			}
		}
	}
}
