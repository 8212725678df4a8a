package proc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leeineian/morphbot/sys"
)

// ===========================
// Autoplay
// ===========================

// Autoplay picks follow-up tracks for a finished or playing seed and appends them to its session.
type Autoplay struct {
	vs        *VoiceSystem
	providers []RecommendationProvider
	resolver  Resolver
	opts      Options
}

func NewAutoplay(vs *VoiceSystem, providers []RecommendationProvider, resolver Resolver, opts Options) *Autoplay {
	return &Autoplay{vs: vs, providers: providers, resolver: resolver, opts: opts.withDefaults()}
}

// Run recommends, filters, resolves and appends up to the target count, returning how many
// were added. Provider and resolution failures only shrink the result.
func (a *Autoplay) Run(ctx context.Context, s *VoiceSession, seed *Track) int {
	cands := a.candidates(ctx, seed)
	if len(cands) == 0 {
		sys.LogAutoplay(sys.MsgAutoplayNone, seed.DisplayTitle())
		return 0
	}

	known := s.knownIDs()
	added := 0
	artists := make(map[string]struct{})
	for _, c := range a.filter(seed, cands, known) {
		if added >= a.opts.AutoplayTarget {
			break
		}
		artist := NormalizeArtist(c.Artist)
		if _, ok := artists[artist]; ok && artist != "" {
			continue
		}

		if c.ID == "" {
			id, err := a.resolve(ctx, c)
			if err != nil {
				sys.LogDebug(sys.MsgAutoplayDropped, c.Title, err)
				continue
			}
			c.ID = id
			if _, ok := known[c.ID]; ok || c.ID == seed.ID {
				continue
			}
		}

		t := &Track{
			ID:       c.ID,
			Title:    c.Title,
			Duration: c.Duration,
			Meta:     &TrackMeta{Channel: c.Artist},
		}
		err := a.vs.submit(ctx, s, t, 0, false)
		switch {
		case errors.Is(err, ErrSessionVanished), errors.Is(err, ErrNotConnected):
			return added
		case err != nil:
			continue
		}
		known[c.ID] = struct{}{}
		if artist != "" {
			artists[artist] = struct{}{}
		}
		added++
	}

	if added > 0 {
		sys.LogAutoplay(sys.MsgAutoplayAdded, added, s.GuildID)
		s.mu.Lock()
		s.notifyLocked(Notice{Kind: NoticeAutoplay, Count: added, Track: seed})
		s.mu.Unlock()
	} else {
		sys.LogAutoplay(sys.MsgAutoplayNone, seed.DisplayTitle())
	}
	return added
}

// candidates walks the providers in order and returns the first non-empty answer.
func (a *Autoplay) candidates(ctx context.Context, seed *Track) []Candidate {
	limit := max(a.opts.AutoplayTarget*5, 10)
	for _, p := range a.providers {
		if ctx.Err() != nil {
			return nil
		}
		cands, err := p.Recommend(ctx, seed, limit)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			sys.LogAutoplay(sys.MsgAutoplayProviderFail, p.Name(), err)
			continue
		}
		if len(cands) > 0 {
			return cands
		}
	}
	return nil
}

// filter applies the rejection rules in order. Artist diversity is enforced while accepting,
// since a candidate only claims its artist once it resolves.
func (a *Autoplay) filter(seed *Track, cands []Candidate, known map[string]struct{}) []Candidate {
	seedTokens := Tokens(seed.Title, seed.Channel())
	seedRendition := HasRenditionMarker(seed.Title)

	var out []Candidate
	for _, c := range cands {
		if c.ID != "" && c.ID == seed.ID {
			continue
		}
		if _, ok := known[c.ID]; ok && c.ID != "" {
			continue
		}

		vetted := c.Provenance.Vetted()
		if !vetted && !seedRendition && HasRenditionMarker(c.Title) {
			continue
		}

		overlap := Overlap(seedTokens, Tokens(c.Title, c.Artist))
		if !vetted && overlap < a.opts.MinOverlap {
			continue
		}
		if overlap >= a.opts.NearDuplicate {
			continue
		}

		if !vetted && seed.Duration > 0 && c.Duration > 0 {
			diff := seed.Duration - c.Duration
			if diff < 0 {
				diff = -diff
			}
			if diff > a.opts.DurationTolerance {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func (a *Autoplay) resolve(ctx context.Context, c Candidate) (string, error) {
	if a.resolver == nil {
		return "", ErrResolutionFailed
	}
	q := strings.TrimSpace(c.Artist + " " + c.Title)
	id, err := a.resolver.Resolve(ctx, q)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if id == "" {
		return "", ErrResolutionFailed
	}
	return id, nil
}
