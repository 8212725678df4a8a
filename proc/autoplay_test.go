package proc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func autoplaySeed() *Track {
	return &Track{
		ID:       "seed",
		Title:    "Artist - Song Name (Official Video)",
		Duration: 200 * time.Second,
		Meta:     &TrackMeta{Channel: "Artist"},
	}
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestAutoplay_FilterRejections(t *testing.T) {
	a := NewAutoplay(nil, nil, nil, DefaultOptions())
	known := map[string]struct{}{"queued": {}}

	cands := []Candidate{
		{ID: "seed", Title: "Something Else", Artist: "Band", Provenance: ProvenanceYTMusicRadio},
		{ID: "queued", Title: "Another Thing", Artist: "Band", Provenance: ProvenanceYTMusicRadio},
		{ID: "neardup", Title: "Song Name [Lyrics]", Artist: "Artist", Provenance: ProvenanceYTMusicRadio},
		{ID: "live", Title: "Song Name Story (Live)", Artist: "Artist", Provenance: ProvenanceSearch},
		{ID: "unrelated", Title: "Completely Different", Artist: "Artist", Provenance: ProvenanceSearch},
		{ID: "toolong", Title: "Song Story", Artist: "Artist", Duration: 400 * time.Second, Provenance: ProvenanceSearch},
		{ID: "search-ok", Title: "Song Story", Artist: "Artist", Duration: 210 * time.Second, Provenance: ProvenanceSearch},
		{ID: "vetted-live", Title: "Other Tune (Live)", Artist: "Band", Provenance: ProvenanceYouTubeMix},
		{ID: "vetted", Title: "Far Away", Artist: "Band", Duration: 500 * time.Second, Provenance: ProvenanceYTMusicRadio},
	}

	got := a.filter(autoplaySeed(), cands, known)
	assert.Equal(t, []string{"search-ok", "vetted-live", "vetted"}, ids(got))
}

func TestAutoplay_FilterAllowsRenditionWhenSeedIsOne(t *testing.T) {
	a := NewAutoplay(nil, nil, nil, DefaultOptions())
	seed := &Track{ID: "seed", Title: "Song Name (Live at Wembley)", Meta: &TrackMeta{Channel: "Artist"}}
	cands := []Candidate{
		{ID: "c1", Title: "Song Other (Live)", Artist: "Artist", Provenance: ProvenanceSearch},
	}
	assert.Equal(t, []string{"c1"}, ids(a.filter(seed, cands, nil)))
}

func TestAutoplay_RunAcceptsOnePerArtistUpToTarget(t *testing.T) {
	h := newHarness(t, testOptions(), "A")
	defer h.close(t)
	ctx := context.Background()
	s := h.session(testGuild)
	require.NoError(t, h.vs.Enqueue(ctx, testGuild, track("A"), testVoice))

	provider := &fakeProvider{name: "radio", cands: []Candidate{
		{ID: "A", Title: "Whatever", Artist: "Band", Provenance: ProvenanceYTMusicRadio},
		{ID: "r1", Title: "First Pick", Artist: "Band", Provenance: ProvenanceYTMusicRadio},
		{ID: "r2", Title: "Second Pick", Artist: "BAND", Provenance: ProvenanceYTMusicRadio},
		{ID: "r3", Title: "Third Pick", Artist: "Other Band", Provenance: ProvenanceYTMusicRadio},
		{ID: "r4", Title: "Fourth Pick", Artist: "Third Band", Provenance: ProvenanceYTMusicRadio},
	}}
	a := NewAutoplay(h.vs, []RecommendationProvider{provider}, nil, h.vs.Options())

	seed := track("A")
	added := a.Run(ctx, s, seed)

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"r1", "r3"}, pendingIDs(s))
	eventually(t, func() bool { return h.notifier.Count(NoticeAutoplay) == 1 }, "summary notice")
	n, _ := h.notifier.Find(NoticeAutoplay)
	assert.Equal(t, 2, n.Count)
}

func TestAutoplay_ProviderChainFallsThrough(t *testing.T) {
	h := newHarness(t, testOptions(), "A")
	defer h.close(t)
	ctx := context.Background()
	s := h.session(testGuild)
	require.NoError(t, h.vs.Enqueue(ctx, testGuild, track("A"), testVoice))

	broken := &fakeProvider{name: "radio", err: errors.New("quota exceeded")}
	empty := &fakeProvider{name: "mix"}
	search := &fakeProvider{name: "search", cands: []Candidate{
		{Title: "Track A Reprise", Artist: "Artist A", Duration: 3 * time.Minute, Provenance: ProvenanceSearch},
		{Title: "Track A Unplugged Demo", Artist: "Artist B", Provenance: ProvenanceSearch},
	}}
	unused := &fakeProvider{name: "unused", cands: []Candidate{{ID: "never", Title: "x"}}}
	resolver := &fakeResolver{ids: map[string]string{"Artist A Track A Reprise": "resolved"}}

	a := NewAutoplay(h.vs, []RecommendationProvider{broken, empty, search, unused}, resolver, h.vs.Options())
	added := a.Run(ctx, s, track("A"))

	assert.Equal(t, 1, added, "unresolvable candidate is dropped")
	assert.Equal(t, []string{"resolved"}, pendingIDs(s))
	assert.Equal(t, 1, broken.Calls())
	assert.Equal(t, 1, empty.Calls())
	assert.Equal(t, 1, search.Calls())
	assert.Zero(t, unused.Calls())
}

func TestAutoplay_NothingFoundSendsNoSummary(t *testing.T) {
	h := newHarness(t, testOptions(), "A")
	defer h.close(t)
	ctx := context.Background()
	s := h.session(testGuild)
	require.NoError(t, h.vs.Enqueue(ctx, testGuild, track("A"), testVoice))

	a := NewAutoplay(h.vs, []RecommendationProvider{&fakeProvider{name: "empty"}}, nil, h.vs.Options())
	assert.Zero(t, a.Run(ctx, s, track("A")))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, h.notifier.Count(NoticeAutoplay))
}

func TestAutoplay_VanishedSessionIsNotRecreated(t *testing.T) {
	h := newHarness(t, testOptions(), "A")
	defer h.close(t)
	ctx := context.Background()
	s := h.session(testGuild)
	require.NoError(t, h.vs.Enqueue(ctx, testGuild, track("A"), testVoice))
	h.vs.Reset(ctx, testGuild, true)

	provider := &fakeProvider{name: "radio", cands: []Candidate{
		{ID: "r1", Title: "First Pick", Artist: "Band", Provenance: ProvenanceYTMusicRadio},
	}}
	a := NewAutoplay(h.vs, []RecommendationProvider{provider}, nil, h.vs.Options())
	assert.Zero(t, a.Run(ctx, s, track("A")))
	assert.Nil(t, h.vs.Get(testGuild))
}

func TestAutoplay_TriggeredWhenQueueRunsDry(t *testing.T) {
	h := newHarness(t, testOptions(), "A")
	provider := &fakeProvider{name: "radio", cands: []Candidate{
		{ID: "r1", Title: "First Pick", Artist: "Band", Provenance: ProvenanceYTMusicRadio},
		{ID: "r2", Title: "Second Pick", Artist: "Other Band", Provenance: ProvenanceYTMusicRadio},
	}}
	h.vs.autoplay = NewAutoplay(h.vs, []RecommendationProvider{provider}, nil, h.vs.Options())
	defer h.close(t)

	s := h.session(testGuild)
	s.SetAutoplay(true)
	require.NoError(t, h.vs.Enqueue(context.Background(), testGuild, track("A"), testVoice))

	eventually(t, func() bool { return len(pendingIDs(s)) == 2 }, "recommendations appended")
	assert.Equal(t, "A", current(s))
	assert.Equal(t, []string{"r1", "r2"}, pendingIDs(s))
	assert.Equal(t, 1, provider.Calls())
}
