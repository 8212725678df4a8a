package proc

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrFetchFailed         = errors.New("fetch failed")
	ErrResolutionFailed    = errors.New("resolution failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrSessionVanished     = errors.New("session no longer exists")
	ErrNotConnected        = errors.New("not connected to voice")
	ErrDuplicate           = errors.New("track already queued")
)

// ===========================
// Track
// ===========================

// Track is one playable item. ID is the cache and dedup key (a YouTube video id in practice).
type Track struct {
	ID        string
	Title     string
	Duration  time.Duration
	URL       string
	Path      string
	Meta      *TrackMeta
	Requester snowflake.ID
}

type TrackMeta struct {
	Channel     string
	ChannelID   string
	Thumbnail   string
	ExternalIDs map[string]string
}

// Clone returns a deep copy so callers can hand tracks across goroutines without sharing.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	if t.Meta != nil {
		m := *t.Meta
		m.ExternalIDs = maps.Clone(t.Meta.ExternalIDs)
		c.Meta = &m
	}
	return &c
}

func (t *Track) Channel() string {
	if t.Meta == nil {
		return ""
	}
	return t.Meta.Channel
}

func (t *Track) DisplayTitle() string {
	switch {
	case t.Title != "" && t.Channel() != "":
		return fmt.Sprintf("%s · %s", t.Title, t.Channel())
	case t.Title != "":
		return t.Title
	case t.URL != "":
		return t.URL
	}
	return t.ID
}

// Source is the string handed to the fetcher: the direct URL if present, otherwise the id.
func (t *Track) Source() string {
	if t.URL != "" {
		return t.URL
	}
	return t.ID
}

// apply merges looked-up metadata into fields that are still empty.
func (t *Track) apply(info *TrackInfo) {
	if info == nil {
		return
	}
	if t.Title == "" {
		t.Title = info.Title
	}
	if t.Duration == 0 {
		t.Duration = info.Duration
	}
	if t.Meta == nil {
		t.Meta = &TrackMeta{}
	}
	if t.Meta.Channel == "" {
		t.Meta.Channel = info.Channel
	}
	if t.Meta.Thumbnail == "" {
		t.Meta.Thumbnail = info.Thumbnail
	}
}

type TrackInfo struct {
	Title     string
	Channel   string
	Duration  time.Duration
	Thumbnail string
}

// ===========================
// Recommendations
// ===========================

type Provenance int

const (
	ProvenanceYTMusicRadio Provenance = iota
	ProvenanceYouTubeMix
	ProvenanceSearch
)

// Vetted reports whether the source already ranks candidates by similarity to the seed.
func (p Provenance) Vetted() bool {
	return p == ProvenanceYTMusicRadio || p == ProvenanceYouTubeMix
}

func (p Provenance) String() string {
	switch p {
	case ProvenanceYTMusicRadio:
		return "ytmusic-radio"
	case ProvenanceYouTubeMix:
		return "youtube-mix"
	case ProvenanceSearch:
		return "search"
	}
	return "unknown"
}

type Candidate struct {
	ID         string
	Title      string
	Artist     string
	Duration   time.Duration
	Provenance Provenance
}

// ===========================
// Sink & Notifications
// ===========================

type SinkStatus int

const (
	SinkIdle SinkStatus = iota
	SinkBuffering
	SinkPlaying
	SinkPaused
)

func (s SinkStatus) String() string {
	switch s {
	case SinkBuffering:
		return "buffering"
	case SinkPlaying:
		return "playing"
	case SinkPaused:
		return "paused"
	}
	return "idle"
}

type NoticeKind int

const (
	NoticeNowPlaying NoticeKind = iota
	NoticeQueueEnded
	NoticeTrackFailed
	NoticeAutoplay
	NoticeImported
	NoticeDisconnected
	NoticeMuted
)

// Notice is a structured chat message; the Notifier decides how to render it.
type Notice struct {
	Kind    NoticeKind
	GuildID snowflake.ID
	Track   *Track
	Count   int
	Loop    bool
	Err     error
}

type MessageRef struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
}

func (r MessageRef) Valid() bool {
	return r.ChannelID != 0 && r.MessageID != 0
}
