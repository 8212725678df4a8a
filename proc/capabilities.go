package proc

import (
	"context"
	"io"

	"github.com/disgoorg/snowflake/v2"
)

// AudioFetcher yields the audio bytes for a track. Closing the reader early must be safe.
type AudioFetcher interface {
	Fetch(ctx context.Context, t *Track) (io.ReadCloser, error)
}

// Cache maps track ids to local audio files.
type Cache interface {
	// Path is where the file for id lives once stored; it may not exist yet.
	Path(id string) string
	Resolve(id string) (string, bool)
	Store(ctx context.Context, t *Track, r io.Reader) (string, error)
}

type MetadataProvider interface {
	Lookup(ctx context.Context, id string) (*TrackInfo, error)
}

type RecommendationProvider interface {
	Name() string
	Recommend(ctx context.Context, seed *Track, limit int) ([]Candidate, error)
}

// Resolver turns a free-text query into a playable id.
type Resolver interface {
	Resolve(ctx context.Context, query string) (string, error)
}

// Sink is one guild's voice output.
//
// Play returns a channel that is closed once, when the sink goes idle after this source
// (finished, failed or stopped). Calling Play again replaces the running source.
type Sink interface {
	Connect(ctx context.Context, channelID snowflake.ID) error
	Connected() bool
	Play(src *AudioSource) (<-chan struct{}, error)
	Pause()
	Resume()
	Stop()
	Status() SinkStatus
	Close(ctx context.Context)
}

type SinkFactory interface {
	NewSink(guildID snowflake.ID) Sink
}

type SinkFactoryFunc func(guildID snowflake.ID) Sink

func (f SinkFactoryFunc) NewSink(guildID snowflake.ID) Sink { return f(guildID) }

type Notifier interface {
	Send(ctx context.Context, channelID snowflake.ID, n Notice) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, n Notice) error
}

// Deps bundles the collaborators a VoiceSystem drives. Metadata, Resolver and Notifier may be nil.
type Deps struct {
	Fetcher   AudioFetcher
	Cache     Cache
	Metadata  MetadataProvider
	Providers []RecommendationProvider
	Resolver  Resolver
	Sinks     SinkFactory
	Notifier  Notifier
}
