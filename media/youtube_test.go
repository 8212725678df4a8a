package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kkdai/youtube/v2"
	"github.com/leeineian/morphbot/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls int
	data  string
	err   error
}

func (s *stubFetcher) Fetch(ctx context.Context, t *proc.Track) (io.ReadCloser, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.data)), nil
}

func TestFallbackFetcher_UsesFirstSuccess(t *testing.T) {
	first := &stubFetcher{err: errors.New("403")}
	second := &stubFetcher{data: "audio"}
	third := &stubFetcher{data: "never"}

	f := NewFallbackFetcher().Add("one", first).Add("two", second).Add("three", third)
	rc, err := f.Fetch(context.Background(), &proc.Track{ID: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	defer rc.Close()

	b, _ := io.ReadAll(rc)
	assert.Equal(t, "audio", string(b))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Zero(t, third.calls)
}

func TestFallbackFetcher_JoinsErrors(t *testing.T) {
	errA, errB := errors.New("a failed"), errors.New("b failed")
	f := NewFallbackFetcher().Add("a", &stubFetcher{err: errA}).Add("b", &stubFetcher{err: errB})

	_, err := f.Fetch(context.Background(), &proc.Track{ID: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "a: a failed")
}

func TestFallbackFetcher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	second := &stubFetcher{data: "audio"}
	f := NewFallbackFetcher().Add("a", &stubFetcher{err: errors.New("x")}).Add("b", second)

	_, err := f.Fetch(ctx, &proc.Track{ID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, second.calls)
}

func TestFallbackFetcher_Empty(t *testing.T) {
	_, err := NewFallbackFetcher().Fetch(context.Background(), &proc.Track{})
	assert.Error(t, err)
}

func TestBestAudio(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, AudioChannels: 2},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2},
		{ItagNo: 250, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2},
	}
	got := bestAudio(formats)
	require.NotNil(t, got)
	assert.Equal(t, 251, got.ItagNo)

	got = bestAudio(formats[:3])
	require.NotNil(t, got)
	assert.Equal(t, 250, got.ItagNo)

	got = bestAudio(formats[:2])
	require.NotNil(t, got)
	assert.Equal(t, 140, got.ItagNo)

	assert.Nil(t, bestAudio(formats[:1]))
}
