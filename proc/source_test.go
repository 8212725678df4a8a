package proc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAudioSource_StreamReadsAfterReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := NewStreamSource(context.Background(), &fakeFetcher{}, track("A"))
	defer src.Close()

	data, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "opus:A", string(data))

	select {
	case <-src.Ready():
	default:
		t.Fatal("source should be ready")
	}
	assert.NoError(t, src.Err())
}

func TestAudioSource_FetchErrorSignalsFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := NewStreamSource(context.Background(), &fakeFetcher{err: errors.New("403")}, track("A"))
	defer src.Close()
	src.Start()

	<-src.Failed()
	assert.ErrorIs(t, src.Err(), ErrFetchFailed)

	_, err := src.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestAudioSource_CloseUnblocksPendingFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{block: make(chan struct{})}
	src := NewStreamSource(context.Background(), f, track("A"))
	src.Start()
	eventually(t, func() bool { return len(f.Calls()) == 1 }, "fetch started")

	require.NoError(t, src.Close())
	<-src.Failed()
	_, err := src.Read(make([]byte, 8))
	assert.Error(t, err)
}

func TestAudioSource_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.opus")
	require.NoError(t, os.WriteFile(path, []byte("cached-bytes"), 0644))

	src := NewFileSource(track("A"), path)
	defer src.Close()

	local, ok := src.Local()
	assert.True(t, ok)
	assert.Equal(t, path, local)

	data, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "cached-bytes", string(data))
}

func TestAudioSource_FailKeepsFirstError(t *testing.T) {
	src := NewFileSource(track("A"), "/nonexistent")
	first := errors.New("first")
	src.Fail(first)
	src.Fail(errors.New("second"))
	assert.Equal(t, first, src.Err())
}
