package proc

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// AudioSource wraps one fetch of a track. A local source is ready immediately; a remote
// source starts its fetch in the background and becomes either ready or failed.
type AudioSource struct {
	Track *Track

	path    string
	fetcher AudioFetcher
	ctx     context.Context
	cancel  context.CancelFunc

	ready  chan struct{}
	failed chan struct{}

	mu     sync.Mutex
	rc     io.ReadCloser
	err    error
	closed bool
	once   sync.Once
	fail   sync.Once
}

// NewFileSource plays a file that already exists on disk.
func NewFileSource(t *Track, path string) *AudioSource {
	ctx, cancel := context.WithCancel(context.Background())
	src := &AudioSource{
		Track:  t.Clone(),
		path:   path,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
	close(src.ready)
	return src
}

// NewStreamSource prepares a remote fetch; nothing happens until Start.
func NewStreamSource(ctx context.Context, f AudioFetcher, t *Track) *AudioSource {
	ctx, cancel := context.WithCancel(ctx)
	return &AudioSource{
		Track:   t.Clone(),
		fetcher: f,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		failed:  make(chan struct{}),
	}
}

// Start launches the fetch for remote sources. It is safe to call more than once.
func (s *AudioSource) Start() {
	if s.fetcher == nil {
		return
	}
	s.once.Do(func() {
		go s.open()
	})
}

func (s *AudioSource) open() {
	rc, err := s.fetcher.Fetch(s.ctx, s.Track)
	if err != nil {
		s.Fail(fmt.Errorf("%w: %s: %v", ErrFetchFailed, s.Track.Source(), err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = rc.Close()
		return
	}
	s.rc = rc
	s.mu.Unlock()
	close(s.ready)
}

// Local returns the on-disk path when the source is a cached file.
func (s *AudioSource) Local() (string, bool) {
	return s.path, s.path != ""
}

func (s *AudioSource) Ready() <-chan struct{}  { return s.ready }
func (s *AudioSource) Failed() <-chan struct{} { return s.failed }

func (s *AudioSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail records the first stream error. Sinks call it when decoding breaks mid-track.
func (s *AudioSource) Fail(err error) {
	if err == nil {
		return
	}
	s.fail.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.failed)
	})
}

// Read blocks until the source is ready, then streams. io.EOF is a normal end.
func (s *AudioSource) Read(p []byte) (int, error) {
	s.Start()
	if s.path != "" {
		if err := s.openFile(); err != nil {
			return 0, err
		}
	} else {
		select {
		case <-s.ready:
		case <-s.failed:
			return 0, s.Err()
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		}
	}

	s.mu.Lock()
	rc := s.rc
	s.mu.Unlock()
	if rc == nil {
		return 0, io.ErrClosedPipe
	}

	n, err := rc.Read(p)
	if err != nil && err != io.EOF && s.ctx.Err() == nil {
		s.Fail(fmt.Errorf("%w: %v", ErrFetchFailed, err))
	}
	return n, err
}

func (s *AudioSource) openFile() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	if s.rc != nil {
		s.mu.Unlock()
		return nil
	}
	f, err := os.Open(s.path)
	if err == nil {
		s.rc = f
	}
	s.mu.Unlock()

	if err != nil {
		s.Fail(err)
	}
	return err
}

// Close cancels the fetch and releases the stream. Later reads fail.
func (s *AudioSource) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rc != nil {
		return s.rc.Close()
	}
	return nil
}
