package media

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

// ===========================
// Voice Sink
// ===========================

// VoiceSink plays sources into one guild's voice connection through the astiav transcoder.
type VoiceSink struct {
	client  *bot.Client
	guildID snowflake.ID

	mu        sync.Mutex
	conn      voice.Conn
	channelID snowflake.ID
	status    proc.SinkStatus
	current   *playback
	line      *statusLine
}

type playback struct {
	src      *proc.AudioSource
	provider *frameProvider
	cancel   context.CancelFunc
	idle     chan struct{}
	once     sync.Once
}

func (p *playback) end() {
	p.once.Do(func() {
		p.cancel()
		close(p.idle)
	})
}

// NewSinkFactory hands every new session its own VoiceSink.
func NewSinkFactory(client *bot.Client) proc.SinkFactory {
	return proc.SinkFactoryFunc(func(guildID snowflake.ID) proc.Sink {
		return NewVoiceSink(client, guildID)
	})
}

func NewVoiceSink(client *bot.Client, guildID snowflake.ID) *VoiceSink {
	return &VoiceSink{client: client, guildID: guildID}
}

func (v *VoiceSink) Connect(ctx context.Context, channelID snowflake.ID) error {
	v.mu.Lock()
	if v.conn != nil && v.channelID == channelID {
		v.mu.Unlock()
		return nil
	}
	conn := v.conn
	if conn == nil {
		conn = v.client.VoiceManager.CreateConn(v.guildID)
		v.conn = conn
	}
	v.mu.Unlock()

	if err := conn.Open(ctx, channelID, false, false); err != nil {
		conn.Close(ctx)
		v.mu.Lock()
		if v.conn == conn {
			v.conn = nil
			v.channelID = 0
		}
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	old := v.line
	v.channelID = channelID
	v.line = newStatusLine(v.client, channelID)
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}
	sys.LogVoice(sys.MsgVoiceConnected, channelID, v.guildID)
	return nil
}

func (v *VoiceSink) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn != nil && v.channelID != 0
}

func (v *VoiceSink) Play(src *proc.AudioSource) (<-chan struct{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil || v.channelID == 0 {
		return nil, proc.ErrNotConnected
	}
	v.endLocked()

	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{src: src, cancel: cancel, idle: make(chan struct{})}
	pb.provider = newFrameProvider(ctx,
		func() { v.markPlaying(pb) },
		func() { v.finish(pb) },
	)
	v.current = pb
	v.status = proc.SinkBuffering
	v.setProviderLocked(pb.provider)
	v.conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone)
	v.line.Set(statusText("🎶 ", src.Track))

	go v.stream(ctx, pb)
	return pb.idle, nil
}

func (v *VoiceSink) stream(ctx context.Context, pb *playback) {
	defer pb.provider.push(nil)

	tc := NewTranscoder()
	defer tc.Close()

	var err error
	if path, ok := pb.src.Local(); ok {
		err = tc.OpenInput(path, nil)
	} else {
		err = tc.OpenInput("", pb.src)
	}
	if err == nil {
		err = tc.Setup()
	}
	if err == nil {
		err = tc.Transcode(ctx, pb.provider.push)
	}
	if err != nil && ctx.Err() == nil {
		sys.LogVoice(sys.MsgVoiceTranscodeFail, v.guildID, pb.src.Track.DisplayTitle(), err)
		pb.src.Fail(fmt.Errorf("%w: %v", proc.ErrFetchFailed, err))
	}
}

func (v *VoiceSink) markPlaying(pb *playback) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == pb && v.status == proc.SinkBuffering {
		v.status = proc.SinkPlaying
	}
}

// finish runs once the provider has handed out the last frame.
func (v *VoiceSink) finish(pb *playback) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == pb {
		v.endLocked()
		return
	}
	pb.end()
}

func (v *VoiceSink) endLocked() {
	if v.current == nil {
		return
	}
	v.current.end()
	v.current = nil
	v.status = proc.SinkIdle
	if v.conn != nil {
		v.setProviderLocked(nil)
		v.conn.SetSpeaking(context.TODO(), 0)
	}
	v.line.Set("")
}

func (v *VoiceSink) setProviderLocked(p voice.OpusFrameProvider) {
	defer func() {
		if r := recover(); r != nil {
			sys.LogVoice(sys.MsgVoiceSinkPanic, r)
		}
	}()
	v.conn.SetOpusFrameProvider(p)
}

func (v *VoiceSink) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil || (v.status != proc.SinkPlaying && v.status != proc.SinkBuffering) {
		return
	}
	v.status = proc.SinkPaused
	v.current.provider.paused.Store(true)
	v.line.Set(statusText("⏸️ ", v.current.src.Track))
}

func (v *VoiceSink) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil || v.status != proc.SinkPaused {
		return
	}
	v.status = proc.SinkPlaying
	v.current.provider.paused.Store(false)
	v.line.Set(statusText("🎶 ", v.current.src.Track))
}

func (v *VoiceSink) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.endLocked()
}

func (v *VoiceSink) Status() proc.SinkStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Close stops playback, leaves the channel and clears its status line.
func (v *VoiceSink) Close(ctx context.Context) {
	v.mu.Lock()
	v.endLocked()
	conn, line := v.conn, v.line
	v.conn, v.line, v.channelID = nil, nil, 0
	v.mu.Unlock()

	if line != nil {
		line.Close()
	}
	if conn != nil {
		conn.Close(ctx)
	}
}

func statusText(prefix string, t *proc.Track) string {
	title, suffix := t.Title, ""
	if title == "" {
		title = t.Source()
	}
	if t.Channel() != "" {
		suffix = " · " + t.Channel()
	}
	return sys.TruncateWithPreserve(title, 128, prefix, suffix)
}

// ===========================
// Frame Provider
// ===========================

// frameProvider feeds encoded packets to the voice connection. A nil frame marks the end.
type frameProvider struct {
	ctx     context.Context
	frames  chan []byte
	paused  atomic.Bool
	ended   atomic.Bool
	started sync.Once
	onStart func()
	onEnd   func()
}

func newFrameProvider(ctx context.Context, onStart, onEnd func()) *frameProvider {
	return &frameProvider{
		ctx:     ctx,
		frames:  make(chan []byte, 100),
		onStart: onStart,
		onEnd:   onEnd,
	}
}

func (p *frameProvider) push(frame []byte) {
	select {
	case p.frames <- frame:
	case <-p.ctx.Done():
	}
}

// ProvideOpusFrame is called by the voice connection every 20 ms. The callbacks run on
// their own goroutines because they take the sink lock while the connection may hold its own.
func (p *frameProvider) ProvideOpusFrame() ([]byte, error) {
	if p.ended.Load() {
		return nil, io.EOF
	}
	if p.paused.Load() {
		return nil, nil
	}
	select {
	case f := <-p.frames:
		if f == nil {
			if !p.ended.Swap(true) {
				go p.onEnd()
			}
			return nil, io.EOF
		}
		p.started.Do(func() { go p.onStart() })
		return f, nil
	case <-p.ctx.Done():
		return nil, io.EOF
	case <-time.After(100 * time.Millisecond):
		return nil, nil
	}
}

func (p *frameProvider) Close() {}

// ===========================
// Voice Channel Status
// ===========================

// statusLine debounces updates to the text shown under the voice channel.
type statusLine struct {
	client    *bot.Client
	channelID snowflake.ID
	updates   chan string
	cancel    context.CancelFunc
	done      chan struct{}
}

func newStatusLine(client *bot.Client, channelID snowflake.ID) *statusLine {
	ctx, cancel := context.WithCancel(context.Background())
	l := &statusLine{
		client:    client,
		channelID: channelID,
		updates:   make(chan string, 10),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

// Set is safe on a nil line and never blocks; the latest value wins.
func (l *statusLine) Set(status string) {
	if l == nil {
		return
	}
	select {
	case l.updates <- status:
	default:
	}
}

func (l *statusLine) run(ctx context.Context) {
	defer close(l.done)

	var cur, next string
	pending := false
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case next = <-l.updates:
			pending = next != cur
			if pending {
				timer.Reset(500 * time.Millisecond)
			}
		case <-timer.C:
			if !pending {
				continue
			}
			target := sys.TruncateCenter(next, 128)
			if err := sys.SetVoiceStatus(l.client, l.channelID, target); err != nil {
				sys.LogVoice(sys.MsgVoiceStatusFail, l.channelID, err)
				timer.Reset(time.Second)
				continue
			}
			cur, pending = next, false
		}
	}
}

// Close stops the updater and clears the status.
func (l *statusLine) Close() {
	l.cancel()
	<-l.done
	_ = sys.SetVoiceStatus(l.client, l.channelID, "")
}
