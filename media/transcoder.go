package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/asticode/go-astiav"
)

const (
	sampleRate   = 48000
	frameSamples = 960 // 20 ms at 48 kHz
)

// Transcoder decodes anything ffmpeg can probe and re-encodes it as 48 kHz stereo Opus
// packets of 20 ms, which is what the voice connection sends as-is.
type Transcoder struct {
	input     *astiav.FormatContext
	ioCtx     *astiav.IOContext
	reader    io.Reader
	stream    int
	decoder   *astiav.CodecContext
	encoder   *astiav.CodecContext
	swr       *astiav.SoftwareResampleContext
	fifo      *astiav.AudioFifo
	packet    *astiav.Packet
	out       *astiav.Packet
	frame     *astiav.Frame
	resampled *astiav.Frame
	pts       int64
	emit      func([]byte)
}

func NewTranscoder() *Transcoder {
	return &Transcoder{
		stream:    -1,
		packet:    astiav.AllocPacket(),
		out:       astiav.AllocPacket(),
		frame:     astiav.AllocFrame(),
		resampled: astiav.AllocFrame(),
	}
}

// OpenInput opens a file or URL, or reads from r when it is non-nil.
func (t *Transcoder) OpenInput(path string, r io.Reader) error {
	t.input = astiav.AllocFormatContext()
	if t.input == nil {
		return errors.New("failed to alloc format context")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()

	if r != nil {
		t.reader = r
		ioCtx, err := astiav.AllocIOContext(16*1024, false, t.read, func(offset int64, whence int) (int64, error) {
			return 0, errors.New("seek not supported")
		}, nil)
		if err != nil {
			return err
		}
		t.ioCtx = ioCtx
		t.input.SetPb(ioCtx)
		t.input.SetFlags(t.input.Flags().Add(astiav.FormatContextFlagCustomIo))
		_ = opts.Set("probesize", "10000000", 0)
		_ = opts.Set("analyzeduration", "10000000", 0)
		path = ""
	} else if strings.HasPrefix(path, "http") {
		_ = opts.Set("reconnect", "1", 0)
		_ = opts.Set("reconnect_streamed", "1", 0)
		_ = opts.Set("reconnect_delay_max", "30", 0)
		_ = opts.Set("timeout", "30000000", 0)
	}

	if err := t.input.OpenInput(path, nil, opts); err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	if err := t.input.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("stream info: %w", err)
	}
	for _, s := range t.input.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.stream = s.Index()
			break
		}
	}
	if t.stream < 0 {
		return errors.New("no audio stream")
	}
	return nil
}

func (t *Transcoder) read(b []byte) (int, error) {
	return t.reader.Read(b)
}

// Setup prepares the decoder for the opened stream, the libopus encoder and the resampler.
func (t *Transcoder) Setup() error {
	params := t.input.Streams()[t.stream].CodecParameters()
	dec := astiav.FindDecoder(params.CodecID())
	if dec == nil {
		return fmt.Errorf("no decoder for %s", params.CodecID())
	}
	t.decoder = astiav.AllocCodecContext(dec)
	if err := params.ToCodecContext(t.decoder); err != nil {
		return err
	}
	if err := t.decoder.Open(dec, nil); err != nil {
		return fmt.Errorf("open decoder: %w", err)
	}

	enc := astiav.FindEncoderByName("libopus")
	if enc == nil {
		enc = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if enc == nil {
		return errors.New("no opus encoder")
	}
	t.encoder = astiav.AllocCodecContext(enc)
	t.encoder.SetBitRate(128000)
	t.encoder.SetSampleRate(sampleRate)
	t.encoder.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoder.SetSampleFormat(astiav.SampleFormatS16)
	t.encoder.SetTimeBase(astiav.NewRational(1, sampleRate))

	eopts := astiav.NewDictionary()
	defer eopts.Free()
	_ = eopts.Set("vbr", "on", 0)
	_ = eopts.Set("frame_size", "20", 0)
	if err := t.encoder.Open(enc, eopts); err != nil {
		return fmt.Errorf("open encoder: %w", err)
	}

	// Configured lazily by ConvertFrame from the first decoded frame.
	t.swr = astiav.AllocSoftwareResampleContext()
	if t.swr == nil {
		return errors.New("failed to alloc resampler")
	}
	return nil
}

// Transcode runs until the input ends, ctx is canceled or reading fails. Every encoded
// packet is handed to emit as a fresh slice.
func (t *Transcoder) Transcode(ctx context.Context, emit func([]byte)) error {
	t.emit = emit
	t.fifo = astiav.AllocAudioFifo(t.encoder.SampleFormat(), t.encoder.ChannelLayout().Channels(), frameSamples*2)
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.input.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if t.packet.StreamIndex() != t.stream {
			t.packet.Unref()
			continue
		}
		err := t.decoder.SendPacket(t.packet)
		t.packet.Unref()
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		t.receiveFrames()
		t.drain(false)
	}

	_ = t.decoder.SendPacket(nil)
	t.receiveFrames()
	t.drain(true)
	t.encode(nil)
	return nil
}

func (t *Transcoder) receiveFrames() {
	for t.decoder.ReceiveFrame(t.frame) == nil {
		n := int(astiav.RescaleQ(int64(t.frame.NbSamples()),
			astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, sampleRate)))
		if n > 0 {
			t.prepare(n)
			if t.swr.ConvertFrame(t.frame, t.resampled) == nil {
				_, _ = t.fifo.Write(t.resampled)
			}
		}
		t.frame.Unref()
	}
}

// drain encodes whole frames from the fifo; with flush set it also encodes the remainder.
func (t *Transcoder) drain(flush bool) {
	for t.fifo.Size() >= frameSamples || (flush && t.fifo.Size() > 0) {
		n := min(t.fifo.Size(), frameSamples)
		t.prepare(n)
		_, _ = t.fifo.Read(t.resampled)
		t.resampled.SetPts(t.pts)
		t.pts += int64(n)
		t.encode(t.resampled)
	}
}

func (t *Transcoder) prepare(samples int) {
	t.resampled.Unref()
	t.resampled.SetChannelLayout(t.encoder.ChannelLayout())
	t.resampled.SetSampleFormat(t.encoder.SampleFormat())
	t.resampled.SetSampleRate(t.encoder.SampleRate())
	t.resampled.SetNbSamples(samples)
	_ = t.resampled.AllocBuffer(0)
}

// encode sends f (nil flushes) and forwards every packet the encoder produces.
func (t *Transcoder) encode(f *astiav.Frame) {
	if err := t.encoder.SendFrame(f); err != nil {
		return
	}
	for t.encoder.ReceivePacket(t.out) == nil {
		data := t.out.Data()
		buf := make([]byte, len(data))
		copy(buf, data)
		t.out.Unref()
		if t.emit != nil {
			t.emit(buf)
		}
	}
}

func (t *Transcoder) Close() {
	if t.swr != nil {
		t.swr.Free()
	}
	if t.decoder != nil {
		t.decoder.Free()
	}
	if t.encoder != nil {
		t.encoder.Free()
	}
	t.resampled.Free()
	t.frame.Free()
	t.out.Free()
	t.packet.Free()
	if t.input != nil {
		t.input.CloseInput()
		t.input.Free()
	}
	if t.ioCtx != nil {
		t.ioCtx.Free()
	}
}
