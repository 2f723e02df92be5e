package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tolkapp/tolk/internal/audio"
	"github.com/tolkapp/tolk/internal/protocol"
)

// Frame is one fixed-duration chunk of outbound audio in the wire contract
// format (PCM16LE mono at protocol.SampleRate). Frames are immutable once
// emitted and carry a session-monotonic sequence number.
type Frame struct {
	Seq        uint64
	PCM        []byte
	CapturedAt time.Time
}

// Config tunes the pipeline. The output format itself is a hard contract
// and not configurable.
type Config struct {
	// FrameDuration is the emitted frame length. Default 100ms.
	FrameDuration time.Duration

	// SpeechThreshold is the RMS level above which the local speech
	// indicator reports true. Purely for UI feedback; it never gates
	// what is sent. Default 0.015.
	SpeechThreshold float64

	// OnLevel, when set, is invoked once per emitted frame with the
	// frame's RMS level and the speech indicator.
	OnLevel func(level float64, speech bool)
}

var ErrAlreadyRunning = errors.New("capture: pipeline already running")

// Pipeline acquires the microphone and turns its native stream into wire
// contract frames. It supports repeated Start/Stop cycles (one per
// Streaming period); the frame sequence number is continuous across them.
type Pipeline struct {
	dev Device
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	seq     uint64
}

func NewPipeline(dev Device, cfg Config) *Pipeline {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 100 * time.Millisecond
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = 0.015
	}
	return &Pipeline{dev: dev, cfg: cfg}
}

// Start acquires the device and begins emitting frames. The frames channel
// closes when the device is exhausted or the pipeline stops; the errs
// channel carries at most one fatal pipeline error.
func (p *Pipeline) Start(ctx context.Context) (<-chan Frame, <-chan error, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, nil, ErrAlreadyRunning
	}

	stream, err := p.dev.Open(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("capture: acquire device: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running = true
	p.mu.Unlock()

	frames := make(chan Frame, 16)
	errs := make(chan error, 1)
	go func() {
		p.run(runCtx, stream, frames, errs)
		// Release the running flag only if this run still owns it, so a
		// stale goroutine cannot clobber a later Start.
		p.mu.Lock()
		if p.done == done {
			p.cancel = nil
			p.done = nil
			p.running = false
		}
		p.mu.Unlock()
		close(done)
	}()
	return frames, errs, nil
}

// Stop halts frame production and waits for the device to be released, so
// the microphone is free for the next acquisition the moment Stop returns.
// It is idempotent and safe to call when the pipeline never started.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Pipeline) run(ctx context.Context, stream Stream, frames chan<- Frame, errs chan<- error) {
	defer stream.Close()
	defer close(frames)

	native := stream.Format()
	rs, err := audio.NewResampler(native.SampleRate, protocol.SampleRate)
	if err != nil {
		errs <- fmt.Errorf("capture: format conversion unavailable: %w", err)
		return
	}

	frameBytes := int(protocol.SampleRate*protocol.BytesPerSample) * int(p.cfg.FrameDuration.Milliseconds()) / 1000
	// Read roughly one frame's worth of native audio per iteration.
	chunkBytes := native.SampleRate * native.Channels * protocol.BytesPerSample *
		int(p.cfg.FrameDuration.Milliseconds()) / 1000

	buf := make([]byte, chunkBytes)
	var acc []byte

	flush := func(pcm []byte) bool {
		frame := Frame{PCM: pcm, CapturedAt: time.Now().UTC()}
		p.mu.Lock()
		p.seq++
		frame.Seq = p.seq
		p.mu.Unlock()

		if p.cfg.OnLevel != nil {
			level := audio.RMSLevel(pcm)
			p.cfg.OnLevel(level, level >= p.cfg.SpeechThreshold)
		}
		select {
		case frames <- frame:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if native.Channels == 2 {
				chunk = audio.DownmixStereo16(chunk)
			}
			converted, convErr := rs.Resample(chunk)
			if convErr != nil {
				errs <- fmt.Errorf("capture: %w", convErr)
				return
			}
			acc = append(acc, converted...)
			for len(acc) >= frameBytes {
				pcm := make([]byte, frameBytes)
				copy(pcm, acc[:frameBytes])
				acc = acc[frameBytes:]
				if !flush(pcm) {
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Device input ended cleanly; pad the trailing partial
				// frame with silence so the fixed duration holds.
				if len(acc) > 0 {
					pcm := make([]byte, frameBytes)
					copy(pcm, acc)
					flush(pcm)
				}
				return
			}
			errs <- fmt.Errorf("capture: device read: %w", readErr)
			return
		}
	}
}
