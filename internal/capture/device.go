package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/tolkapp/tolk/internal/audio"
)

// Format describes a device's native capture format. Samples are always
// 16-bit little-endian; rate and channel count vary per device.
type Format struct {
	SampleRate int
	Channels   int
}

// Stream is an open capture handle. Read returns interleaved PCM16LE bytes
// in the stream's native format. Close releases the hardware.
type Stream interface {
	io.Reader
	Format() Format
	Close() error
}

// Device acquires the microphone. Open is a scoped operation: the returned
// Stream must be closed on every exit path.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// BufferDevice replays a fixed PCM buffer as if it were a microphone.
// Reads return io.EOF once the buffer is exhausted.
type BufferDevice struct {
	PCM []byte
	Fmt Format
}

func (d *BufferDevice) Open(context.Context) (Stream, error) {
	if d.Fmt.SampleRate <= 0 || d.Fmt.Channels < 1 || d.Fmt.Channels > 2 {
		return nil, fmt.Errorf("capture: invalid buffer device format %+v", d.Fmt)
	}
	return &bufferStream{r: bytes.NewReader(d.PCM), fmt: d.Fmt}, nil
}

type bufferStream struct {
	r   *bytes.Reader
	fmt Format
}

func (s *bufferStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *bufferStream) Format() Format             { return s.fmt }
func (s *bufferStream) Close() error               { return nil }

// WAVFileDevice reads microphone input from a recorded WAV file, which lets
// the headless client stream a canned utterance.
type WAVFileDevice struct {
	Path string
}

func (d *WAVFileDevice) Open(ctx context.Context) (Stream, error) {
	pcm, rate, channels, err := audio.ReadWAVPCM16LEFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("capture: open wav device: %w", err)
	}
	dev := &BufferDevice{PCM: pcm, Fmt: Format{SampleRate: rate, Channels: channels}}
	return dev.Open(ctx)
}
