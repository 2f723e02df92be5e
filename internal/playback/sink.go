package playback

import (
	"bytes"
	"context"
	"sync"

	"github.com/tolkapp/tolk/internal/audio"
	"github.com/tolkapp/tolk/internal/protocol"
)

// BufferSink collects rendered audio in memory.
type BufferSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *BufferSink) Open(context.Context) (SinkStream, error) {
	return (*bufferStream)(s), nil
}

// Bytes returns a copy of everything rendered so far.
func (s *BufferSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out
}

type bufferStream BufferSink

func (s *bufferStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(pcm)
	return nil
}

func (s *bufferStream) Close() error { return nil }

// WAVFileSink renders the translated audio to a WAV file, which lets the
// headless client save a session's output for later listening.
type WAVFileSink struct {
	Path string
}

func (s *WAVFileSink) Open(context.Context) (SinkStream, error) {
	return &wavStream{path: s.Path}, nil
}

type wavStream struct {
	mu   sync.Mutex
	path string
	pcm  []byte
}

func (s *wavStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = append(s.pcm, pcm...)
	return nil
}

// Close writes the accumulated audio out. An empty session still produces
// a valid zero-length WAV file.
func (s *wavStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.WriteWAVPCM16LEFile(s.path, s.pcm, protocol.SampleRate)
}
