package session

import (
	"context"

	"github.com/tolkapp/tolk/internal/capture"
	"github.com/tolkapp/tolk/internal/playback"
	"github.com/tolkapp/tolk/internal/protocol"
	"github.com/tolkapp/tolk/internal/realtime"
)

// Conn is the engine's view of one live endpoint connection.
type Conn interface {
	Events() <-chan realtime.Event
	UpdateSession(cfg protocol.SessionConfig) error
	AppendAudio(pcm []byte) error
	CommitAudio() error
	CancelResponse(responseID string) error
	Close() error
}

// Transport opens endpoint connections. Each reconnect attempt gets a
// fresh Conn.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerTransport adapts a realtime dialer to the Transport port.
type DialerTransport struct {
	Dialer *realtime.Dialer
}

func (t DialerTransport) Dial(ctx context.Context) (Conn, error) {
	c, err := t.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CapturePipeline produces outbound wire-contract frames.
type CapturePipeline interface {
	Start(ctx context.Context) (<-chan capture.Frame, <-chan error, error)
	Stop()
}

// PlaybackPipeline renders inbound translated audio.
type PlaybackPipeline interface {
	Start(ctx context.Context) error
	Append(responseID string, fragment []byte)
	Complete(responseID string)
	CancelActive() string
	Drain(ctx context.Context) error
	Close(immediate bool)
	Errors() <-chan playback.Error
}

// PermissionRequester obtains microphone consent before any connection is
// opened. A denial is fatal and no network traffic may precede the grant.
type PermissionRequester interface {
	Request(ctx context.Context) error
}

// DevicePermission probes consent by opening and immediately releasing
// the capture device, the closest a headless host gets to a mic prompt.
type DevicePermission struct {
	Dev capture.Device
}

func (p DevicePermission) Request(ctx context.Context) error {
	stream, err := p.Dev.Open(ctx)
	if err != nil {
		return err
	}
	return stream.Close()
}
