package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tolkapp/tolk/internal/capture"
	"github.com/tolkapp/tolk/internal/ledger"
	"github.com/tolkapp/tolk/internal/playback"
	"github.com/tolkapp/tolk/internal/protocol"
	"github.com/tolkapp/tolk/internal/realtime"
)

type fakeConn struct {
	mu        sync.Mutex
	events    chan realtime.Event
	updates   []protocol.SessionConfig
	appended  [][]byte
	cancelled []string
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan realtime.Event, 64)}
}

func (c *fakeConn) Events() <-chan realtime.Event { return c.events }

func (c *fakeConn) UpdateSession(cfg protocol.SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, cfg)
	return nil
}

func (c *fakeConn) AppendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.appended = append(c.appended, buf)
	return nil
}

func (c *fakeConn) CommitAudio() error { return nil }

func (c *fakeConn) CancelResponse(responseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, responseID)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) serve(evt realtime.Event) { c.events <- evt }
func (c *fakeConn) ack()                     { c.serve(realtime.Event{Kind: realtime.KindSessionAck}) }
func (c *fakeConn) drop() {
	c.serve(realtime.Event{Kind: realtime.KindConnectionClosed, CloseErr: errors.New("connection reset")})
}

func (c *fakeConn) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func (c *fakeConn) appendedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.appended)
}

func (c *fakeConn) cancelledIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cancelled...)
}

type fakeTransport struct {
	mu    sync.Mutex
	queue []*fakeConn
	err   error
	dials int
}

func (t *fakeTransport) Dial(context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if len(t.queue) == 0 {
		if t.err != nil {
			return nil, t.err
		}
		return nil, errors.New("dial refused")
	}
	c := t.queue[0]
	t.queue = t.queue[1:]
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

type fakeCapture struct {
	mu       sync.Mutex
	frames   chan capture.Frame
	errs     chan error
	starts   int
	stops    int
	startErr error
}

func (c *fakeCapture) Start(context.Context) (<-chan capture.Frame, <-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, nil, c.startErr
	}
	c.starts++
	c.frames = make(chan capture.Frame, 16)
	c.errs = make(chan error, 1)
	return c.frames, c.errs, nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeCapture) emit(pcm []byte) {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	frames <- capture.Frame{PCM: pcm, CapturedAt: time.Now()}
}

func (c *fakeCapture) fail(err error) {
	c.mu.Lock()
	errs := c.errs
	c.mu.Unlock()
	errs <- err
}

type fakePlayback struct {
	mu             sync.Mutex
	started        bool
	startErr       error
	activeID       string
	cancelActive   int
	appended       map[string]int
	completed      []string
	drained        bool
	closedClean    bool
	closedImmediat bool
	errs           chan playback.Error

	// drainHold, when set, blocks Drain until closed, simulating a long
	// playback flush.
	drainHold chan struct{}
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{appended: make(map[string]int), errs: make(chan playback.Error, 4)}
}

func (p *fakePlayback) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *fakePlayback) Append(responseID string, _ []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appended[responseID]++
}

func (p *fakePlayback) Complete(responseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, responseID)
}

func (p *fakePlayback) CancelActive() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelActive++
	id := p.activeID
	p.activeID = ""
	return id
}

func (p *fakePlayback) Drain(context.Context) error {
	p.mu.Lock()
	hold := p.drainHold
	p.mu.Unlock()
	if hold != nil {
		<-hold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = true
	return nil
}

func (p *fakePlayback) Close(immediate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if immediate {
		p.closedImmediat = true
	} else {
		p.closedClean = true
	}
}

func (p *fakePlayback) Errors() <-chan playback.Error { return p.errs }

type fakeLedger struct {
	mu         sync.Mutex
	credits    float64
	startErr   error
	hbErr      error
	startCalls int
	hbCalls    int
	endCalls   int
	lastEnd    time.Duration
}

func (l *fakeLedger) StartSession(context.Context, string, string, string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return "", l.startErr
	}
	l.startCalls++
	return "ledger-1", nil
}

func (l *fakeLedger) Heartbeat(_ context.Context, _ string, _ time.Duration) (ledger.HeartbeatResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hbCalls++
	if l.hbErr != nil {
		return ledger.HeartbeatResult{}, l.hbErr
	}
	return ledger.HeartbeatResult{CreditsRemaining: l.credits}, nil
}

func (l *fakeLedger) EndSession(_ context.Context, _ string, elapsed time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endCalls++
	l.lastEnd = elapsed
	return nil
}

func (l *fakeLedger) Close() error { return nil }

func (l *fakeLedger) counts() (start, hb, end int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startCalls, l.hbCalls, l.endCalls
}

type grantPermission struct{}

func (grantPermission) Request(context.Context) error { return nil }

type denyPermission struct{}

func (denyPermission) Request(context.Context) error {
	return errors.New("microphone access denied")
}
