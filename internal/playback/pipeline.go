package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SinkStream is an open audio output handle.
type SinkStream interface {
	Write(pcm []byte) error
	Close() error
}

// Sink acquires the audio output device. Open is scoped; the returned
// stream is released on every pipeline exit path.
type Sink interface {
	Open(ctx context.Context) (SinkStream, error)
}

// Error is a non-fatal playback failure tied to one response. The session
// is never terminated because a fragment failed to render.
type Error struct {
	ResponseID string
	Err        error
}

func (e Error) Error() string {
	return fmt.Sprintf("playback: response %s: %v", e.ResponseID, e.Err)
}

var ErrClosed = errors.New("playback: pipeline closed")

type response struct {
	fragments [][]byte
	complete  bool
}

// Pipeline accumulates inbound audio fragments per response identifier and
// plays each response in full arrival order once its end-of-response marker
// is observed. Two responses never overlap and fragments never reorder.
type Pipeline struct {
	sink Sink

	mu        sync.Mutex
	stream    SinkStream
	order     []string
	pending   map[string]*response
	cancelled map[string]bool
	active    string
	started   bool
	closed    bool

	wake chan struct{}
	done chan struct{}
	errs chan Error
}

func NewPipeline(sink Sink) *Pipeline {
	return &Pipeline{
		sink:      sink,
		pending:   make(map[string]*response),
		cancelled: make(map[string]bool),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		errs:      make(chan Error, 16),
	}
}

// Start acquires the output device and begins the playback worker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return errors.New("playback: pipeline already started")
	}
	stream, err := p.sink.Open(ctx)
	if err != nil {
		return fmt.Errorf("playback: acquire device: %w", err)
	}
	p.stream = stream
	p.started = true
	go p.run()
	return nil
}

// Errors carries non-fatal per-fragment playback failures.
func (p *Pipeline) Errors() <-chan Error { return p.errs }

// Append buffers one fragment for the given response, in arrival order.
// Fragments for a cancelled response are discarded.
func (p *Pipeline) Append(responseID string, fragment []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.cancelled[responseID] {
		return
	}
	r, ok := p.pending[responseID]
	if !ok {
		r = &response{}
		p.pending[responseID] = r
		p.order = append(p.order, responseID)
	}
	buf := make([]byte, len(fragment))
	copy(buf, fragment)
	r.fragments = append(r.fragments, buf)
	p.kick()
}

// Complete marks a response's end-of-response marker; only then may its
// audio start playing.
func (p *Pipeline) Complete(responseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.pending[responseID]; ok {
		r.complete = true
		p.kick()
	}
}

// ActiveResponse reports the response currently being rendered, if any.
func (p *Pipeline) ActiveResponse() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// CancelActive stops the response currently playing (or queued at the
// head) and discards its buffered fragments. It reports the cancelled
// response identifier, or "" when nothing was in flight.
func (p *Pipeline) CancelActive() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.active
	if id == "" && len(p.order) > 0 {
		id = p.order[0]
	}
	if id == "" {
		return ""
	}
	p.cancelLocked(id)
	return id
}

// Cancel discards a specific response's buffered and future fragments.
func (p *Pipeline) Cancel(responseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked(responseID)
}

func (p *Pipeline) cancelLocked(responseID string) {
	p.cancelled[responseID] = true
	delete(p.pending, responseID)
	for i, id := range p.order {
		if id == responseID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.kick()
}

// Drain discards incomplete responses and waits for every completed one to
// finish rendering. Used on clean stops; quota and failure stops use
// CloseNow instead.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.mu.Lock()
	kept := p.order[:0]
	for _, id := range p.order {
		if p.pending[id] != nil && p.pending[id].complete {
			kept = append(kept, id)
		} else {
			delete(p.pending, id)
		}
	}
	p.order = kept
	p.kick()
	p.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		idle := len(p.order) == 0 && p.active == ""
		p.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the worker and releases the output device. When immediate is
// true any in-progress response is cut off between fragments instead of
// being flushed.
func (p *Pipeline) Close(immediate bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if immediate {
		if p.active != "" {
			p.cancelled[p.active] = true
		}
		p.order = nil
		p.pending = make(map[string]*response)
	}
	stream := p.stream
	started := p.started
	p.mu.Unlock()

	close(p.done)
	if started && stream != nil {
		_ = stream.Close()
	}
}

func (p *Pipeline) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for p.playNext() {
		}
	}
}

// playNext renders the head response if it is complete. It reports whether
// another iteration might make progress.
func (p *Pipeline) playNext() bool {
	p.mu.Lock()
	if p.closed || len(p.order) == 0 {
		p.mu.Unlock()
		return false
	}
	id := p.order[0]
	r := p.pending[id]
	if r == nil || !r.complete {
		p.mu.Unlock()
		return false
	}
	p.order = p.order[1:]
	delete(p.pending, id)
	p.active = id
	fragments := r.fragments
	stream := p.stream
	p.mu.Unlock()

	for _, frag := range fragments {
		p.mu.Lock()
		cancelled := p.cancelled[id] || p.closed
		p.mu.Unlock()
		if cancelled {
			break
		}
		if err := stream.Write(frag); err != nil {
			select {
			case p.errs <- Error{ResponseID: id, Err: err}:
			default:
			}
		}
	}

	p.mu.Lock()
	p.active = ""
	p.mu.Unlock()
	return true
}
