package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tolkapp/tolk/internal/ledger"
	"github.com/tolkapp/tolk/internal/observability"
	"github.com/tolkapp/tolk/internal/protocol"
	"github.com/tolkapp/tolk/internal/realtime"
	"github.com/tolkapp/tolk/internal/reconnect"
	"github.com/tolkapp/tolk/internal/reliability"
)

// Session is a read-only snapshot of one engine's progress.
type Session struct {
	ID               string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	SourceLang       string    `json:"source_lang"`
	TargetLang       string    `json:"target_lang"`
	State            State     `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	StreamedSeconds  float64   `json:"streamed_seconds"`
	CreditsRemaining float64   `json:"credits_remaining"`
	CreditsKnown     bool      `json:"credits_known"`
	LastError        string    `json:"last_error,omitempty"`
}

// EngineConfig carries the per-session parameters.
type EngineConfig struct {
	UserID     string
	SourceLang string
	TargetLang string

	// AckTimeout bounds the wait for the endpoint's configuration
	// acknowledgement. Default 10s.
	AckTimeout time.Duration

	// HeartbeatInterval is the usage reporting cadence. Default 3s.
	HeartbeatInterval time.Duration

	// StopFlushTimeout bounds the playback flush during a clean stop.
	// Default 10s.
	StopFlushTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.StopFlushTimeout <= 0 {
		c.StopFlushTimeout = 10 * time.Second
	}
	return c
}

// EngineDeps wires the engine to its collaborators.
type EngineDeps struct {
	Transport  Transport
	Capture    CapturePipeline
	Playback   PlaybackPipeline
	Permission PermissionRequester
	Ledger     ledger.Client
	Reconnect  *reconnect.Controller
	Metrics    *observability.Metrics

	// OnTransition observes every state change. The reason is the lifecycle
	// code that forced the change, empty for normal progress. Optional.
	OnTransition func(from, to State, reason Code)
	// OnTransient observes non-fatal degradations. Optional.
	OnTransient func(err error)
}

// Engine drives one translation session from permission prompt to closed,
// owning the connection, both audio pipelines and the usage ledger record.
// All lifecycle decisions are made on a single run loop goroutine.
type Engine struct {
	id   string
	cfg  EngineConfig
	deps EngineDeps

	mu           sync.RWMutex
	state        State
	lastErr      *Error
	streamed     time.Duration
	credits      float64
	creditsKnown bool
	createdAt    time.Time
	ledgerID     string

	startOnce sync.Once
	stopOnce  sync.Once
	endOnce   sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.Transport == nil || deps.Capture == nil || deps.Playback == nil || deps.Ledger == nil {
		return nil, errors.New("session: transport, capture, playback and ledger are required")
	}
	if deps.Reconnect == nil {
		deps.Reconnect = reconnect.NewController(reconnect.DefaultPolicy(), nil)
	}
	return &Engine{
		id:        uuid.NewString(),
		cfg:       cfg.withDefaults(),
		deps:      deps,
		state:     StateIdle,
		createdAt: time.Now().UTC(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

func (e *Engine) ID() string { return e.id }

// Done closes when the engine reaches a terminal state.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// Start launches the session lifecycle. It returns immediately; progress
// is observable through Snapshot and the transition hook.
func (e *Engine) Start() {
	e.startOnce.Do(func() { go e.run() })
}

// Stop requests a clean stop: streaming halts, buffered translated audio
// is flushed, and the ledger record is closed. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Snapshot returns the current session view.
func (e *Engine) Snapshot() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Session{
		ID:               e.id,
		UserID:           e.cfg.UserID,
		SourceLang:       e.cfg.SourceLang,
		TargetLang:       e.cfg.TargetLang,
		State:            e.state,
		CreatedAt:        e.createdAt,
		StreamedSeconds:  e.streamed.Seconds(),
		CreditsRemaining: e.credits,
		CreditsKnown:     e.creditsKnown,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// LastError returns the fatal error recorded for the session, if any.
func (e *Engine) LastError() *Error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeStop
	outcomeLost
	outcomeFatal
)

func (e *Engine) run() {
	defer close(e.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if e.deps.Metrics != nil {
		e.deps.Metrics.ActiveSessions.Inc()
		defer e.deps.Metrics.ActiveSessions.Dec()
	}

	e.transition(StateRequestingPermission, "")
	if e.deps.Permission != nil {
		if err := e.deps.Permission.Request(ctx); err != nil {
			e.finish(newError(CodePermissionDenied, err))
			return
		}
	}
	if stopRequested(e.stopCh) {
		e.finish(nil)
		return
	}

	if err := e.deps.Playback.Start(ctx); err != nil {
		e.finish(newError(CodePlaybackError, err))
		return
	}

	// Initial connection. Failures here are a hard setup error, not a
	// drop to recover from.
	e.transition(StateConnecting, "")
	conn, err := e.deps.Transport.Dial(ctx)
	if err != nil {
		e.finish(newError(CodeNetworkError, err))
		return
	}

	for {
		out, ferr := e.runConn(ctx, conn)
		e.deps.Capture.Stop()
		_ = conn.Close()

		switch out {
		case outcomeStop:
			e.finish(nil)
			return
		case outcomeFatal:
			e.finish(ferr)
			return
		case outcomeLost:
			conn, err = e.reconnect(ctx)
			if err != nil {
				if stopRequested(e.stopCh) {
					e.finish(nil)
					return
				}
				e.finish(newError(CodeConnectionLost, err))
				return
			}
			if conn == nil {
				e.finish(nil)
				return
			}
		}
	}
}

// runConn configures one connection and streams over it until the session
// stops, the connection drops, or a fatal condition surfaces. Session
// configuration is re-sent on every connection, so a reconnect restores
// the translation direction without caller involvement.
func (e *Engine) runConn(ctx context.Context, conn Conn) (outcome, *Error) {
	e.transition(StateConfiguring, "")
	if err := conn.UpdateSession(e.sessionConfig()); err != nil {
		return outcomeLost, nil
	}
	e.countWS("out", "session.update")

	switch out, ferr := e.awaitAck(conn); out {
	case outcomeFatal:
		return outcomeFatal, ferr
	case outcomeLost:
		return outcomeLost, nil
	case outcomeStop:
		return outcomeStop, nil
	}

	if err := e.ensureLedgerSession(ctx); err != nil {
		return outcomeFatal, newError(CodeNetworkError, err)
	}

	frames, captureErrs, err := e.deps.Capture.Start(ctx)
	if err != nil {
		return outcomeFatal, newError(CodeCaptureDeviceError, err)
	}
	e.transition(StateStreaming, "")

	type hbResult struct {
		res     ledger.HeartbeatResult
		err     error
		latency time.Duration
	}
	hbCh := make(chan hbResult, 1)
	hbBusy := false
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return outcomeStop, nil

		case frame, ok := <-frames:
			if !ok {
				// Device input ended; keep the session up for playback
				// and heartbeats until stopped.
				frames = nil
				continue
			}
			if err := conn.AppendAudio(frame.PCM); err != nil {
				continue
			}
			e.countWS("out", "input_audio_buffer.append")
			e.addStreamed(pcmDuration(len(frame.PCM)))

		case cerr := <-captureErrs:
			return outcomeFatal, newError(CodeCaptureDeviceError, cerr)

		case perr := <-e.deps.Playback.Errors():
			if e.deps.Metrics != nil {
				e.deps.Metrics.PlaybackErrors.Inc()
			}
			e.transient(newError(CodePlaybackError, perr))

		case <-ticker.C:
			if hbBusy || e.ledgerID == "" {
				continue
			}
			hbBusy = true
			elapsed := e.streamedNow()
			go func() {
				hbCtx, hbCancel := context.WithTimeout(ctx, e.cfg.HeartbeatInterval)
				defer hbCancel()
				start := time.Now()
				res, err := e.deps.Ledger.Heartbeat(hbCtx, e.ledgerID, elapsed)
				hbCh <- hbResult{res: res, err: err, latency: time.Since(start)}
			}()

		case hb := <-hbCh:
			hbBusy = false
			if hb.err != nil {
				// The ledger must stay reachable for the session to keep
				// accruing; treat an unreachable ledger like a drop.
				e.transient(newError(CodeNetworkError, hb.err))
				return outcomeLost, nil
			}
			if e.deps.Metrics != nil {
				e.deps.Metrics.ObserveHeartbeatLatency(hb.latency)
			}
			e.setCredits(hb.res.CreditsRemaining)
			if hb.res.Exhausted() {
				return outcomeFatal, newError(CodeQuotaExceeded,
					fmt.Errorf("credits remaining %.2f", hb.res.CreditsRemaining))
			}

		case evt, ok := <-conn.Events():
			if !ok {
				return outcomeLost, nil
			}
			if out, ferr := e.handleEvent(conn, evt); out != outcomeOK {
				return out, ferr
			}
		}
	}
}

// handleEvent processes one inbound event during Streaming. An outcomeOK
// result means the loop continues.
func (e *Engine) handleEvent(conn Conn, evt realtime.Event) (outcome, *Error) {
	e.countWS("in", string(evt.Kind))
	switch evt.Kind {
	case realtime.KindConnectionClosed:
		return outcomeLost, nil

	case realtime.KindSpeechStarted:
		// Barge-in: the speaker talking over a translation cancels it on
		// both ends.
		if id := e.deps.Playback.CancelActive(); id != "" {
			_ = conn.CancelResponse(id)
			e.countWS("out", "response.cancel")
		}

	case realtime.KindAudioDelta:
		e.deps.Playback.Append(evt.ResponseID, evt.Audio)

	case realtime.KindResponseDone:
		e.deps.Playback.Complete(evt.ResponseID)

	case realtime.KindProtocolError:
		if evt.Err != nil && fatalProtocolError(evt.Err.Code) {
			return outcomeFatal, newError(CodeProtocolError,
				fmt.Errorf("%s: %s", evt.Err.Code, evt.Err.Message))
		}
		e.transient(newError(CodeProtocolError, errors.New(describeDetail(evt.Err))))
	}
	return outcomeOK, nil
}

// awaitAck waits for the endpoint to acknowledge the session configuration.
func (e *Engine) awaitAck(conn Conn) (outcome, *Error) {
	timer := time.NewTimer(e.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case <-e.stopCh:
			return outcomeStop, nil
		case <-timer.C:
			return outcomeFatal, newError(CodeConfigTimeout,
				fmt.Errorf("no configuration acknowledgement within %s", e.cfg.AckTimeout))
		case evt, ok := <-conn.Events():
			if !ok {
				return outcomeLost, nil
			}
			e.countWS("in", string(evt.Kind))
			switch evt.Kind {
			case realtime.KindSessionAck:
				return outcomeOK, nil
			case realtime.KindConnectionClosed:
				return outcomeLost, nil
			case realtime.KindProtocolError:
				if evt.Err != nil && fatalProtocolError(evt.Err.Code) {
					return outcomeFatal, newError(CodeProtocolError,
						fmt.Errorf("%s: %s", evt.Err.Code, evt.Err.Message))
				}
			}
		}
	}
}

// reconnect suspends the session and re-dials under the backoff policy.
// It returns (nil, nil) when a stop arrived during the wait.
func (e *Engine) reconnect(ctx context.Context) (Conn, error) {
	e.transition(StateSuspended, CodeConnectionLost)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-rctx.Done():
		}
	}()

	var conn Conn
	err := e.deps.Reconnect.Run(rctx, func(actx context.Context) error {
		if e.deps.Metrics != nil {
			e.deps.Metrics.ReconnectAttempts.Inc()
		}
		e.transition(StateConnecting, "")
		c, derr := e.deps.Transport.Dial(actx)
		if derr != nil {
			e.transition(StateSuspended, CodeConnectionLost)
			return derr
		}
		conn = c
		return nil
	})
	if err != nil {
		if stopRequested(e.stopCh) {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

// finish runs the single teardown path: Stopping, playback flush or cut,
// ledger close, then the terminal state. A nil error is a clean stop into
// Closed; a fatal error lands in Failed with its reason code on the final
// observation.
func (e *Engine) finish(ferr *Error) {
	var reason Code
	if ferr != nil {
		reason = ferr.Code
		e.mu.Lock()
		e.lastErr = ferr
		e.mu.Unlock()
	}
	e.transition(StateStopping, reason)

	if ferr == nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), e.cfg.StopFlushTimeout)
		_ = e.deps.Playback.Drain(flushCtx)
		cancel()
		e.deps.Playback.Close(false)
	} else {
		// Fatal stops, quota exhaustion included, cut audio immediately.
		e.deps.Playback.Close(true)
	}

	e.endLedgerSession()
	if ferr != nil {
		e.transition(StateFailed, reason)
		return
	}
	e.transition(StateClosed, "")
}

func (e *Engine) ensureLedgerSession(ctx context.Context) error {
	if e.ledgerID != "" {
		return nil
	}
	id, err := e.deps.Ledger.StartSession(ctx, e.cfg.UserID, e.cfg.SourceLang, e.cfg.TargetLang)
	if err != nil {
		return fmt.Errorf("open ledger session: %w", err)
	}
	e.mu.Lock()
	e.ledgerID = id
	e.mu.Unlock()
	return nil
}

// endLedgerSession closes the billing record exactly once, whatever path
// the session died on.
func (e *Engine) endLedgerSession() {
	e.endOnce.Do(func() {
		e.mu.RLock()
		id := e.ledgerID
		elapsed := e.streamed
		e.mu.RUnlock()
		if id == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.deps.Ledger.EndSession(ctx, id, elapsed); err != nil {
			e.transient(newError(CodeNetworkError, err))
		}
	})
}

func (e *Engine) sessionConfig() protocol.SessionConfig {
	return protocol.SessionConfig{
		Instructions:      protocol.TranslatorInstructions(e.cfg.SourceLang, e.cfg.TargetLang),
		InputAudioFormat:  protocol.AudioFormatPCM16,
		OutputAudioFormat: protocol.AudioFormatPCM16,
		TurnDetection:     protocol.DefaultTurnDetection(),
	}
}

func (e *Engine) transition(to State, reason Code) {
	e.mu.Lock()
	from := e.state
	if from == to || Terminal(from) {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()

	if e.deps.Metrics != nil {
		e.deps.Metrics.StateTransitions.WithLabelValues(string(to)).Inc()
	}
	if e.deps.OnTransition != nil {
		e.deps.OnTransition(from, to, reason)
	}
}

func (e *Engine) transient(err *Error) {
	if e.deps.OnTransient != nil {
		e.deps.OnTransient(err)
	}
}

func (e *Engine) addStreamed(d time.Duration) {
	e.mu.Lock()
	e.streamed += d
	e.mu.Unlock()
	if e.deps.Metrics != nil {
		e.deps.Metrics.StreamedSeconds.Add(d.Seconds())
	}
}

func (e *Engine) streamedNow() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.streamed
}

func (e *Engine) setCredits(remaining float64) {
	e.mu.Lock()
	e.credits = remaining
	e.creditsKnown = true
	e.mu.Unlock()
}

func (e *Engine) countWS(direction, typ string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.WSMessages.WithLabelValues(direction, typ).Inc()
	}
}

func stopRequested(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// pcmDuration converts a wire-contract payload size to audio time.
func pcmDuration(bytes int) time.Duration {
	samples := bytes / protocol.BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(protocol.SampleRate)
}

// fatalProtocolError reports whether an endpoint error code should end the
// session. Retryable server hiccups and locally skipped malformed events
// are not fatal.
func fatalProtocolError(code string) bool {
	switch code {
	case "malformed_event", "invalid_audio_payload":
		return false
	}
	return !reliability.IsRetryableProtocolCode(code)
}

func describeDetail(d *protocol.ErrorDetail) string {
	if d == nil {
		return "unknown endpoint error"
	}
	return d.Code + ": " + d.Message
}
