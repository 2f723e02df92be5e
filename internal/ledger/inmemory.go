package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryClient is a process-local ledger for tests and unmetered runs.
type InMemoryClient struct {
	mu       sync.Mutex
	credits  float64
	sessions map[string]*SessionRecord
	charged  map[string]float64
}

// NewInMemoryClient starts every user with the given credit balance,
// measured in streamed seconds.
func NewInMemoryClient(credits float64) *InMemoryClient {
	return &InMemoryClient{
		credits:  credits,
		sessions: make(map[string]*SessionRecord),
		charged:  make(map[string]float64),
	}
}

func (c *InMemoryClient) StartSession(_ context.Context, userID, sourceLang, targetLang string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.sessions[id] = &SessionRecord{
		ID:         id,
		UserID:     userID,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		StartedAt:  time.Now().UTC(),
	}
	return id, nil
}

func (c *InMemoryClient) Heartbeat(_ context.Context, sessionID string, elapsed time.Duration) (HeartbeatResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sessions[sessionID]
	if !ok || !rec.EndedAt.IsZero() {
		return HeartbeatResult{}, ErrSessionNotFound
	}
	total := elapsed.Seconds()
	delta := total - c.charged[sessionID]
	if delta > 0 {
		c.credits -= delta
		c.charged[sessionID] = total
	}
	rec.ElapsedSec = total
	return HeartbeatResult{CreditsRemaining: c.credits}, nil
}

func (c *InMemoryClient) EndSession(_ context.Context, sessionID string, elapsed time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sessions[sessionID]
	if !ok || !rec.EndedAt.IsZero() {
		return ErrSessionNotFound
	}
	rec.EndedAt = time.Now().UTC()
	rec.ElapsedSec = elapsed.Seconds()
	return nil
}

// Session returns a copy of the record for inspection.
func (c *InMemoryClient) Session(sessionID string) (SessionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sessions[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	return *rec, true
}

func (c *InMemoryClient) Close() error { return nil }
