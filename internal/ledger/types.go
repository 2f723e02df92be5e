package ledger

import (
	"context"
	"errors"
	"time"
)

// SessionRecord describes one metered translation session.
type SessionRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	ElapsedSec float64   `json:"elapsed_seconds"`
}

// HeartbeatResult is the ledger's answer to a usage report.
type HeartbeatResult struct {
	CreditsRemaining float64 `json:"credits_remaining"`
}

// Exhausted reports whether the account has no translation credit left.
func (r HeartbeatResult) Exhausted() bool { return r.CreditsRemaining <= 0 }

var ErrSessionNotFound = errors.New("ledger: session not found")

// Client meters translation usage against a user's credit balance.
// StartSession opens a billing record, Heartbeat reports cumulative
// streamed seconds and learns the remaining balance, EndSession closes
// the record with the final total.
type Client interface {
	StartSession(ctx context.Context, userID, sourceLang, targetLang string) (sessionID string, err error)
	Heartbeat(ctx context.Context, sessionID string, elapsed time.Duration) (HeartbeatResult, error)
	EndSession(ctx context.Context, sessionID string, elapsed time.Duration) error
	Close() error
}
