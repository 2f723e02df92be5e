package ledger

import (
	"context"
	"strings"
)

// NewClient picks the ledger backend from configuration: a hosted HTTP
// ledger when a URL is set, a local PostgreSQL ledger when a database URL
// is set, otherwise an unmetered in-memory one.
func NewClient(ctx context.Context, baseURL, apiKey, databaseURL string, freeCredits float64) (Client, error) {
	if strings.TrimSpace(baseURL) != "" {
		return NewHTTPClient(HTTPConfig{BaseURL: baseURL, APIKey: apiKey})
	}
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresClient(ctx, databaseURL)
	}
	return NewInMemoryClient(freeCredits), nil
}
