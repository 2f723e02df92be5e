package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks to a hosted usage ledger over JSON HTTP.
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ledger: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *HTTPClient) StartSession(ctx context.Context, userID, sourceLang, targetLang string) (string, error) {
	body := map[string]string{
		"user_id":     userID,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.post(ctx, "/v1/usage/sessions", body, &resp); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("start session: ledger returned empty session id")
	}
	return resp.SessionID, nil
}

func (c *HTTPClient) Heartbeat(ctx context.Context, sessionID string, elapsed time.Duration) (HeartbeatResult, error) {
	body := map[string]any{
		"elapsed_seconds": elapsed.Seconds(),
	}
	var result HeartbeatResult
	path := "/v1/usage/sessions/" + sessionID + "/heartbeat"
	if err := c.post(ctx, path, body, &result); err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat: %w", err)
	}
	return result, nil
}

func (c *HTTPClient) EndSession(ctx context.Context, sessionID string, elapsed time.Duration) error {
	body := map[string]any{
		"elapsed_seconds": elapsed.Seconds(),
	}
	path := "/v1/usage/sessions/" + sessionID + "/end"
	if err := c.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
