// Package syncclient triggers a full billing reconciliation sweep over HTTP.
// It is the external invocation contract used by operators and cron: bounded
// retries with a fixed delay, and the final error propagated to the caller
// instead of swallowed. Fixed delay (not exponential backoff) is enough here
// because the sweep is idempotent and infrequent.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feedbax/feedbax/internal/pkg/env"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// ConfigFromEnv reads SYNC_BASE_URL, SYNC_TIMEOUT, SYNC_RETRY_ATTEMPTS and
// SYNC_RETRY_DELAY.
func ConfigFromEnv() Config {
	return Config{
		BaseURL:       strings.TrimRight(env.GetEnv("SYNC_BASE_URL", "http://localhost:4000"), "/"),
		Timeout:       env.GetEnvDuration("SYNC_TIMEOUT", 10*time.Minute),
		RetryAttempts: env.GetEnvInt("SYNC_RETRY_ATTEMPTS", 3),
		RetryDelay:    env.GetEnvDuration("SYNC_RETRY_DELAY", 30*time.Second),
	}
}

// SweepSummary mirrors the summary block of the reconcile-all response.
type SweepSummary struct {
	SweepID            string `json:"sweep_id"`
	TotalUsers         int    `json:"total_users"`
	SuccessCount       int    `json:"success_count"`
	ErrorCount         int    `json:"error_count"`
	UpdatedCount       int    `json:"updated_count"`
	AlreadySyncedCount int    `json:"already_synced_count"`
	Partial            bool   `json:"partial"`
}

type SweepResponse struct {
	Success bool         `json:"success"`
	Summary SweepSummary `json:"summary"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// TriggerSweep calls POST /reconcile/all with up to RetryAttempts total
// attempts, sleeping RetryDelay between them. After exhausting attempts the
// final error is returned so cron/process exit codes reflect the failure.
func (c *Client) TriggerSweep(ctx context.Context) (*SweepResponse, error) {
	url := c.cfg.BaseURL + "/reconcile/all"

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		resp, err := c.attempt(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < c.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("sweep failed after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string) (*SweepResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sweep request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out SweepResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("undecodable sweep response: %w", err)
	}
	if !out.Success {
		return nil, errors.New("sweep reported success=false")
	}
	return &out, nil
}
