package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghosthk/zai2api/internal/config"
	"github.com/ghosthk/zai2api/internal/logger"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Client posts completion requests to the upstream and exposes its model
// registry. Opening a stream is retried with linearly growing backoff;
// once the body has been handed to the caller no retry happens, partial
// output cannot be un-sent.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
	retries int
	backoff time.Duration
	log     *logrus.Entry
}

// NewClient builds a Client from the upstream configuration
func NewClient(cfg config.UpstreamConfig) *Client {
	var tokens TokenProvider
	if cfg.AnonymousToken {
		tokens = NewAnonymousToken(cfg.BaseURL, cfg.TokenTimeout.Std(), cfg.RetryCount, cfg.RetryBackoff.Std())
	} else {
		tokens = FixedToken(cfg.Token)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.ConnectTimeout.Std(),
			},
			Timeout: cfg.ReadTimeout.Std(),
		},
		tokens:  tokens,
		retries: cfg.RetryCount,
		backoff: cfg.RetryBackoff.Std(),
		log:     logger.WithComponent("upstream_client"),
	}
}

// Tokens exposes the client's token provider
func (c *Client) Tokens() TokenProvider { return c.tokens }

// OpenStream posts req and returns the raw event stream body. The caller
// owns the returned ReadCloser.
func (c *Client) OpenStream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.backoff * time.Duration(attempt-1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		body, err := c.post(ctx, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.log.WithError(err).Warnf("upstream attempt %d/%d failed", attempt, c.retries)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("upstream request failed after %d attempts: %w", c.retries, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", browserUserAgent)
	httpReq.Header.Set("Origin", c.baseURL)
	httpReq.Header.Set("Referer", c.baseURL+"/")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned %s: %s", resp.Status, bytes.TrimSpace(detail))
	}
	return resp.Body, nil
}
