package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghosthk/zai2api/internal/logger"
)

// ErrTokenUnavailable is returned when no bearer credential could be
// obtained after all retries.
var ErrTokenUnavailable = errors.New("upstream token unavailable")

// TokenProvider supplies a bearer credential for upstream calls
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// FixedToken is a TokenProvider backed by a preconfigured credential
type FixedToken string

func (t FixedToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrTokenUnavailable
	}
	return string(t), nil
}

// AnonymousToken fetches a guest credential from the upstream auth
// endpoint, retrying with linearly growing backoff.
type AnonymousToken struct {
	baseURL string
	client  *http.Client
	retries int
	backoff time.Duration
	log     *logrus.Entry
}

// NewAnonymousToken builds a provider against baseURL
func NewAnonymousToken(baseURL string, timeout time.Duration, retries int, backoff time.Duration) *AnonymousToken {
	if retries < 1 {
		retries = 1
	}
	return &AnonymousToken{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		backoff: backoff,
		log:     logger.WithComponent("token_provider"),
	}
}

func (a *AnonymousToken) Token(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(a.backoff * time.Duration(attempt-1)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		token, err := a.fetch(ctx)
		if err == nil {
			return token, nil
		}
		lastErr = err
		a.log.WithError(err).Warnf("anonymous token attempt %d/%d failed", attempt, a.retries)
	}
	return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, lastErr)
}

func (a *AnonymousToken) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/v1/auths/", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth endpoint returned %s", resp.Status)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("auth response carried no token")
	}
	return body.Token, nil
}
