package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghosthk/zai2api/internal/logger"
)

// ModelInfo describes one servable model: its public identifier, the
// identifier the upstream expects, and whether it emits a thinking phase.
type ModelInfo struct {
	ID         string
	UpstreamID string
	Name       string
	Created    int64
	OwnedBy    string
	Thinking   bool
}

// fallbackModels is served when the upstream registry is unreachable
var fallbackModels = []ModelInfo{
	{ID: "glm-4.5", UpstreamID: "0727-360B-API", Name: "GLM-4.5", Created: 1753228800, OwnedBy: "z.ai", Thinking: true},
	{ID: "glm-4.5-air", UpstreamID: "0725-106B-API", Name: "GLM-4.5-Air", Created: 1753228800, OwnedBy: "z.ai", Thinking: true},
	{ID: "glm-4.5v", UpstreamID: "glm-4.5v", Name: "GLM-4.5V", Created: 1754870400, OwnedBy: "z.ai", Thinking: true},
	{ID: "glm-4-32b", UpstreamID: "main_chat", Name: "GLM-4-32B", Created: 1744588800, OwnedBy: "z.ai", Thinking: false},
}

// Registry lists upstream models, caching the listing for a short TTL and
// falling back to a static table when the upstream cannot be reached.
type Registry struct {
	client *Client
	ttl    time.Duration
	log    *logrus.Entry

	mu      sync.Mutex
	cached  []ModelInfo
	fetched time.Time
}

// NewRegistry builds a registry on top of client
func NewRegistry(client *Client) *Registry {
	return &Registry{
		client: client,
		ttl:    5 * time.Minute,
		log:    logger.WithComponent("model_registry"),
	}
}

// Models returns the current model listing. It never fails: an
// unreachable upstream yields the static fallback table.
func (r *Registry) Models(ctx context.Context) []ModelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.fetched) < r.ttl {
		return r.cached
	}
	listed, err := r.fetch(ctx)
	if err != nil {
		r.log.WithError(err).Warn("model listing failed, serving fallback table")
		if r.cached != nil {
			return r.cached
		}
		return fallbackModels
	}
	r.cached = listed
	r.fetched = time.Now()
	return r.cached
}

// Lookup resolves a public model id to its info. Unknown models resolve
// to an entry that passes the id through and assumes a thinking model.
func (r *Registry) Lookup(ctx context.Context, id string) ModelInfo {
	for _, m := range r.Models(ctx) {
		if m.ID == id || m.UpstreamID == id || m.Name == id {
			return m
		}
	}
	return ModelInfo{ID: id, UpstreamID: id, Name: id, OwnedBy: "z.ai", Thinking: true}
}

func (r *Registry) fetch(ctx context.Context) ([]ModelInfo, error) {
	token, err := r.client.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.client.baseURL+"/api/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := r.client.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing returned %s", resp.Status)
	}

	var body struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Info struct {
				CreatedAt int64 `json:"created_at"`
				Meta      struct {
					Capabilities map[string]bool `json:"capabilities"`
				} `json:"meta"`
			} `json:"info"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode model listing: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("model listing was empty")
	}

	listed := make([]ModelInfo, 0, len(body.Data))
	for _, m := range body.Data {
		info := ModelInfo{
			ID:         m.ID,
			UpstreamID: m.ID,
			Name:       m.Name,
			Created:    m.Info.CreatedAt,
			OwnedBy:    "z.ai",
			Thinking:   true,
		}
		if think, ok := m.Info.Meta.Capabilities["think"]; ok {
			info.Thinking = think
		}
		// Keep the public aliases from the static table stable
		for _, fb := range fallbackModels {
			if fb.UpstreamID == m.ID {
				info.ID = fb.ID
				info.Thinking = fb.Thinking
				if info.Name == "" {
					info.Name = fb.Name
				}
			}
		}
		listed = append(listed, info)
	}
	return listed, nil
}
