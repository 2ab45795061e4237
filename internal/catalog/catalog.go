package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"quorum/internal/config"
	"quorum/internal/invoker"
	"quorum/internal/provider"
	"quorum/internal/store"
)

// Request describes one model-discovery query.
type Request struct {
	Endpoint   string `json:"endpoint_url"`
	Credential string `json:"api_key,omitempty"`
	Type       string `json:"type,omitempty"`
	FreeOnly   bool   `json:"free_only,omitempty"`
}

// Service lists the model identifiers an endpoint offers. Results of
// successful live lookups are cached in the store with a TTL; the store is
// optional and a nil store simply disables caching.
type Service struct {
	client   *http.Client
	store    *store.Store
	ttl      time.Duration
	fallback []string

	// bedrockBase builds the discovery base URL for a region; swapped out
	// in tests to point at a local server.
	bedrockBase func(region string) string
}

func New(st *store.Store, cfg config.CatalogConfig) *Service {
	fallback := defaultProfiles
	if cfg.FallbackPath != "" {
		loaded, err := LoadFallback(cfg.FallbackPath)
		if err != nil {
			slog.Warn("failed to load fallback catalog, using built-in", "path", cfg.FallbackPath, "error", err)
		} else {
			fallback = loaded
		}
	}

	return &Service{
		client:   &http.Client{Timeout: invoker.DiscoveryTimeout},
		store:    st,
		ttl:      time.Duration(cfg.CacheTTL),
		fallback: fallback,
		bedrockBase: func(region string) string {
			return fmt.Sprintf("https://bedrock.%s.amazonaws.com", region)
		},
	}
}

// Models resolves the available model identifiers for a backend endpoint.
// Bedrock discovery requires a credential and degrades to the fallback
// profile catalog when the listing call fails or returns nothing.
func (s *Service) Models(ctx context.Context, req Request) ([]string, error) {
	typ := strings.ToLower(strings.TrimSpace(req.Type))
	if typ == "" {
		typ = "openai"
	}

	key := fmt.Sprintf("%s|%s|free=%v", typ, req.Endpoint, req.FreeOnly)
	if s.store != nil {
		if models, ok, err := s.store.GetCatalog(key, s.ttl); err != nil {
			slog.Warn("catalog cache read failed", "error", err)
		} else if ok {
			return models, nil
		}
	}

	var models []string
	var err error
	var cacheable bool

	switch typ {
	case "bedrock":
		models, cacheable, err = s.bedrockProfiles(ctx, req)
	case "ollama":
		models, err = s.ollamaTags(ctx, req)
		cacheable = err == nil
	default:
		models, err = s.genericModels(ctx, req)
		cacheable = err == nil
	}
	if err != nil {
		return nil, err
	}

	if cacheable && s.store != nil {
		if err := s.store.SaveCatalog(key, models); err != nil {
			slog.Warn("catalog cache write failed", "error", err)
		}
	}
	return models, nil
}

type inferenceProfiles struct {
	Summaries []struct {
		ID   string `json:"inferenceProfileId"`
		Arn  string `json:"inferenceProfileArn"`
		Name string `json:"inferenceProfileName"`
	} `json:"inferenceProfileSummaries"`
}

// bedrockProfiles lists cross-region inference profiles. The fallback
// catalog is returned (uncached) when the listing call fails or comes back
// empty, so discovery keeps working against accounts without the
// ListInferenceProfiles permission.
func (s *Service) bedrockProfiles(ctx context.Context, req Request) ([]string, bool, error) {
	if req.Credential == "" {
		return nil, false, provider.ErrMissingCredential
	}

	region := provider.RegionFromEndpoint(req.Endpoint)
	url := s.bedrockBase(region) + "/inference-profiles"

	var profiles []string
	body, err := s.get(ctx, url, req.Credential)
	if err != nil {
		slog.Warn("bedrock profile discovery failed, using fallback catalog", "region", region, "error", err)
	} else {
		var parsed inferenceProfiles
		if err := json.Unmarshal(body, &parsed); err != nil {
			slog.Warn("bedrock profile response malformed, using fallback catalog", "error", err)
		} else {
			for _, p := range parsed.Summaries {
				id := p.ID
				if id == "" {
					id = p.Arn
				}
				if id != "" {
					profiles = append(profiles, id)
				}
			}
		}
	}

	if len(profiles) == 0 {
		profiles = append(profiles, s.fallback...)
		sort.Strings(profiles)
		return profiles, false, nil
	}

	sort.Strings(profiles)
	return profiles, true, nil
}

func (s *Service) ollamaTags(ctx context.Context, req Request) ([]string, error) {
	body, err := s.get(ctx, strings.TrimSuffix(req.Endpoint, "/")+"/api/tags", "")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}

	models := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func (s *Service) genericModels(ctx context.Context, req Request) ([]string, error) {
	body, err := s.get(ctx, strings.TrimSuffix(req.Endpoint, "/")+"/models", req.Credential)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}

	var models []string
	switch {
	case len(parsed.Data) > 0:
		for _, m := range parsed.Data {
			models = append(models, m.ID)
		}
		// OpenRouter marks its no-cost tier with a :free model suffix.
		if req.FreeOnly && strings.Contains(req.Endpoint, "openrouter") {
			filtered := models[:0]
			for _, m := range models {
				if strings.HasSuffix(m, ":free") {
					filtered = append(filtered, m)
				}
			}
			models = filtered
		}
	case parsed.Models != nil:
		models = parsed.Models
	}

	if models == nil {
		models = []string{}
	}
	return models, nil
}

func (s *Service) get(ctx context.Context, url, credential string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}
	return body, nil
}
