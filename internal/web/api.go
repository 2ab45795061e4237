package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quorum/internal/catalog"
	"quorum/internal/consensus"
	"quorum/internal/provider"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/consensus", s.handleConsensus)
	mux.HandleFunc("POST /api/models", s.handleModels)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
}

// Attachment is an optional file sent along with a consensus prompt; its
// content is appended to the prompt before dispatch.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type consensusRequest struct {
	Prompt       string            `json:"prompt"`
	Participants []provider.Config `json:"participants"`
	Chairman     provider.Config   `json:"chairman"`
	Attachment   *Attachment       `json:"attachment,omitempty"`
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	var body consensusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		jsonError(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if len(body.Participants) != 3 {
		jsonError(w, "exactly 3 participants required", http.StatusBadRequest)
		return
	}

	prompt := body.Prompt
	if body.Attachment != nil && body.Attachment.Content != "" {
		prompt = fmt.Sprintf("%s\n\n--- Attached file: %s ---\n%s",
			prompt, body.Attachment.Name, body.Attachment.Content)
	}

	participants := make([]provider.Descriptor, len(body.Participants))
	for i, cfg := range body.Participants {
		participants[i] = provider.Resolve(cfg)
	}
	chairman := provider.Resolve(body.Chairman)

	result, err := s.engine.Run(r.Context(), prompt, participants, chairman)
	if err != nil {
		if errors.Is(err, consensus.ErrParticipantCount) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var req catalog.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == "" && !strings.EqualFold(req.Type, "bedrock") {
		jsonError(w, "endpoint_url is required", http.StatusBadRequest)
		return
	}

	models, err := s.catalog.Models(r.Context(), req)
	if err != nil {
		if errors.Is(err, provider.ErrMissingCredential) {
			jsonError(w, "API key required for Bedrock", http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string][]string{"models": models})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"version":    s.version,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"ws_clients": s.hub.ClientCount(),
	})
}
