package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/crypto/bcrypt"

	"quorum/internal/catalog"
	"quorum/internal/config"
	"quorum/internal/consensus"
	"quorum/internal/events"
	"quorum/internal/provider"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour // 30 days
)

// Runner executes one consensus round. *consensus.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, prompt string, participants []provider.Descriptor, chairman provider.Descriptor) (*consensus.Result, error)
}

// ModelLister resolves available model identifiers for an endpoint.
// *catalog.Service satisfies it.
type ModelLister interface {
	Models(ctx context.Context, req catalog.Request) ([]string, error)
}

type Server struct {
	engine    Runner
	catalog   ModelLister
	events    *events.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	sessionMu sync.Mutex
	sessions  map[string]time.Time // token → expiry
}

func NewServer(engine Runner, cat ModelLister, ev *events.Client, cfg config.WebConfig, version string) *Server {
	return &Server{
		engine:    engine,
		catalog:   cat,
		events:    ev,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		sessions:  make(map[string]time.Time),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Forward run events from NATS to WebSocket clients
	s.subscribeEvents()

	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)

	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := gzhttp.GzipHandler(s.withMiddleware(mux))
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			// Public endpoints: health probe, login and auth check
			switch r.URL.Path {
			case "/api/health", "/api/login", "/api/auth/check":
				next.ServeHTTP(w, r)
				return
			}

			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkPassword accepts either a bcrypt hash (recognized by its $2 prefix)
// or a plaintext password in the config.
func (s *Server) checkPassword(pass string) bool {
	if strings.HasPrefix(s.cfg.Auth, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth), []byte(pass)) == nil
	}
	return pass == s.cfg.Auth
}

// checkAuth validates session cookie or Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		expiry, ok := s.sessions[cookie.Value]
		if ok && time.Now().Before(expiry) {
			// Refresh session expiry
			s.sessions[cookie.Value] = time.Now().Add(sessionMaxAge)
			s.sessionMu.Unlock()
			s.setSessionCookie(w, cookie.Value)
			return true
		}
		if ok {
			delete(s.sessions, cookie.Value)
		}
		s.sessionMu.Unlock()
	}

	// Fall back to Basic Auth (for programmatic API access)
	if _, pass, ok := r.BasicAuth(); ok && s.checkPassword(pass) {
		return true
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) createSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionMu.Lock()
	s.sessions[token] = time.Now().Add(sessionMaxAge)
	s.sessionMu.Unlock()

	return token, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !s.checkPassword(body.Password) {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.createSession()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, token)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]any{"authenticated": true, "auth_required": false})
		return
	}

	authed := false
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		expiry, ok := s.sessions[cookie.Value]
		authed = ok && time.Now().Before(expiry)
		s.sessionMu.Unlock()
	}
	jsonResponse(w, map[string]any{"authenticated": authed, "auth_required": true})
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
