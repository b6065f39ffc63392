package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"p2p-go-home/internal/automation"
	"p2p-go-home/internal/manager"

	"golang.org/x/time/rate"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script store.
func WithAutomation(engine *automation.Engine, scripts *automation.ScriptStore) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scripts = scripts
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithCommandRate limits the P2P command endpoints to perSecond requests
// with the given burst. perSecond <= 0 disables the limit.
func WithCommandRate(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Server is the HTTP server for the REST API and event stream.
type Server struct {
	mgr            *manager.Manager
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scripts        *automation.ScriptStore
	autoEngine     *automation.Engine
	limiter        *rate.Limiter
	version        string
	started        time.Time
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server.
func NewServer(mgr *manager.Manager, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		mgr:     mgr,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		started: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = mgr.Events().OnAll(s.wsHub.Broadcast)

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{addr}", s.handleAPIGetDevice)
	s.mux.HandleFunc("PATCH /api/devices/{addr}", s.handleAPIRenameDevice)
	s.mux.HandleFunc("DELETE /api/devices/{addr}", s.handleAPIForgetDevice)
	s.mux.HandleFunc("POST /api/devices/{addr}/refresh", s.limited(s.handleAPIRefreshDevice))

	s.mux.HandleFunc("GET /api/groups", s.handleAPIListGroups)
	s.mux.HandleFunc("GET /api/groups/active", s.handleAPIActiveGroups)
	s.mux.HandleFunc("DELETE /api/groups/active/{iface}", s.limited(s.handleAPIRemoveActiveGroup))
	s.mux.HandleFunc("GET /api/groups/{id}", s.handleAPIGetGroup)
	s.mux.HandleFunc("DELETE /api/groups/{id}", s.limited(s.handleAPIDeleteGroup))
	s.mux.HandleFunc("GET /api/groups/{id}/qr", s.handleAPIGroupQR)

	s.mux.HandleFunc("GET /api/invitations", s.handleAPIInvitations)

	s.mux.HandleFunc("POST /api/p2p/find", s.limited(s.handleAPIFind))
	s.mux.HandleFunc("POST /api/p2p/stop-find", s.limited(s.handleAPIStopFind))
	s.mux.HandleFunc("POST /api/p2p/connect", s.limited(s.handleAPIConnect))

	s.mux.HandleFunc("GET /api/info", s.handleAPIInfo)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket endpoint is not key-protected: browsers cannot send
	// custom headers on the upgrade request.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// limited wraps a handler that issues supplicant commands with the command
// rate limiter.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		h(w, r)
	}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
