package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxhound-dns/resolver/internal/cache"
	"github.com/foxhound-dns/resolver/internal/clock"
	"github.com/foxhound-dns/resolver/internal/config"
	"github.com/foxhound-dns/resolver/internal/dispatch"
	"github.com/foxhound-dns/resolver/internal/filter"
	"github.com/foxhound-dns/resolver/internal/filter/subnet"
	"github.com/foxhound-dns/resolver/internal/logging"
	"github.com/foxhound-dns/resolver/internal/storage"
)

// Server is the admin HTTP API. It holds references to the live
// collaborators it reloads or snapshots, never the hot resolution path
// itself. Adapted from the teacher's pkg/api.Server, trimmed to this
// architecture's components.
type Server struct {
	repo       *Repository
	engine     *filter.Engine
	subnets    *subnet.Store
	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
	store      storage.Storage
	clock      *clock.Coarse
	logger     *logging.Logger
	httpServer *http.Server
	startTime  time.Time
	version    string

	authMu       sync.RWMutex
	authEnabled  bool
	authHeader   string
	apiKey       string
	basicUser    string
	basicPass    string
	passwordHash string
}

// Deps bundles the collaborators the admin API operates on.
type Deps struct {
	Repo       *Repository
	Engine     *filter.Engine
	Subnets    *subnet.Store
	Cache      *cache.Cache
	Dispatcher *dispatch.Dispatcher
	Store      storage.Storage
	Clock      *clock.Coarse
	Logger     *logging.Logger
	Auth       config.AuthConfig
	ListenAddr string
	Version    string
}

// New builds a Server and wires its routes and middleware.
func New(d Deps) *Server {
	s := &Server{
		repo:       d.Repo,
		engine:     d.Engine,
		subnets:    d.Subnets,
		cache:      d.Cache,
		dispatcher: d.Dispatcher,
		store:      d.Store,
		clock:      d.Clock,
		logger:     d.Logger,
		startTime:  time.Now(),
		version:    d.Version,
	}
	s.applyAuthConfig(d.Auth)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.HandleFunc("GET /api/system", s.handleSystem)

	mux.HandleFunc("POST /api/reload", s.handleReload)

	mux.HandleFunc("GET /api/cache/metrics", s.handleCacheMetrics)
	mux.HandleFunc("DELETE /api/cache", s.handleCachePurgeOne)

	mux.HandleFunc("GET /api/health/upstream", s.handleUpstreamHealth)

	mux.HandleFunc("GET /api/filter/subnet-groups", s.handleListSubnetGroups)
	mux.HandleFunc("POST /api/filter/subnet-groups", s.handleSetSubnetGroup)
	mux.HandleFunc("DELETE /api/filter/subnet-groups", s.handleRemoveSubnetGroup)

	mux.HandleFunc("GET /api/filter/blocklist", s.handleGetBlocklist)
	mux.HandleFunc("POST /api/filter/blocklist", s.handleAddBlocklistEntry)
	mux.HandleFunc("DELETE /api/filter/blocklist", s.handleRemoveBlocklistEntry)

	mux.HandleFunc("GET /api/filter/managed-domains", s.handleListManagedDomains)
	mux.HandleFunc("POST /api/filter/managed-domains", s.handleAddManagedDomain)
	mux.HandleFunc("DELETE /api/filter/managed-domains/{id}", s.handleRemoveManagedDomain)

	mux.HandleFunc("GET /api/filter/regex-filters", s.handleListRegexFilters)
	mux.HandleFunc("POST /api/filter/regex-filters", s.handleAddRegexFilter)
	mux.HandleFunc("DELETE /api/filter/regex-filters/{id}", s.handleRemoveRegexFilter)

	mux.HandleFunc("GET /api/queries", s.handleRecentQueries)
	mux.HandleFunc("GET /api/stats", s.handleStatistics)

	handler := http.Handler(mux)
	handler = s.authMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              d.ListenAddr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting admin api", "address", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin api")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) applyAuthConfig(auth config.AuthConfig) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	header := strings.TrimSpace(auth.Header)
	if header == "" {
		header = "Authorization"
	}

	apiKey := strings.TrimSpace(auth.APIKey)
	username := strings.TrimSpace(auth.Username)
	hasBasicAuth := username != "" && (auth.Password != "" || auth.PasswordHash != "")
	enabled := auth.Enabled && (apiKey != "" || hasBasicAuth)

	s.authEnabled = enabled
	if !enabled {
		s.apiKey, s.basicUser, s.basicPass, s.passwordHash, s.authHeader = "", "", "", "", ""
		return
	}
	s.apiKey = apiKey
	s.basicUser = username
	s.basicPass = auth.Password
	s.passwordHash = auth.PasswordHash
	s.authHeader = strings.ToLower(header)
}

// SetAuthConfig hot-swaps authentication parameters, used by a config
// watcher's OnChange callback.
func (s *Server) SetAuthConfig(auth config.AuthConfig) {
	s.applyAuthConfig(auth)
}

var authBypassPaths = map[string]struct{}{
	"/health":     {},
	"/api/health": {},
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.authMu.RLock()
		enabled := s.authEnabled
		s.authMu.RUnlock()

		if !enabled {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := authBypassPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if s.authorizeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="foxhound-resolver", charset="UTF-8"`)
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	s.authMu.RLock()
	apiKey, header := s.apiKey, s.authHeader
	username, password, passwordHash := s.basicUser, s.basicPass, s.passwordHash
	s.authMu.RUnlock()

	if apiKey != "" {
		if token := extractAPIKey(r, header); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
				return true
			}
		}
	}
	if username != "" {
		if user, pass, ok := r.BasicAuth(); ok {
			return matchBasicCredentials(user, pass, username, password, passwordHash)
		}
	}
	return false
}

func extractAPIKey(r *http.Request, header string) string {
	value := strings.TrimSpace(r.Header.Get(header))
	if value == "" && !strings.EqualFold(header, "Authorization") {
		value = strings.TrimSpace(r.Header.Get("Authorization"))
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return ""
}

func matchBasicCredentials(user, pass, expectedUser, expectedPass, expectedHash string) bool {
	if expectedUser == "" || subtle.ConstantTimeCompare([]byte(user), []byte(expectedUser)) != 1 {
		return false
	}
	if expectedHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(pass)) == nil
	}
	return expectedPass != "" && subtle.ConstantTimeCompare([]byte(pass), []byte(expectedPass)) == 1
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": http.StatusText(status), "code": status, "message": message})
}

func parseUint64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
