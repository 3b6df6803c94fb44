// Package api exposes the HTTP surface: link and collection CRUD, the
// enrichment entrypoint, natural-language search, and the public shared
// collection view.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linkloom/linkloom/db"
	"github.com/linkloom/linkloom/metrics"
	"github.com/linkloom/linkloom/models"
)

// Store is the persistence surface the API needs.
type Store interface {
	UserIDByToken(ctx context.Context, tokenDigest string) (string, error)

	CreateLink(ctx context.Context, link *models.SavedLink) error
	GetLink(ctx context.Context, ownerID, id string) (*models.SavedLink, error)
	ListLinks(ctx context.Context, ownerID string, filter db.ListFilter) ([]*models.SavedLink, error)
	UpdateLinkFields(ctx context.Context, ownerID, id string, fields models.LinkFields) error
	DeleteLink(ctx context.Context, ownerID, id string) error

	CreateCollection(ctx context.Context, c *models.Collection) error
	GetCollection(ctx context.Context, ownerID, id string) (*models.Collection, error)
	ListCollections(ctx context.Context, ownerID string) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, ownerID, id string) error
	SetCollectionSharing(ctx context.Context, ownerID, id string, isPublic bool, slug string) error
	PublicCollectionBySlug(ctx context.Context, slug string) (*models.Collection, error)
}

// Enricher runs the metadata enrichment pipeline.
type Enricher interface {
	Enrich(ctx context.Context, ownerID, url, linkID string) (*models.EnrichmentResult, error)
}

// Searcher answers natural-language queries over a user's corpus.
type Searcher interface {
	Search(ctx context.Context, ownerID, query string) (*models.SearchResult, error)
}

// Config contains server configuration.
type Config struct {
	Addr        string
	CORSEnabled bool
}

// Server is the HTTP server.
type Server struct {
	store       Store
	enricher    Enricher
	searcher    Searcher
	log         logrus.FieldLogger
	corsEnabled bool
	router      *mux.Router
	server      *http.Server
}

// NewServer wires the HTTP surface. The handler chain is
// otelhttp → logging/metrics → CORS → router.
func NewServer(config Config, store Store, enricher Enricher, searcher Searcher, log logrus.FieldLogger) *Server {
	s := &Server{
		store:       store,
		enricher:    enricher,
		searcher:    searcher,
		log:         log.WithField("component", "api"),
		corsEnabled: config.CORSEnabled,
		router:      mux.NewRouter(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      otelhttp.NewHandler(s.middleware(s.router), "linkloom"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/shared/{slug}", s.handleSharedCollection).Methods(http.MethodGet)

	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(s.authMiddleware)

	authed.HandleFunc("/links", s.handleCreateLink).Methods(http.MethodPost)
	authed.HandleFunc("/links", s.handleListLinks).Methods(http.MethodGet)
	authed.HandleFunc("/links/{id}", s.handleGetLink).Methods(http.MethodGet)
	authed.HandleFunc("/links/{id}", s.handleUpdateLink).Methods(http.MethodPatch)
	authed.HandleFunc("/links/{id}", s.handleDeleteLink).Methods(http.MethodDelete)
	authed.HandleFunc("/links/{id}/highlight", s.handleToggleHighlight).Methods(http.MethodPost)
	authed.HandleFunc("/links/{id}/reminder", s.handleSetReminder).Methods(http.MethodPut)
	authed.HandleFunc("/links/{id}/collection", s.handleMoveToCollection).Methods(http.MethodPut)

	authed.HandleFunc("/enrich", s.handleEnrich).Methods(http.MethodPost)
	authed.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)

	authed.HandleFunc("/collections", s.handleCreateCollection).Methods(http.MethodPost)
	authed.HandleFunc("/collections", s.handleListCollections).Methods(http.MethodGet)
	authed.HandleFunc("/collections/{id}", s.handleDeleteCollection).Methods(http.MethodDelete)
	authed.HandleFunc("/collections/{id}/share", s.handleShareCollection).Methods(http.MethodPut)
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// --- middleware ---

type contextKey string

const ownerIDKey contextKey = "ownerID"

// ownerID returns the authenticated user for the request, or "" when the
// request skipped the auth middleware.
func ownerID(r *http.Request) string {
	id, _ := r.Context().Value(ownerIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			s.log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}).Info("request handled")
		}
	})
}

// metricsMiddleware records request latency labelled by route template, not
// raw path, so link and collection ids cannot mint new label values. It is
// registered on the router itself because mux.CurrentRoute only sees the
// matched route inside the router's handling.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		metrics.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

// authMiddleware resolves the bearer token to a user id. Tokens are stored
// as SHA-256 digests; the raw token exists only in transit.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		digest := sha256.Sum256([]byte(token))
		userID, err := s.store.UserIDByToken(r.Context(), hex.EncodeToString(digest[:]))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			s.log.WithError(err).Error("token lookup failed")
			respondError(w, http.StatusInternalServerError, "authentication failed")
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}
