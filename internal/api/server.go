// Package api implements the bridge's client-facing HTTP surface: the
// Hue v2 REST resource API, its SSE change feed, and the legacy
// POST /api pairing endpoint. TLS termination and certificate
// generation are an external collaborator's concern; Server accepts an
// optional cert/key pair and falls back to plain HTTP when none is
// configured, which is enough to exercise this package without owning
// the PKI.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/reconciler"
)

// ResourceStore is the subset of *graph.Graph the API surface needs.
type ResourceStore interface {
	Get(h graph.Handle) (graph.Resource, bool)
	List(t graph.ResourceType) []graph.Resource
	Snapshot() (uint64, []graph.Resource)
	Upsert(h graph.Handle, p graph.Payload) (uint64, error)
	Delete(h graph.Handle) (uint64, error)
}

// ChangeSource is the subset of *graph.ChangeLog the SSE handler needs.
type ChangeSource interface {
	Subscribe(fromSeq uint64) (*graph.Subscription, error)
}

// IntentRouter resolves a light handle to its owning gateway session and
// forwards a command intent to it. Concrete routing (picking which of
// several reconciler.Session values owns a light) is an internal/app
// wiring concern, kept out of this package the same way C4 pushes
// segment-address resolution into its Binder interface.
type IntentRouter interface {
	RouteLightIntent(ctx context.Context, light graph.Handle, intent reconciler.LightIntent) error
}

// PairedClientStore authenticates bearer application keys and issues new
// ones during pairing.
type PairedClientStore interface {
	Authenticate(appKey string) (string, bool)
	Pair(name string) (PairedClientRecord, error)
}

// PairedClientRecord is the paired-client fields the pairing response
// needs, decoupling this package from persist's concrete type.
type PairedClientRecord struct {
	AppKey    string
	ClientKey string
}

// Config holds the Server's static settings.
type Config struct {
	Addr             string
	CertFile         string // empty means serve plain HTTP
	KeyFile          string
	ShutdownTimeout  time.Duration
	LinkButtonWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":443"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.LinkButtonWindow == 0 {
		c.LinkButtonWindow = 30 * time.Second
	}
	return c
}

// Server is the bridge's HTTP(S) front door.
type Server struct {
	cfg        Config
	store      ResourceStore
	changes    ChangeSource
	router     IntentRouter
	clients    PairedClientStore
	linkButton *LinkButton
	log        zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP surface over the given collaborators.
func NewServer(cfg Config, store ResourceStore, changes ChangeSource, router IntentRouter, clients PairedClientStore, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg.withDefaults(),
		store:      store,
		changes:    changes,
		router:     router,
		clients:    clients,
		linkButton: &LinkButton{},
		log:        log.With().Str("component", "api").Logger(),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	s.log.Info().Str("addr", s.cfg.Addr).Msg("starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	var err error
	if s.cfg.CertFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// restRequestTimeout bounds every REST request end-to-end. The SSE
// stream is excluded: it's meant to stay open for the client's
// lifetime, not get cut off after 10 s of otherwise healthy streaming.
const restRequestTimeout = 10 * time.Second

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handleHealth)

	mux.HandleFunc("POST /api", withTimeout(s.handlePair))

	mux.HandleFunc("GET /eventstream/clip/v2", s.requireAuth(s.handleEventStream))

	mux.HandleFunc("GET /clip/v2/resource", withTimeout(s.requireAuth(s.handleListAll)))
	mux.HandleFunc("GET /clip/v2/resource/{rtype}", withTimeout(s.requireAuth(s.handleListByType)))
	mux.HandleFunc("POST /clip/v2/resource/{rtype}", withTimeout(s.requireAuth(s.handlePost)))
	mux.HandleFunc("GET /clip/v2/resource/{rtype}/{id}", withTimeout(s.requireAuth(s.handleGet)))
	mux.HandleFunc("PUT /clip/v2/resource/{rtype}/{id}", withTimeout(s.requireAuth(s.handlePut)))
	mux.HandleFunc("DELETE /clip/v2/resource/{rtype}/{id}", withTimeout(s.requireAuth(s.handleDelete)))

	mux.HandleFunc("GET /api/{username}/lights", withTimeout(s.requireLegacyAuth(s.handleLegacyLights)))
	mux.HandleFunc("GET /api/{username}/lights/{id}", withTimeout(s.requireLegacyAuth(s.handleLegacyLight)))
}

// withTimeout wraps a handler with http.TimeoutHandler so the response
// it produces (or the 503 TimeoutHandler substitutes) honors
// restRequestTimeout.
func withTimeout(h http.HandlerFunc) http.HandlerFunc {
	wrapped := http.TimeoutHandler(h, restRequestTimeout, `{"errors":[{"description":"request timed out"}],"data":[]}`)
	return func(w http.ResponseWriter, r *http.Request) { wrapped.ServeHTTP(w, r) }
}

// handleHealth is an unauthenticated liveness probe.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// PressLinkButton opens the 30 s pairing window, the bridge-side action
// gating POST /api. Called by internal/app in response to
// whatever the real bridge's physical button maps to in this
// deployment (a config trigger, a signal, a CLI command; the wiring
// layer's choice, not this package's).
func (s *Server) PressLinkButton() {
	s.linkButton.Press(s.cfg.LinkButtonWindow)
}

// requireAuth wraps h with bearer-auth middleware reading the
// hue-application-key header against the paired-clients store.
func (s *Server) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("hue-application-key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing hue-application-key header")
			return
		}
		if _, ok := s.clients.Authenticate(key); !ok {
			writeError(w, http.StatusUnauthorized, "unrecognized application key")
			return
		}
		h(w, r)
	}
}

// requireLegacyAuth is requireAuth's v1 counterpart: the legacy surface
// carries its application key as the {username} path segment rather
// than a header.
func (s *Server) requireLegacyAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.clients.Authenticate(r.PathValue("username")); !ok {
			writeError(w, http.StatusUnauthorized, "unrecognized application key")
			return
		}
		h(w, r)
	}
}
