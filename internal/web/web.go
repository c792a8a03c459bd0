package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"showscrape/internal/compose"
	"showscrape/internal/config"
	appLog "showscrape/internal/log"
	"showscrape/internal/model"
	"showscrape/internal/pipeline"
	"showscrape/internal/scrape"
	"showscrape/internal/store"
)

// Service is the pipeline surface the API exposes.
type Service interface {
	RunIngestion(ctx context.Context) (pipeline.RunSummary, error)
	RunVenue(ctx context.Context, id string) (pipeline.RunSummary, error)
	ListVenues() []scrape.Info
	ListPending(ctx context.Context) (model.Buckets, error)
	GetEvent(ctx context.Context, id string) (model.StoredEventRecord, error)
	PreviewDraft(ctx context.Context, id string, kind compose.Kind) (compose.Draft, error)
	MarkPosted(ctx context.Context, ids []string) (store.MarkResult, error)
}

// Options configures a Server. Metrics may be nil.
type Options struct {
	BasicAuth   *config.BasicAuthConfig
	CORSOrigins []string
	Metrics     http.Handler
}

// Server provides the JSON API over the pipeline.
type Server struct {
	svc    Service
	opts   Options
	router *httprouter.Router

	// One ingestion at a time; a second request gets 409.
	ingestMu sync.Mutex
}

func NewServer(svc Service, opts Options) *Server {
	s := &Server{svc: svc, opts: opts, router: httprouter.New()}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in auth, CORS and request logging.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	if len(s.opts.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return loggingMiddleware(h)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/venues", s.handleVenues)
	s.router.POST("/api/ingest", s.handleIngest)
	s.router.GET("/api/pending", s.handlePending)
	s.router.GET("/api/events/:id", s.handleEvent)
	s.router.GET("/api/events/:id/draft", s.handleDraft)
	s.router.POST("/api/events/posted", s.handleMarkPosted)
	if s.opts.Metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", s.opts.Metrics)
	}
}

func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="showscrape", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start).String())
	})
}

// StartServer serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Ingestion runs inside the request.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleVenues(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.svc.ListVenues())
}

// ingestResponse carries the summary even when the run aborted.
type ingestResponse struct {
	Summary pipeline.RunSummary `json:"summary"`
	Error   string              `json:"error,omitempty"`
}

// handleIngest runs ingestion synchronously.
//
// POST /api/ingest[?venue=id]
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.ingestMu.TryLock() {
		writeError(w, http.StatusConflict, "ingestion already running")
		return
	}
	defer s.ingestMu.Unlock()

	var (
		sum pipeline.RunSummary
		err error
	)
	if venue := strings.TrimSpace(r.URL.Query().Get("venue")); venue != "" {
		sum, err = s.svc.RunVenue(r.Context(), venue)
	} else {
		sum, err = s.svc.RunIngestion(r.Context())
	}
	if errors.Is(err, pipeline.ErrUnknownVenue) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Summary: sum, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Summary: sum})
}

// pendingResponse lists buckets nearest-first.
type pendingResponse struct {
	Total   int            `json:"total"`
	Order   []model.Bucket `json:"order"`
	Buckets model.Buckets  `json:"buckets"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	b, err := s.svc.ListPending(r.Context())
	if err != nil {
		appLog.Error("list pending failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending events")
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Total: b.Len(), Order: model.AllBuckets, Buckets: b})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, err := s.svc.GetEvent(r.Context(), ps.ByName("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDraft composes a draft.
//
// GET /api/events/:id/draft?kind=post|preview (default preview)
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	kind := compose.KindPreview
	if k := r.URL.Query().Get("kind"); k != "" {
		var err error
		if kind, err = compose.ParseKind(k); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	d, err := s.svc.PreviewDraft(r.Context(), ps.ByName("id"), kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type markPostedRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleMarkPosted(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req markPostedRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.MarkPosted(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrUnknownVenue):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrNoIDs):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
