// Package server is the HTTP front end: one graph endpoint plus health,
// stats and metrics.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/metrics"
	"github.com/msalah0e/attackgraph/internal/observability"
	"github.com/msalah0e/attackgraph/internal/query"
)

const msgUpstream = "could not communicate with the API"

// Config holds server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Format is used when a request names none.
	Format string
	Page   graph.PageOptions

	Version    string
	APIBaseURL string
}

// Renderer answers a validated graph request.
type Renderer interface {
	Render(ctx context.Context, req query.Request) (*graph.Document, error)
}

// Stats tracks request counts since start.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	StartedAt     time.Time        `json:"started_at"`
	ByMode        map[string]int64 `json:"by_mode"`
	ByOutcome     map[string]int64 `json:"by_outcome"`
}

// Server is the attackgraph front end.
type Server struct {
	cfg Config
	svc Renderer
	log *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a server. A nil logger discards output.
func New(cfg Config, svc Renderer, log *zap.Logger) *Server {
	if cfg.Format == "" {
		cfg.Format = graph.FormatHTML
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg: cfg,
		svc: svc,
		log: log.Named("server"),
		stats: Stats{
			StartedAt: time.Now(),
			ByMode:    make(map[string]int64),
			ByOutcome: make(map[string]int64),
		},
	}
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleGraph)
	mux.HandleFunc("/graph", s.handleGraph)
	mux.HandleFunc("/healthz", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", metrics.Handler())
	return s.logRequests(mux)
}

// Run listens on cfg.Addr and serves until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.log),
	}

	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("api", s.cfg.APIBaseURL))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/graph" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = s.cfg.Format
	}

	req, err := query.FromValues(q)
	if err == nil && !graph.ValidFormat(format) {
		err = &query.UsageError{Mode: req.Mode, Msg: fmt.Sprintf("unknown format %q", format)}
	}
	if err != nil {
		mode := modeLabel(q.Get("mode"), q.Get("q"))
		metrics.RecordRequest(mode, metrics.OutcomeUsage)
		s.count(mode, metrics.OutcomeUsage)
		s.writeError(w, err)
		return
	}

	doc, err := s.svc.Render(r.Context(), req)
	s.count(string(req.Mode), query.Outcome(err))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := graph.Write(&buf, doc, format, s.cfg.Page); err != nil {
		observability.FromContext(r.Context(), s.log).Error("serialize graph", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", graph.ContentType(format))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = buf.WriteTo(w)
}

// writeError maps the error taxonomy onto plain-text responses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		usage *query.UsageError
		empty *query.EmptyResultError
	)
	switch {
	case errors.As(err, &usage):
		http.Error(w, err.Error()+"\n"+query.Usage(usage.Mode), http.StatusBadRequest)
	case errors.As(err, &empty):
		msg := empty.Error()
		if len(empty.Body) > 0 {
			msg += "\n\n" + string(empty.Body)
		}
		http.Error(w, msg, http.StatusNotFound)
	case query.Outcome(err) == metrics.OutcomeUpstream:
		http.Error(w, msgUpstream, http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) count(mode, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalRequests++
	s.stats.ByMode[mode]++
	s.stats.ByOutcome[outcome]++
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	total := s.stats.TotalRequests
	started := s.stats.StartedAt
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"version":  s.cfg.Version,
		"api":      s.cfg.APIBaseURL,
		"uptime":   time.Since(started).Round(time.Second).String(),
		"requests": total,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stats)
}

// logRequests tags each request with an id and logs it once served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		log := s.log.With(zap.String("request_id", id))
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(observability.WithLogger(r.Context(), log)))

		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status()),
			zap.Int("bytes", rec.bytes),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func modeLabel(values ...string) string {
	for _, v := range values {
		if m, err := query.ParseMode(v); err == nil {
			return string(m)
		}
	}
	return "unknown"
}

// responseRecorder captures the HTTP status code and body size.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) status() int {
	if r.statusCode == 0 {
		return http.StatusOK
	}
	return r.statusCode
}
