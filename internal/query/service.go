package query

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/msalah0e/attackgraph/internal/attackapi"
	"github.com/msalah0e/attackgraph/internal/builder"
	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/metrics"
	"github.com/msalah0e/attackgraph/internal/observability"
)

// API is the subset of the ATT&CK API the service needs.
type API interface {
	Explore(ctx context.Context, matrix, category, id string) (*attackapi.Response, error)
	TTPOverlap(ctx context.Context, ttps []string) (*attackapi.Response, error)
	ActorOverlap(ctx context.Context, actors []string) (*attackapi.Response, error)
	Search(ctx context.Context, params []string, matrices []string) (*attackapi.Response, error)
}

// Service answers graph requests: one API call, one build.
type Service struct {
	api     API
	builder *builder.Builder
	log     *zap.Logger
}

// NewService wires a service. A nil logger discards output.
func NewService(api API, b *builder.Builder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{api: api, builder: b, log: log}
}

// Render validates req, fetches its data and builds the graph document.
// Every call is counted under its mode and outcome.
func (s *Service) Render(ctx context.Context, req Request) (doc *graph.Document, err error) {
	log := observability.FromContext(ctx, s.log).With(
		zap.String("mode", string(req.Mode)),
		zap.Stringer("request", req),
	)
	defer func() {
		outcome := Outcome(err)
		metrics.RecordRequest(string(req.Mode), outcome)
		if err != nil {
			log.Warn("graph request failed", zap.String("outcome", outcome), zap.Error(err))
		}
	}()

	if err = req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.Fetch(ctx, req)
	metrics.ObserveUpstream(string(req.Mode), time.Since(start))
	if err != nil {
		return nil, err
	}

	start = time.Now()
	doc, err = s.Build(req, resp)
	if err != nil {
		return nil, err
	}
	stats := doc.GetStats()
	metrics.ObserveBuild(time.Since(start), stats.Nodes, stats.Edges)

	log.Info("graph rendered",
		zap.Int("nodes", stats.Nodes),
		zap.Int("edges", stats.Edges),
		zap.Int("tooltips", stats.Tooltips),
	)
	return doc, nil
}

// Fetch calls the endpoint for req's mode. The request must be valid.
func (s *Service) Fetch(ctx context.Context, req Request) (*attackapi.Response, error) {
	switch req.Mode {
	case ModeExplore:
		return s.api.Explore(ctx, req.Matrix, req.Category, req.ID)
	case ModeTTPOverlap:
		return s.api.TTPOverlap(ctx, req.TTPs)
	case ModeActorOverlap:
		return s.api.ActorOverlap(ctx, req.Actors)
	case ModeSearch:
		return s.api.Search(ctx, req.Params, req.Matrices)
	}
	return nil, req.Validate()
}

// Build turns an API response into a document. Empty answers, answers that
// are not objects and answers that yield no nodes are all EmptyResultError.
func (s *Service) Build(req Request, resp *attackapi.Response) (*graph.Document, error) {
	if resp.Empty() {
		return nil, &EmptyResultError{Request: req, Body: resp.Body}
	}

	doc, err := s.builder.Build(resp.Value)
	if errors.Is(err, builder.ErrInvalidInput) {
		return nil, &EmptyResultError{Request: req, Body: resp.Body}
	}
	if err != nil {
		return nil, err
	}
	if doc.IsEmpty() {
		return nil, &EmptyResultError{Request: req, Body: resp.Body}
	}
	return doc, nil
}

// Outcome classifies err for metrics and status mapping.
func Outcome(err error) string {
	var (
		usage    *UsageError
		upstream *attackapi.UpstreamError
	)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &usage):
		return metrics.OutcomeUsage
	case errors.Is(err, ErrEmptyResult):
		return metrics.OutcomeEmpty
	case errors.As(err, &upstream):
		return metrics.OutcomeUpstream
	}
	return metrics.OutcomeInternal
}
