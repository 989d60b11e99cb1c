// Package server exposes the engine operations over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/engine"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Service is the subset of the engine the API serves.
type Service interface {
	ListRepositories() []domain.Repository
	IndexRepositories(ctx context.Context, repoDirs []string) ([]engine.IndexResult, error)
	Search(ctx context.Context, targets []string, text string, k int) (*engine.SearchResponse, error)
	Chat(ctx context.Context, targets []string, question, analysis string) (*engine.ChatResponse, error)
	RemoveRepository(ctx context.Context, target string) error
}

type IndexRequest struct {
	RepoDirs []string `json:"repo_dirs"`
}

type SearchRequest struct {
	Repos []string `json:"repos"`
	Query string   `json:"query"`
	K     int      `json:"k,omitempty"`
}

type ChatRequest struct {
	Repos        []string `json:"repos"`
	Question     string   `json:"question"`
	AnalysisType string   `json:"analysis_type,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Server wires the API routes over a Service.
type Server struct {
	svc     Service
	cfg     config.ServerConfig
	logger  *slog.Logger
	handler http.Handler
}

func New(svc Service, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/repositories", s.handleList)
	mux.HandleFunc("POST /api/repositories/index", s.handleIndex)
	mux.HandleFunc("DELETE /api/repositories/{id}", s.handleRemove)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/chat", s.handleChat)

	s.handler = Chain(mux,
		Recover(logger),
		RequestID(),
		Logger(logger),
		OTel("reposcope"),
		RateLimit(cfg.RateLimit, cfg.Burst),
	)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"repositories": len(s.svc.ListRepositories()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	repos := s.svc.ListRepositories()
	if repos == nil {
		repos = []domain.Repository{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repositories": repos})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	results, err := s.svc.IndexRepositories(r.Context(), req.RepoDirs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveRepository(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Search(r.Context(), req.Repos, req.Query, req.K)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Chat(r.Context(), req.Repos, req.Question, req.AnalysisType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidQuery", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, domain.Kind(err), err.Error())
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRepoNotIndexed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmbeddingVersionMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}
