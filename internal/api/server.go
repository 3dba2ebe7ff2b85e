// Package api exposes the ingest and export endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/probe"
	"github.com/park285/cheese-observer/internal/reconcile"
	"github.com/park285/cheese-observer/pkg/observerdto"
)

const maxFrameBody = 4 << 20

// Store is the retained snapshot ring served by the export endpoints.
type Store interface {
	Records(limit int) []domain.Record
	Latest() (domain.Record, bool)
}

type Server struct {
	router     *chi.Mux
	ingest     probe.Handler
	store      Store
	sinkStatus func() string
	logger     *zap.Logger
}

type Option func(*Server)

// WithSinkStatus reports backend delivery status on /healthz.
func WithSinkStatus(fn func() string) Option { return func(s *Server) { s.sinkStatus = fn } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(ingest probe.Handler, store Store, opts ...Option) (*Server, error) {
	if ingest == nil {
		return nil, errors.New("ingest handler is required")
	}
	if store == nil {
		return nil, errors.New("snapshot store is required")
	}
	s := &Server{ingest: ingest, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/dom", s.postDOM)
		r.Post("/frames", s.postFrame)
		r.Post("/game/new", s.postNewGame)
		r.Get("/snapshots", s.listSnapshots)
		r.Get("/snapshots/latest", s.latestSnapshot)
	})
	s.router = r
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("api_listen", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status := "unknown"
	if s.sinkStatus != nil {
		status = s.sinkStatus()
	}
	body := map[string]any{"status": "ok", "sink_status": status, "game_id": nil}
	if rec, ok := s.store.Latest(); ok {
		body["game_id"] = rec.GameID
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) postDOM(w http.ResponseWriter, r *http.Request) {
	var obs probe.DOMObservation
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFrameBody)).Decode(&obs); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid DOM observation")
		return
	}
	if obs.FEN == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "fen is required")
		return
	}
	s.accepted(w, s.ingest.SubmitDOM(r.Context(), obs.FEN, obs))
}

func (s *Server) postFrame(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "frame exceeds limit")
		return
	}
	env := probe.Envelope{Type: probe.TypeRaw, Payload: string(body), Encoding: r.URL.Query().Get("encoding")}
	s.accepted(w, probe.Dispatch(r.Context(), s.ingest, env, s.logger))
}

func (s *Server) postNewGame(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.ingest.NewGame(r.Context()))
}

func (s *Server) accepted(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, reconcile.ErrHubClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs := s.store.Records(limit)
	out := make([]observerdto.Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, observerdto.FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) latestSnapshot(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.store.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, observerdto.FromRecord(rec))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, observerdto.APIError{Code: code, Message: msg})
}
