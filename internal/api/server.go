// Package api exposes the pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/features"
	"github.com/MikeSquared-Agency/convoseg/internal/normalize"
	"github.com/MikeSquared-Agency/convoseg/internal/pipeline"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

// MaxBodyBytes bounds a request body.
const MaxBodyBytes = 64 << 20

const ndjson = "application/x-ndjson"

type Config struct {
	Port    int
	Version string
	// ReportPath is the run report served by the status endpoint.
	ReportPath string
	Segment    segment.Options
}

type Server struct {
	router     *chi.Mux
	cfg        Config
	normalizer *normalize.Normalizer
	extractor  *features.Extractor
	logger     zerolog.Logger
	httpServer *http.Server

	requests atomic.Int64
}

func NewServer(cfg Config, n *normalize.Normalizer, ext *features.Extractor, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		router:     router,
		cfg:        cfg,
		normalizer: n,
		extractor:  ext,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.health)
	router.Route("/api/v1/convoseg", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/normalize", s.normalize)
		r.Post("/segment", s.segment)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Msg("HTTP request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"service":            "convoseg",
		"version":            s.cfg.Version,
		"vocabulary_version": s.extractor.VocabularyVersion(),
		"gap_threshold":      s.cfg.Segment.GapThreshold.String(),
		"requests":           s.requests.Load(),
		"last_run":           nil,
	}
	if s.cfg.ReportPath != "" {
		if rep, err := pipeline.LoadReport(s.cfg.ReportPath); err == nil {
			body["last_run"] = rep
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// normalize accepts concatenated export objects and returns canonical
// records as JSON Lines. Issues are counted in response headers.
func (s *Server) normalize(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	runner := pipeline.NewRunner(s.normalizer, s.extractor, s.cfg.Segment, s.logger)
	var out bytes.Buffer
	res, err := runner.Normalize(r.Context(), body, &out)
	if err != nil {
		writeError(w, requestErrorStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", ndjson)
	w.Header().Set("X-Convoseg-Records", strconv.Itoa(res.Written))
	w.Header().Set("X-Convoseg-Skipped", strconv.Itoa(res.Skipped))
	w.Header().Set("X-Convoseg-Issues", strconv.Itoa(len(res.Issues.Issues)))
	w.WriteHeader(http.StatusOK)
	_, _ = out.WriteTo(w)
}

// segment accepts canonical records as JSON Lines and returns segments.
// Query parameters gap (a Go duration) and sort override the defaults.
func (s *Server) segment(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	opts := s.cfg.Segment

	if v := r.URL.Query().Get("gap"); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			err = segment.ValidateGap(d)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid gap %q: %w", v, err))
			return
		}
		opts.GapThreshold = d
	}
	if v := r.URL.Query().Get("sort"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sort %q", v))
			return
		}
		opts.SortInput = b
	}

	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	runner := pipeline.NewRunner(s.normalizer, s.extractor, opts, s.logger)
	var out bytes.Buffer
	res, err := runner.Segment(r.Context(), body, &out)
	if err != nil {
		writeError(w, requestErrorStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", ndjson)
	w.Header().Set("X-Convoseg-Segments", strconv.Itoa(res.Summary.Segments))
	w.Header().Set("X-Convoseg-Issues", strconv.Itoa(len(res.Issues.Issues)))
	w.WriteHeader(http.StatusOK)
	_, _ = out.WriteTo(w)
}

func requestErrorStatus(err error) int {
	var inErr *segment.InputError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &inErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
