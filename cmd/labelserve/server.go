package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/imageio"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/pipeline"
	"github.com/labelkit/labelkit/report"
	"github.com/labelkit/labelkit/store"
)

// server exposes the record store and scan pipeline over HTTP.
type server struct {
	store  store.Store
	images imageio.Source
	runner *pipeline.Runner
	logger observability.Logger
}

func newServer(st store.Store, images imageio.Source, runner *pipeline.Runner, logger observability.Logger) *server {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &server{store: st, images: images, runner: runner, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/labels", s.handleLabels)
	mux.HandleFunc("GET /api/labels/{num}", s.handleLabel)
	mux.HandleFunc("GET /api/labels/{num}/image", s.handleLabelImage)
	mux.HandleFunc("POST /api/labels/process", s.handleProcess)
	mux.HandleFunc("GET /api/results.csv", s.handleResultsCSV)
	mux.HandleFunc("POST /api/results/reset", s.handleReset)
	return s.logRequests(mux)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// logRequests logs method, path, status and duration for every request.
func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.logger.Info("request",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.Int("status", lrw.statusCode),
			observability.Duration("elapsed", time.Since(start)))
	})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", observability.Error("error", err))
	}
}

func (s *server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// labelResponse is an application record with its stored verdict, when
// one exists.
type labelResponse struct {
	compliance.Record
	Verdict *compliance.Verdict `json:"verdict,omitempty"`
}

func (s *server) handleLabels(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "list labels: "+err.Error())
		return
	}
	verdicts, err := s.store.Verdicts(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "load verdicts: "+err.Error())
		return
	}
	resp := make([]labelResponse, 0, len(recs))
	for _, rec := range recs {
		lr := labelResponse{Record: rec}
		if v, ok := verdicts[rec.ApplicationNum]; ok {
			lr.Verdict = &v
		}
		resp = append(resp, lr)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleLabel(w http.ResponseWriter, r *http.Request) {
	num := r.PathValue("num")
	rec, err := s.store.Record(r.Context(), num)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no application "+num)
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lr := labelResponse{Record: rec}
	switch v, err := s.store.Verdict(r.Context(), num); {
	case err == nil:
		lr.Verdict = &v
	case !errors.Is(err, store.ErrNotFound):
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, lr)
}

func (s *server) handleLabelImage(w http.ResponseWriter, r *http.Request) {
	num := r.PathValue("num")
	img, err := s.images.Load(r.Context(), num)
	if errors.Is(err, imageio.ErrNoImage) {
		s.writeJSONError(w, http.StatusNotFound, "no artwork for "+num)
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", img.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Write(img.Data)
}

type processRequest struct {
	ApplicationNumbers []string `json:"application_numbers"`
}

type processResponse struct {
	RunID    string            `json:"run_id"`
	Summary  pipeline.Summary  `json:"summary"`
	Outcomes []outcomeResponse `json:"outcomes"`
}

type outcomeResponse struct {
	ApplicationNum string   `json:"application_num"`
	Status         string   `json:"status"`
	Failures       []string `json:"failures,omitempty"`
	Error          string   `json:"error,omitempty"`
	Degraded       []string `json:"degraded,omitempty"`
	ElapsedMS      int64    `json:"elapsed_ms"`
}

// handleProcess scans the requested applications, or every stored
// application when the request names none.
func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return
	}

	res, err := s.runner.ProcessBatch(r.Context(), req.ApplicationNumbers)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "process batch: "+err.Error())
		return
	}

	resp := processResponse{
		RunID:    res.RunID,
		Summary:  res.Summary(),
		Outcomes: make([]outcomeResponse, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		or := outcomeResponse{
			ApplicationNum: o.AppNum,
			Degraded:       o.Degraded,
			ElapsedMS:      o.Elapsed.Milliseconds(),
		}
		switch {
		case o.Err != nil:
			or.Status = report.StatusError
			or.Error = o.Err.Error()
		case o.Verdict == nil:
			or.Status = report.StatusUnscanned
		case o.Verdict.Compliant:
			or.Status = report.StatusPassed
		default:
			or.Status = report.StatusFailed
			or.Failures = o.Verdict.Failures()
		}
		resp.Outcomes = append(resp.Outcomes, or)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleResultsCSV(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "list labels: "+err.Error())
		return
	}
	verdicts, err := s.store.Verdicts(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "load verdicts: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
	if err := report.WriteCSV(w, recs, verdicts, nil); err != nil {
		s.logger.Error("write csv", observability.Error("error", err))
	}
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearVerdicts(r.Context()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "reset verdicts: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
