// Package api exposes indicators, flights and job control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"flight_radar/internal/flight"
	"flight_radar/internal/indicator"
	"flight_radar/internal/jobs"
	"flight_radar/internal/scheduler"
	"flight_radar/internal/storage"
)

const (
	defaultFlightLimit = 100
	maxFlightLimit     = 1000
	healthPingTimeout  = 2 * time.Second
)

// IndicatorReader serves committed indicator results.
type IndicatorReader interface {
	Latest(ctx context.Context, keyOrName string) (indicator.Snapshot, error)
	All(ctx context.Context) ([]indicator.Snapshot, error)
}

// JobController manages the periodic jobs.
type JobController interface {
	StartJobs(ctx context.Context, p jobs.StartParams) (bool, error)
	StopJobs(ctx context.Context) error
	PauseJob(ctx context.Context, id string) error
	ResumeJob(ctx context.Context, id string) error
	ListJobs() []jobs.JobInfo
}

// FlightReader reads the latest-row views. Ping backs /health.
type FlightReader interface {
	Ping(ctx context.Context) error
	ListLiveFlights(ctx context.Context, limit, offset int) ([]flight.Observation, error)
	GetLatestFlight(ctx context.Context, flightID string) (*flight.Observation, error)
	GetFlightStats(ctx context.Context) (*storage.FlightStats, error)
}

// Config holds configuration for the API server.
type Config struct {
	Port        int
	AuthEnabled bool
	APIKeys     []string // Valid API keys when auth is enabled.
}

// Server is the flight radar HTTP API.
type Server struct {
	indicators  IndicatorReader
	jobs        JobController
	flights     FlightReader
	port        int
	authEnabled bool
	apiKeys     map[string]bool
	log         *logrus.Entry
}

// NewServer creates the API server. flights may be nil, in which case the
// flight routes are not mounted.
func NewServer(indicators IndicatorReader, jc JobController, flights FlightReader, cfg Config, logger logrus.FieldLogger) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}

	return &Server{
		indicators:  indicators,
		jobs:        jc,
		flights:     flights,
		port:        cfg.Port,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
		log:         logger.WithField("component", "api"),
	}
}

// Router returns the fully configured chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.authEnabled {
			r.Use(s.authMiddleware)
		}

		r.Get("/indicators", s.handleListIndicators)
		r.Get("/indicators/{name}", s.handleGetIndicator)

		r.Post("/start", s.handleStart)
		r.Put("/stop", s.handleStop)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/{id}/pause", s.handlePause)
		r.Post("/jobs/{id}/resume", s.handleResume)

		if s.flights != nil {
			r.Get("/stats", s.handleStats)
			r.Get("/flights/live", s.handleLiveFlights)
			r.Get("/flights/{flight_id}", s.handleGetFlight)
		}
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(logrus.Fields{
			"addr": srv.Addr,
			"auth": s.authEnabled,
		}).Info("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// requestLogger logs one line per request through logrus.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
			"remote":     r.RemoteAddr,
		}).Debug("request")
	})
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")

		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if s.flights != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := s.flights.Ping(ctx); err != nil {
			s.log.WithError(err).Warn("health check: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"database": "unreachable",
				"time":     now,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
		"time":     now,
	})
}

func (s *Server) handleListIndicators(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.indicators.All(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleGetIndicator returns the bare result payload of the latest cycle.
func (s *Server) handleGetIndicator(w http.ResponseWriter, r *http.Request) {
	snap, err := s.indicators.Latest(r.Context(), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, indicator.ErrUnknownIndicator):
		writeStatus(w, http.StatusNotImplemented, "error", "Unknown indicator")
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	if snap.ComputedAt != nil {
		w.Header().Set("Last-Modified", snap.ComputedAt.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Result)
}

// StartRequest is the optional body of POST /start. Frequencies are in
// seconds; initial_date is RFC 3339.
type StartRequest struct {
	InitialDate          string `json:"initial_date"`
	UploadFrequency      int64  `json:"upload_frequency"`
	ComputationFrequency int64  `json:"computation_frequency"`
}

func (req StartRequest) params() (jobs.StartParams, error) {
	var p jobs.StartParams
	if req.InitialDate != "" {
		t, err := time.Parse(time.RFC3339, req.InitialDate)
		if err != nil {
			return p, errors.New("initial_date must be RFC 3339")
		}
		p.InitialDate = t.UTC()
	}
	if req.UploadFrequency < 0 || req.ComputationFrequency < 0 {
		return p, errors.New("frequencies must be positive")
	}
	p.UploadFrequency = time.Duration(req.UploadFrequency) * time.Second
	p.ComputationFrequency = time.Duration(req.ComputationFrequency) * time.Second
	return p, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeStatus(w, http.StatusBadRequest, "error", "Invalid JSON: "+err.Error())
			return
		}
	}
	params, err := req.params()
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}

	started, err := s.jobs.StartJobs(r.Context(), params)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !started {
		writeStatus(w, http.StatusOK, "success", "Job already started")
		return
	}
	writeStatus(w, http.StatusCreated, "success", "Job successfully started.")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.StopJobs(r.Context()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeStatus(w, http.StatusOK, "success", "Job successfully stopped.")
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.ListJobs())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.toggleJob(w, r, s.jobs.PauseJob, "Job successfully paused.")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.toggleJob(w, r, s.jobs.ResumeJob, "Job successfully resumed.")
}

func (s *Server) toggleJob(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error, msg string) {
	id := chi.URLParam(r, "id")
	err := fn(r.Context(), id)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeStatus(w, http.StatusNotFound, "error", "Unknown job")
	case err != nil:
		s.internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": msg, "id": id})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.flights.GetFlightStats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":          st.Rows,
		"flights":       st.Flights,
		"live_flights":  st.LiveFlights,
		"latest_update": st.LatestUpdate,
	})
}

func (s *Server) handleLiveFlights(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultFlightLimit)
	if err != nil || limit < 1 || limit > maxFlightLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxFlightLimit))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	obs, err := s.flights.ListLiveFlights(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]FlightResponse, 0, len(obs))
	for _, o := range obs {
		out = append(out, toFlightResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFlight(w http.ResponseWriter, r *http.Request) {
	o, err := s.flights.GetLatestFlight(r.Context(), chi.URLParam(r, "flight_id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "No flight data found")
		return
	}
	writeJSON(w, http.StatusOK, toFlightResponse(*o))
}

// internalError logs err and answers with a generic message.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}).WithError(err).Error("request failed")
	writeStatus(w, http.StatusInternalServerError, "error", "Internal error occurred, try again.")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStatus writes the {"message","status"} envelope used by the job and
// indicator routes.
func writeStatus(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, map[string]string{"message": message, "status": status})
}
