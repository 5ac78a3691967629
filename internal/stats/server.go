// Package stats serves decoder counters and resolved positions over HTTP.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"modesfeed/internal/adsb"
)

// SnapshotSource is satisfied by *adsb.Stats
type SnapshotSource interface {
	Snapshot() adsb.Snapshot
}

// PositionSource is satisfied by *adsb.CPRResolver
type PositionSource interface {
	History(icao uint32) (adsb.AircraftPosition, bool)
	Len() int
}

// Server is the read-only status API
type Server struct {
	addr      string
	stats     SnapshotSource
	positions PositionSource
	logger    *logrus.Logger
	started   time.Time
}

// NewServer creates a server listening on addr once Run is called
func NewServer(addr string, stats SnapshotSource, positions PositionSource, logger *logrus.Logger) *Server {
	return &Server{
		addr:      addr,
		stats:     stats,
		positions: positions,
		logger:    logger,
		started:   time.Now(),
	}
}

// Router returns the HTTP handler, for embedding or tests
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/positions/{icao}", s.handlePosition)
	})

	return r
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("Starting stats server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

type positionResponse struct {
	ICAO       string    `json:"icao"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	Timestamp  time.Time `json:"timestamp"`
	LastUpdate time.Time `json:"last_update"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	param := strings.ToUpper(chi.URLParam(r, "icao"))
	icao, err := strconv.ParseUint(param, 16, 24)
	if err != nil || len(param) != 6 {
		writeError(w, http.StatusBadRequest, "icao must be six hex digits")
		return
	}

	history, ok := s.positions.History(uint32(icao))
	if !ok || history.LastPos == nil {
		writeError(w, http.StatusNotFound, "no position for "+param)
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		ICAO:       param,
		Latitude:   history.LastPos.Latitude,
		Longitude:  history.LastPos.Longitude,
		Timestamp:  history.LastPos.Timestamp,
		LastUpdate: history.LastUpdate,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
