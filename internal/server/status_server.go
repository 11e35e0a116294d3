package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StatusSource supplies the current agent snapshot for the status
// endpoint
type StatusSource interface {
	Status() map[string]interface{}
}

// StatusServer serves the local status endpoint the workout UI polls to
// render the right screen (recording view, reconnect overlay, offline
// banner)
type StatusServer struct {
	source StatusSource
	logger *zap.Logger
}

// NewStatusServer creates a new status server
func NewStatusServer(source StatusSource, logger *zap.Logger) *StatusServer {
	return &StatusServer{
		source: source,
		logger: logger,
	}
}

// ServeHTTP implements http.Handler
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The UI runs on a different local origin
	s.setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.URL.Path {
	case "/api/v1/status":
		if r.Method == http.MethodGet {
			s.handleStatus(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/v1/health":
		if r.Method == http.MethodGet {
			s.handleHealth(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *StatusServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.source.Status()); err != nil {
		s.logger.Warn("Failed to encode status response", zap.Error(err))
	}
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
