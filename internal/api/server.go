// Package api is the admin HTTP surface: device directory reads,
// administrative cache-busting, the live roster, and health. It holds no
// relay logic of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"classwatch/internal/directory"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// DeviceSource is the directory matcher surface the API consumes.
type DeviceSource interface {
	DevicesInOrgUnit(ctx context.Context) ([]*types.DirectoryRecord, error)
	Device(ctx context.Context, deviceID string) (*types.DirectoryRecord, error)
	OrgUnit() string
}

// CacheControl exposes the administrative cache operations.
type CacheControl interface {
	InvalidateAll()
	Len() int
}

// RosterSource exposes the live membership. Implemented by the registry.
type RosterSource interface {
	Snapshot() []types.Party
	Len() int
}

// Server routes admin requests. Any dependency may be nil when the
// corresponding subsystem is disabled; handlers degrade to 503 or omit the
// section rather than panic.
type Server struct {
	devices DeviceSource
	cache   CacheControl
	store   interfaces.DeviceStore
	roster  RosterSource
	mux     *http.ServeMux
	log     zerolog.Logger
}

func NewServer(devices DeviceSource, cache CacheControl, store interfaces.DeviceStore, roster RosterSource, log zerolog.Logger) *Server {
	s := &Server{
		devices: devices,
		cache:   cache,
		store:   store,
		roster:  roster,
		mux:     http.NewServeMux(),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/api/devices", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleDevices))))
	s.mux.Handle("/api/devices/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleDeviceByID))))
	s.mux.Handle("/api/cache/invalidate", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleCacheInvalidate))))
	s.mux.Handle("/api/roster", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoster))))
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type deviceListResponse struct {
	Devices []*types.DirectoryRecord `json:"devices"`
	Source  string                   `json:"source"`
}

// handleDevices serves the org unit device list: cache/upstream first, then
// the snapshot store when upstream is unreachable.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.devices == nil {
		s.sendError(w, "Device directory is not configured", http.StatusServiceUnavailable)
		return
	}

	records, err := s.devices.DevicesInOrgUnit(r.Context())
	if err == nil {
		s.sendJSON(w, http.StatusOK, deviceListResponse{Devices: records, Source: "directory"})
		return
	}

	s.log.Warn().Err(err).Msg("upstream device listing failed, falling back to store")
	if s.store != nil {
		stored, serr := s.store.ListDevices(r.Context(), s.devices.OrgUnit())
		if serr == nil && len(stored) > 0 {
			s.sendJSON(w, http.StatusOK, deviceListResponse{Devices: stored, Source: "snapshot"})
			return
		}
	}
	s.sendError(w, "Device directory unavailable", http.StatusBadGateway)
}

func (s *Server) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.devices == nil {
		s.sendError(w, "Device directory is not configured", http.StatusServiceUnavailable)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if deviceID == "" {
		s.sendError(w, "Device ID required", http.StatusBadRequest)
		return
	}

	record, err := s.devices.Device(r.Context(), deviceID)
	if err == nil {
		s.sendJSON(w, http.StatusOK, record)
		return
	}
	if errors.Is(err, directory.ErrNotFound) {
		s.sendError(w, "Device not found", http.StatusNotFound)
		return
	}

	if s.store != nil {
		stored, serr := s.store.GetDevice(r.Context(), deviceID)
		if serr == nil {
			s.sendJSON(w, http.StatusOK, stored)
			return
		}
	}
	s.sendError(w, "Device directory unavailable", http.StatusBadGateway)
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cache == nil {
		s.sendError(w, "Device directory is not configured", http.StatusServiceUnavailable)
		return
	}

	evicted := s.cache.Len()
	s.cache.InvalidateAll()
	s.log.Info().Int("evicted", evicted).Msg("directory cache invalidated")
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "evicted": evicted})
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, types.NewRoster(s.roster.Snapshot()))
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"
	if s.store != nil {
		dbStatus = "healthy"
		if err := s.store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = err.Error()
		}
	}

	resp := healthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.roster.Len(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, resp)
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode API response")
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
