package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telemetry-service/internal/ingest"
	"telemetry-service/internal/observability"
	"telemetry-service/internal/realtime"
	"telemetry-service/internal/store"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 256 << 10

type Server struct {
	repo    *store.Repo
	gateway *ingest.Gateway
	hub     *realtime.Hub

	apiKey    string
	staticDir string
}

func NewServer(repo *store.Repo, gateway *ingest.Gateway, hub *realtime.Hub, apiKey, staticDir string) *Server {
	return &Server{repo: repo, gateway: gateway, hub: hub, apiKey: apiKey, staticDir: staticDir}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.MetricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		observability.Handler().ServeHTTP(w, req)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/api/readings", s.handleCreateReading)
		// Alias route kept for devices flashed before the rename; it also
		// accepts "device" for the device identifier.
		r.Post("/ingest", s.handleCreateReading)
	})

	r.Get("/api/readings/latest", s.handleLatest)
	r.Get("/api/readings/recent", s.handleRecent)

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type readingRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	DeviceID    string   `json:"deviceId"`
	Device      string   `json:"device"`
	TS          string   `json:"ts"`
}

func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var body readingRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			writeError(w, http.StatusBadRequest, typeErr.Field+" must be a number")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	deviceID := body.DeviceID
	if deviceID == "" {
		deviceID = body.Device
	}

	var ts time.Time
	if v := strings.TrimSpace(body.TS); v != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			ts = parsed.UTC()
		} else {
			slog.Warn("ignoring unparseable ts", "ts", v)
		}
	}

	reading, err := s.gateway.Ingest(r.Context(), ingest.ReadingInput{
		Temperature: body.Temperature,
		Humidity:    body.Humidity,
		DeviceID:    deviceID,
		TS:          ts,
		Raw:         raw,
		Source:      "http",
	})
	if err != nil {
		var vErr *ingest.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		if errors.Is(err, store.ErrInvalidReading) {
			writeError(w, http.StatusBadRequest, "temperature & humidity must be numbers")
			return
		}
		slog.Error("reading insert failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": reading.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := s.repo.LatestReading(r.Context())
	if err != nil {
		slog.Error("latest query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if reading == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	readings, err := s.repo.RecentReadings(r.Context(), limit)
	if err != nil {
		slog.Error("recent query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if readings == nil {
		readings = []store.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}
