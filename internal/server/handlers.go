// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, push subscriptions, uploads and the built-in test page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/notify"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/upload"
)

const (
	maxSubscriptionBody = 64 << 10
	multipartMemory     = 1 << 20
)

// Deps are the collaborators behind the HTTP surface. Store, Subscriptions
// and Uploads may be nil; the matching endpoints then report unavailability.
type Deps struct {
	Hub           *Hub
	Handler       relay.Handler
	Store         history.Store
	Subscriptions notify.SubscriptionStore
	Uploads       *upload.Service
	Mode          string
}

// Server holds the handlers and their shared dependencies.
type Server struct {
	cfg      Config
	hub      *Hub
	handler  relay.Handler
	store    history.Store
	subs     notify.SubscriptionStore
	uploads  *upload.Service
	mode     string
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a Server. cfg is sanitized first.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	cfg = cfg.sanitize()
	logger = logger.With().Str("component", "http").Logger()

	s := &Server{
		cfg:     cfg,
		hub:     deps.Hub,
		handler: deps.Handler,
		store:   deps.Store,
		subs:    deps.Subscriptions,
		uploads: deps.Uploads,
		mode:    deps.Mode,
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		log:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// JSON sends a JSON response with the given status code.
func (s *Server) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn().Err(err).Msg("write json response")
	}
}

// Error sends a JSON error response with the given status code.
func (s *Server) Error(w http.ResponseWriter, status int, message string) {
	s.JSON(w, status, map[string]string{"error": message})
}

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection, and registers a new
// Client with the hub, which starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.handler, r.RemoteAddr, s.cfg)
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"`
	Mode        string           `json:"mode"`
	Connections int              `json:"connections"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// HealthHandler reports the relay status and pings the history store.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	if s.store != nil {
		start := time.Now()
		if err := s.store.Ping(ctx); err != nil {
			checks["history"] = Check{Status: "fail", Message: "store unreachable"}
			healthy = false
		} else {
			checks["history"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.JSON(w, code, HealthResponse{
		Status:      status,
		Mode:        s.mode,
		Connections: s.hub.ClientCount(),
		Checks:      checks,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// SubscribeHandler stores a web push subscription.
func (s *Server) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if s.subs == nil {
		s.Error(w, http.StatusServiceUnavailable, "Push notifications are disabled")
		return
	}

	var sub notify.Subscription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscriptionBody)).Decode(&sub); err != nil {
		s.Error(w, http.StatusBadRequest, "Invalid subscription")
		return
	}

	if err := s.subs.Add(r.Context(), sub); err != nil {
		s.log.Error().Err(err).Msg("store subscription")
		s.Error(w, http.StatusInternalServerError, "Error saving subscription")
		return
	}
	s.JSON(w, http.StatusCreated, struct{}{})
}

// UploadHandler accepts a multipart "file" field. Images are recompressed,
// videos stored as-is, anything else is refused.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		s.Error(w, http.StatusServiceUnavailable, "Uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.Error(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		s.Error(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.Error(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	res, err := s.uploads.Save(header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		s.Error(w, http.StatusBadRequest, "Unsupported file type")
	case errors.Is(err, upload.ErrCompression):
		s.Error(w, http.StatusInternalServerError, "Error compressing image")
	case err != nil:
		s.log.Error().Err(err).Msg("save upload")
		s.Error(w, http.StatusInternalServerError, "Error saving file")
	default:
		s.JSON(w, http.StatusOK, res)
	}
}

// TestPageHandler serves an HTML page for exercising the room protocol by hand.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(testPageHTML)); err != nil {
		s.log.Warn().Err(err).Msg("write test page")
	}
}
