// Package devserver is a self-contained simulation of the SmartSales
// notification backend: token login, notification history, read state, push
// subscription registration and the admin websocket. It exists so the client
// and dashboard work can be exercised without the production deployment.
package devserver

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/config"
	"github.com/smartsales365/pulse/internal/event"
)

// Server is the dev notification backend.
type Server struct {
	cfg      config.DevServerConfig
	store    *Store
	hub      *hub
	log      *zap.Logger
	vapidKey string
	upgrader websocket.Upgrader
}

// New creates a server around an open store.
func New(cfg config.DevServerConfig, store *Store, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		hub:      newHub(log),
		log:      log,
		vapidKey: newVapidKey(),
		upgrader: websocket.Upgrader{
			// The dashboard runs on a different origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// newVapidKey fabricates an uncompressed-P256-shaped key. The dev server
// never sends real web pushes, but clients insist on decoding the key.
func newVapidKey() string {
	raw := make([]byte, 65)
	rand.Read(raw)
	raw[0] = 0x04
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/auth/login/", s.handleLogin)
	r.Get("/ws/admin/notifications/", s.handleWebsocket)

	r.Route("/api/notificaciones", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/historial/", s.handleHistory)
		r.Post("/historial/marcar_todas_leidas/", s.handleMarkAllRead)
		r.Patch("/admin/{id}/", s.handleMarkRead)
		r.Get("/vapid-public-key/", s.handleVapidKey)
		r.Post("/subscriptions/", s.handleCreateSubscription)
		r.Delete("/subscriptions/{endpoint}/", s.handleDeleteSubscription)
		r.Post("/emitir/", s.handleEmit)
	})

	return r
}

// Close detaches every websocket client.
func (s *Server) Close() { s.hub.close() }

func (s *Server) allowedOrigins() []string {
	if s.cfg.AllowAll {
		return []string{"*"}
	}
	return []string{"http://localhost:*", "https://localhost:*"}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

// issueToken signs a session JWT for the given user.
func (s *Server) issueToken(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(s.cfg.JWTSecret))
}

// validToken checks a session JWT.
func (s *Server) validToken(raw string) bool {
	if raw == "" {
		return false
	}
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
	return err == nil && tok.Valid
}

// requireToken guards the REST API. The dashboard sends "Token <jwt>"; plain
// Bearer is accepted too.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		raw = strings.TrimPrefix(raw, "Token ")
		raw = strings.TrimPrefix(raw, "Bearer ")
		if !s.validToken(raw) {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Username != s.cfg.Username || req.Password != s.cfg.Password {
		writeError(w, http.StatusUnauthorized, "bad credentials")
		return
	}
	tok, err := s.issueToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signing token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("leida") == "false"

	events, err := s.store.List(r.Context(), unreadOnly)
	if err != nil {
		s.serverError(w, err)
		return
	}
	unread, err := s.store.UnreadCount(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": event.EncodeBatch(events),
		"unread_count":  unread,
	})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkAllRead(r.Context()); err != nil {
		s.serverError(w, err)
		return
	}
	s.broadcastUnread(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad notification id")
		return
	}
	found, err := s.store.MarkRead(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no such notification")
		return
	}
	s.broadcastUnread(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVapidKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": s.vapidKey})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint  string `json:"endpoint"`
		P256dh    string `json:"p256dh"`
		Auth      string `json:"auth"`
		UserAgent string `json:"user_agent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "malformed subscription")
		return
	}
	sub := StoredSubscription{
		ID:        uuid.NewString(),
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		UserAgent: req.UserAgent,
	}
	if err := s.store.UpsertSubscription(r.Context(), sub); err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	// chi hands back the raw segment; the client path-escapes the endpoint URL.
	endpoint := chi.URLParam(r, "endpoint")
	if dec, err := url.PathUnescape(endpoint); err == nil {
		endpoint = dec
	}
	found, err := s.store.DeleteSubscription(r.Context(), endpoint)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no such subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEmit creates a notification and pushes it to every connected
// websocket. This is the dev replacement for the order/payment/stock signals
// the production backend emits.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	var wire event.WireEvent
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "malformed notification")
		return
	}
	if wire.Titulo == "" {
		writeError(w, http.StatusBadRequest, "titulo is required")
		return
	}

	e := event.Event{
		Kind:      event.ParseKind(wire.Tipo),
		Title:     wire.Titulo,
		Body:      wire.Mensaje,
		ActionURL: wire.URL,
		CreatedAt: event.ParseCreada(wire.Creada),
	}
	e, err := s.store.Insert(r.Context(), e)
	if err != nil {
		s.serverError(w, err)
		return
	}

	if frame, err := event.MarshalFrame(e); err == nil {
		s.hub.broadcast(frame)
	}
	s.broadcastUnread(r)

	s.log.Info("notification emitted",
		zap.Int64("id", e.ID), zap.String("tipo", e.Kind.WireName()))
	writeJSON(w, http.StatusCreated, event.Wire(e))
}

// handleWebsocket upgrades an admin realtime connection. Auth rides on the
// token query parameter because browsers cannot set headers on websockets.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.validToken(r.URL.Query().Get("token")) {
		writeError(w, http.StatusForbidden, "invalid or missing token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	detach := s.hub.add(conn)
	defer detach()

	// The read loop only exists to notice the peer going away; clients
	// never send frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastUnread(r *http.Request) {
	unread, err := s.store.UnreadCount(r.Context())
	if err != nil {
		s.log.Warn("reading unread count for broadcast", zap.Error(err))
		return
	}
	if frame, err := event.MarshalCountFrame(unread); err == nil {
		s.hub.broadcast(frame)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
