// Package overlay serves the render projection to browser overlays: the
// overlay page, a snapshot endpoint, a websocket feed, health and metrics.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/session"
)

// Session is what the server needs from the event loop.
type Session interface {
	Snapshot(ctx context.Context) (session.Snapshot, error)
	ReportAnimation(ctx context.Context, id, animation string) error
}

// clientMessage is sent by overlays over the websocket.
type clientMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Animation string `json:"animation"`
}

// Server provides the overlay HTTP endpoints
type Server struct {
	log     *zap.Logger
	server  *http.Server
	hub     *Hub
	session Session
	origins []string
}

// New creates a new overlay server. An origin of "*" allows any origin.
func New(log *zap.Logger, addr string, origins []string, hub *Hub, sess Session) *Server {
	s := &Server{
		log:     log.Named("overlay"),
		hub:     hub,
		session: sess,
		origins: origins,
	}

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(s.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.log.Info("overlay server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and disconnects every overlay.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down overlay server")
	err := s.server.Shutdown(ctx)
	s.hub.Close()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshotFrame(snap)); err != nil {
		s.log.Warn("encode snapshot", zap.Error(err))
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	c := &Conn{ID: uuid.NewString(), WS: ws, Out: make(chan []byte, outQueue)}
	log := s.log.With(zap.String("conn", c.ID))

	if !s.hub.Add(c) {
		// nothing published yet, ask the loop directly
		if snap, err := s.session.Snapshot(r.Context()); err == nil {
			if b, err := json.Marshal(snapshotFrame(snap)); err == nil {
				s.hub.Send(c.ID, b)
			}
		}
	}
	log.Info("overlay connected", zap.Int("clients", s.hub.Len()))

	go writeLoop(c, nil)

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type != "animationend" {
			continue
		}
		if err := s.session.ReportAnimation(ctx, msg.ID, msg.Animation); err != nil {
			log.Debug("animation report rejected",
				zap.String("id", msg.ID), zap.String("animation", msg.Animation), zap.Error(err))
		}
	}

	s.hub.Del(c.ID)
	log.Info("overlay disconnected", zap.Int("clients", s.hub.Len()))
}
