// Package adminhttp serves the diagnostics surface (health, Prometheus
// metrics, a JSON status snapshot, and a push websocket feed) used to
// watch a FrontEnd's view of its registered backends or a single
// Backend's own load, grounded on the
// reference circuit-breaker monitor's router/broadcast-loop shape.
package adminhttp

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pydsigner/taskit/internal/middleware"
)

// StatusSource is anything adminhttp can poll for a point-in-time
// status snapshot, implemented by *frontend.FrontEnd and
// *backend.Backend.
type StatusSource interface {
	Status() map[string]BackendStatus
}

// BackendStatus is one registered backend's diagnostic snapshot.
type BackendStatus struct {
	Addr     string `json:"addr"`
	InFlight int    `json:"in_flight"`
	Lifetime int    `json:"lifetime"`
	Breaker  string `json:"breaker_state"`
}

// statusMessage is the envelope pushed to websocket subscribers.
type statusMessage struct {
	Type      string                   `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	Data      map[string]BackendStatus `json:"data"`
}

// Server hosts the diagnostics HTTP surface for one StatusSource.
type Server struct {
	source StatusSource
	logger *zap.Logger

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	broadcast chan statusMessage
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// New builds a Server that reports source's status. The /metrics
// handler is supplied later, to Router.
func New(source StatusSource) *Server {
	return &Server{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan statusMessage, 100),
		stopChan:  make(chan struct{}),
	}
}

// WithLogger attaches a logger that the request-ID/recovery/access-log
// middleware chain writes to. Without one, that chain still runs (so a
// panicking handler is still recovered) but logs nothing.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	s.logger = l
	return s
}

// Router builds the mux.Router serving /healthz, /metrics, /status, and
// /ws/status, wrapped in request-ID tagging, panic recovery, and access
// logging. metricsHandler is wired in by the caller so this package
// doesn't need to know whether it's fronting a frontend.FrontEnd or a
// backend.Backend registry.
func (s *Server) Router(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
	)))
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.Handle("/metrics", metricsHandler).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/ws/status", s.handleWebSocket)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.source.Status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("adminhttp: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
	}()

	s.publishNow()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Start launches the periodic snapshot publisher and the broadcast
// fan-out loop. Call Stop to end both.
func (s *Server) Start(interval time.Duration) {
	go s.publishLoop(interval)
	go s.broadcastLoop()
}

// Stop ends the publisher and broadcast loops and closes all connected
// websocket clients.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.clientsMu.Lock()
		for c := range s.clients {
			c.Close()
		}
		s.clientsMu.Unlock()
	})
}

func (s *Server) publishLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishNow()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Server) publishNow() {
	msg := statusMessage{Type: "status_update", Timestamp: time.Now(), Data: s.source.Status()}
	select {
	case s.broadcast <- msg:
	default:
		// Backpressure: drop this tick, the next ticker fire supersedes it.
	}
}

func (s *Server) broadcastLoop() {
	for {
		select {
		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			for c := range s.clients {
				if err := c.WriteJSON(msg); err != nil {
					c.Close()
					delete(s.clients, c)
				}
			}
			s.clientsMu.RUnlock()
		case <-s.stopChan:
			return
		}
	}
}
