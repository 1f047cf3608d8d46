// Package server is the read-only status endpoint the UI layer polls:
// JSON snapshots, a WebSocket stream, and prometheus metrics. It never
// writes to the hardware; control requests go through the agent.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hferrone/chargectl/internal/battery"
	"github.com/hferrone/chargectl/internal/history"
)

// Server polls the battery facade and fans snapshots out to WebSocket
// clients, the metrics registry, and the history recorder.
type Server struct {
	cfg        *Config
	controller *battery.Controller
	recorder   *history.Recorder
	metrics    *metrics

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	lastMu sync.RWMutex
	last   *battery.Status
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Battery *battery.Status `json:"battery,omitempty"`
	Stamp   int64           `json:"stamp"` // Unix ms
}

// New creates a status server over the given facade.
func New(cfg *Config, controller *battery.Controller) *Server {
	return &Server{
		cfg:        cfg,
		controller: controller,
		recorder:   history.New(cfg.History.Path, cfg.History.Enabled),
		metrics:    newMetrics(),
		clients:    make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			// Local loopback service; the UI layer connects from a
			// file:// or app-bundle origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and the poll loop, blocking until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.lastMu.RLock()
	st := s.last
	s.lastMu.RUnlock()
	if st == nil {
		snapshot := s.controller.Status()
		st = &snapshot
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := s.controller.Diagnostics()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", total)

	// Send the latest snapshot immediately so the client does not wait
	// a full poll interval for its first frame.
	s.lastMu.RLock()
	if s.last != nil {
		if data, err := json.Marshal(Frame{Battery: s.last, Stamp: time.Now().UnixMilli()}); err == nil {
			client.send <- data
		}
	}
	s.lastMu.RUnlock()

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive only; clients send nothing)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			remaining := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// pollLoop reads a snapshot at the configured interval and distributes
// it. The facade serializes hardware access internally, so the loop
// simply calls it.
func (s *Server) pollLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Poll.IntervalMs) * time.Millisecond
	if interval < time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.recorder.Close()
			return
		case <-ticker.C:
			snapshot := s.controller.Status()

			s.lastMu.Lock()
			s.last = &snapshot
			s.lastMu.Unlock()

			s.metrics.update(snapshot)
			s.recorder.Record(snapshot)
			s.broadcast(Frame{Battery: &snapshot, Stamp: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
