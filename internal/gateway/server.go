// Package gateway is the control surface: a WebSocket endpoint streaming
// broadcast events to observers and accepting control frames, plus HTTP
// endpoints for external injection and health.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/everloop-ai/everloop/internal/agent"
	"github.com/everloop-ai/everloop/internal/bus"
	"github.com/everloop-ai/everloop/pkg/protocol"
)

var externalSourceRe = regexp.MustCompile(`^external:[^\s]+$`)

// Options configures the server.
type Options struct {
	Port           int
	AllowedOrigins []string
	RateLimitRPM   int
}

// Server ties the coordinator and the bus to the network.
type Server struct {
	opts        Options
	coordinator *agent.Coordinator
	events      bus.EventPublisher
	limiter     *RateLimiter
	upgrader    websocket.Upgrader
	log         *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client

	httpServer *http.Server
}

func NewServer(opts Options, coordinator *agent.Coordinator, events bus.EventPublisher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		opts:        opts,
		coordinator: coordinator,
		events:      events,
		limiter:     NewRateLimiter(opts.RateLimitRPM),
		clients:     make(map[string]*Client),
		log:         log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows everything when no origins are configured; an empty
// Origin header (CLI clients) always passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.opts.AllowedOrigins {
		if a == "*" || a == origin {
			return true
		}
	}
	s.log.Warn("origin rejected", "origin", origin)
	return false
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/inject", s.handleInject)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf(":%d", s.opts.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	client := newClient(id, conn, s.log)

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()

	s.events.Subscribe(id, func(ev protocol.EventFrame) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if !client.Send(data) {
			s.log.Warn("client send queue full, disconnecting", "client", id)
			client.close()
		}
	})

	go client.writePump()
	s.sendSnapshot(r.Context(), client)
	s.log.Info("observer connected", "client", id, "remote", r.RemoteAddr)

	s.readLoop(r.Context(), client)

	s.events.Unsubscribe(id)
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	client.close()
	s.log.Info("observer disconnected", "client", id)
}

// sendSnapshot gives a new observer the current mode/delay so its view
// starts coherent.
func (s *Server) sendSnapshot(ctx context.Context, client *Client) {
	mode, delay := s.coordinator.Snapshot(ctx)
	frame := protocol.EventFrame{
		Type: protocol.EventState,
		Data: protocol.StatePayload{Mode: mode, Delay: delay},
	}
	if data, err := json.Marshal(frame); err == nil {
		client.Send(data)
	}
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warn("malformed control frame", "client", client.id, "error", err)
			continue
		}
		if !s.limiter.Allow() {
			s.log.Warn("control frame rate limited", "client", client.id, "type", frame.Type)
			continue
		}

		switch frame.Type {
		case protocol.FrameUserMessage:
			if frame.Content != "" {
				s.coordinator.UserMessage(frame.Content)
			}
		case protocol.FrameSetMode:
			if err := s.coordinator.SetMode(ctx, frame.Mode); err != nil {
				s.log.Warn("set_mode rejected", "client", client.id, "error", err)
			}
		case protocol.FrameSetDelay:
			if err := s.coordinator.SetDelay(ctx, frame.Delay); err != nil {
				s.log.Warn("set_delay rejected", "client", client.id, "error", err)
			}
		case protocol.FrameStep:
			s.coordinator.Step()
		default:
			s.log.Warn("unknown control frame", "client", client.id, "type", frame.Type)
		}
	}
}

// handleInject accepts external messages from other processes. Source must
// match ^external:[^\s]+$.
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req protocol.InjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !externalSourceRe.MatchString(req.Source) {
		http.Error(w, `source must match ^external:[^\s]+$`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	s.coordinator.Inject(req.Source, req.Content)
	s.log.Info("external message injected", "source", req.Source)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "ok",
		"protocol_version": protocol.ProtocolVersion,
	})
}
