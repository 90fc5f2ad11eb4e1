package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kavascapital/marketfeed/internal/config"
	"github.com/kavascapital/marketfeed/internal/hub"
	"github.com/kavascapital/marketfeed/internal/model"
	"github.com/kavascapital/marketfeed/internal/subs"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Server serves the /ws endpoint.
type Server struct {
	cfg      config.ServerConfig
	registry *subs.Registry
	hub      *hub.Hub
	deltas   hub.DeltaSink
	logger   *slog.Logger

	// Health, when set, is mounted at /healthz.
	Health http.Handler

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a server. Deltas from client requests are forwarded to deltas.
func New(cfg config.ServerConfig, registry *subs.Registry, h *hub.Hub, deltas hub.DeltaSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		hub:      h,
		deltas:   deltas,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving /ws (and /healthz when set).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.Health != nil {
		mux.Handle("/healthz", s.Health)
	}
	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		s.logger.Info("websocket server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP server down, waiting for in-flight handlers.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleWS upgrades the connection and runs the session pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	id := uuid.New()
	sess := &session{
		id:     id,
		server: s,
		conn:   conn,
		sub:    s.hub.Attach(id),
		ctrl:   make(chan clientResponse, 8),
		logger: s.logger.With("client", id),
	}

	sess.logger.Info("client connected", "remote", r.RemoteAddr)

	go sess.writePump()
	go sess.readPump()
}

// session is one connected client.
type session struct {
	id     uuid.UUID
	server *Server
	conn   *websocket.Conn
	sub    *hub.Subscription
	ctrl   chan clientResponse
	logger *slog.Logger
}

// readPump consumes control messages until the connection drops.
func (c *session) readPump() {
	defer func() {
		c.sub.Cancel()
		c.conn.Close()
		c.logger.Info("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		c.respond(c.handleRequest(raw))
	}
}

// writePump serializes all writes: stream events, control acks and pings.
func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped or closed this subscriber.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"))
				return
			}
			if err := c.conn.WriteJSON(streamMessage{Type: string(ev.Type), Data: payload(ev)}); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}

		case resp := <-c.ctrl:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(resp); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest applies one control message to the registry and forwards the
// resulting delta upstream.
func (c *session) handleRequest(raw []byte) clientResponse {
	var req clientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return clientResponse{Status: statusError, Message: "invalid request: " + err.Error()}
	}
	if len(req.Instruments) == 0 {
		return clientResponse{Status: statusError, Message: "no instruments given"}
	}

	switch req.Action {
	case actionSubscribe:
		modes := make(map[model.InstrumentToken]model.Mode, len(req.Instruments))
		for _, inst := range req.Instruments {
			mode := model.ModeQuote
			if inst.Mode != "" {
				var err error
				if mode, err = model.ParseMode(inst.Mode); err != nil {
					return clientResponse{Status: statusError, Message: err.Error()}
				}
			}
			modes[model.InstrumentToken(inst.InstrumentToken)] = mode
		}

		delta, err := c.server.registry.Update(c.id, modes)
		if err != nil {
			return clientResponse{Status: statusError, Message: err.Error()}
		}
		if err := c.server.deltas.ApplyDelta(delta); err != nil {
			c.logger.Warn("delta forward failed", "error", err)
		}
		return clientResponse{
			Status:  statusSuccess,
			Message: fmt.Sprintf("subscribed %d instruments", len(modes)),
		}

	case actionUnsubscribe:
		tokens := make([]model.InstrumentToken, 0, len(req.Instruments))
		for _, inst := range req.Instruments {
			tokens = append(tokens, model.InstrumentToken(inst.InstrumentToken))
		}

		delta, err := c.server.registry.Remove(c.id, tokens)
		if err != nil {
			return clientResponse{Status: statusError, Message: err.Error()}
		}
		if err := c.server.deltas.ApplyDelta(delta); err != nil {
			c.logger.Warn("delta forward failed", "error", err)
		}
		return clientResponse{
			Status:  statusSuccess,
			Message: fmt.Sprintf("unsubscribed %d instruments", len(tokens)),
		}

	default:
		return clientResponse{Status: statusError, Message: "unknown action: " + req.Action}
	}
}

// respond queues an ack for the write pump. Every control message gets an
// explicit response; a session whose queue stays full past the write deadline
// is beyond saving and is closed.
func (c *session) respond(resp clientResponse) {
	timer := time.NewTimer(writeWait)
	defer timer.Stop()

	select {
	case c.ctrl <- resp:
	case <-timer.C:
		c.logger.Warn("control queue stalled, closing session")
		c.conn.Close()
	}
}

func payload(ev model.Event) any {
	switch ev.Type {
	case model.EventTick:
		return ev.Tick
	case model.EventDepth:
		return ev.Depth
	case model.EventCandle:
		return ev.Candle
	}
	return nil
}
