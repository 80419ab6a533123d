package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/engine"
)

// Constants for WebSocket timeouts and limits.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 1 << 20
	sendChannelSize = 256
)

// WebSocket serves the request/message protocol as JSON frames on
// /ws/v1/interact. Every connected client receives every event.
type WebSocket struct {
	addr        string
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	origins     map[string]struct{}
	allowWaiver bool

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithAllowedOrigins admits browser origins besides loopback ones, for
// example a packaged UI's "app://deskpilot".
func WithAllowedOrigins(origins ...string) WebSocketOption {
	return func(h *WebSocket) {
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				h.origins[strings.ToLower(o)] = struct{}{}
			}
		}
	}
}

// WithConfirmationWaiver lets clients send proceedWithoutConfirmation. It is
// cleared from every task request otherwise.
func WithConfirmationWaiver(allowed bool) WebSocketOption {
	return func(h *WebSocket) { h.allowWaiver = allowed }
}

// wsClient is one connection and its outbound queue.
type wsClient struct {
	hub  *WebSocket
	conn *websocket.Conn
	send chan Message

	mu     sync.Mutex
	closed bool
}

// NewWebSocket creates a transport that listens on addr when served.
func NewWebSocket(addr string, logger *zap.Logger, opts ...WebSocketOption) *WebSocket {
	h := &WebSocket{
		addr:    addr,
		logger:  logger.Named("bridge.ws"),
		origins: make(map[string]struct{}),
		clients: make(map[*wsClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits clients that send no Origin (native hosts), loopback
// pages and configured origins. Any other web page is refused.
func (h *WebSocket) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.origins[strings.ToLower(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host != "" {
		host := u.Hostname()
		if strings.EqualFold(host, "localhost") {
			return true
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return true
		}
	}
	h.logger.Warn("Refusing WebSocket client from foreign origin.", zap.String("origin", origin))
	return false
}

// Emit broadcasts an engine event to every client. A client whose queue is
// full is disconnected, so no client sees a gap in the event stream.
func (h *WebSocket) Emit(e engine.Event) {
	m := NewMessage(e)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(m)
	}
}

// Handler returns the HTTP handler routing the interact and health endpoints.
func (h *WebSocket) Handler(ctx context.Context, ctrl Controller) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/v1/interact", h.handleInteract(ctx, ctrl))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Serve listens until ctx is cancelled, then shuts the server down.
func (h *WebSocket) Serve(ctx context.Context, ctrl Controller) error {
	srv := &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(ctx, ctrl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("WebSocket bridge listening.", zap.String("addr", h.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *WebSocket) handleInteract(ctx context.Context, ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}
		h.logger.Info("WebSocket client connected.", zap.String("remote_addr", r.RemoteAddr))

		c := &wsClient{hub: h, conn: conn, send: make(chan Message, sendChannelSize)}
		h.register(c)

		d := &dispatcher{ctrl: ctrl, reply: c.enqueue, stripWaiver: !h.allowWaiver, logger: h.logger}
		go c.writePump()
		c.readPump(ctx, d)
		h.logger.Debug("WebSocket client disconnected.", zap.String("remote_addr", r.RemoteAddr))
	}
}

func (h *WebSocket) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *WebSocket) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *WebSocket) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// close ends the write pump, which closes the connection.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) enqueue(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- m:
	default:
		c.hub.logger.Error("WebSocket send buffer full, disconnecting client.", zap.String("type", m.Type))
		c.closed = true
		close(c.send)
	}
}

// readPump decodes requests until the connection closes.
func (c *wsClient) readPump(ctx context.Context, d *dispatcher) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		in, err := DecodeInbound(data)
		if err != nil {
			d.fail(err)
			continue
		}
		d.handle(ctx, in)
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := json.Marshal(m)
			if err != nil {
				c.hub.logger.Error("Failed to encode message.", zap.String("type", m.Type), zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				c.hub.logger.Error("Error writing message to WebSocket", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
