// internal/surface/server.go
package surface

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/config"
	"github.com/xkilldash9x/surveypilot/internal/relay"
)

//go:embed static/index.html
var indexHTML []byte

const (
	writeWait       = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Relay is the part of the relay bus the surface needs.
type Relay interface {
	Subscribe(channels ...schemas.Channel) (<-chan relay.Message, func())
	Publish(ctx context.Context, msg relay.Message) error
}

// client is one connected operator page.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is the local operator surface: a single page plus a WebSocket that
// relays named channels between the page and the engine.
type Server struct {
	cfg      config.SurfaceConfig
	bus      Relay
	logger   *zap.Logger
	router   *chi.Mux
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*client]struct{}
	lastCaptcha []byte

	baseCtx     context.Context
	cancelBase  context.CancelFunc
	stop        chan struct{}
	unsubscribe func()
	fanoutDone  chan struct{}
	closeOnce   sync.Once
}

// NewServer subscribes to every outbound channel right away, so nothing the
// engine posts before the first operator connects is lost. Close releases it.
func NewServer(cfg config.SurfaceConfig, bus Relay, logger *zap.Logger) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		bus:    bus,
		logger: logger.Named("surface"),
		// A nil CheckOrigin rejects cross-site pages: a browser Origin must
		// match the Host the surface was reached on.
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*client]struct{}),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		stop:       make(chan struct{}),
		fanoutDone: make(chan struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/", s.handleIndex)
	router.Get("/ws", s.handleWebSocket)
	router.Get("/healthz", s.handleHealthz)
	s.router = router

	outbound, unsubscribe := bus.Subscribe(schemas.OutboundChannels...)
	s.unsubscribe = unsubscribe
	go s.fanout(outbound)

	return s
}

// Handler returns the HTTP handler of the surface.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts the server down and
// closes every operator connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	defer s.Close()

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Operator surface listening.", zap.String("url", "http://"+s.cfg.ListenAddr+"/"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.Close()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return fmt.Errorf("operator surface failed: %w", err)
	}
}

// Close stops the fan-out, drops the bus subscription and disconnects every
// client. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.unsubscribe()
		<-s.fanoutDone
		s.cancelBase()
		s.closeClients()
	})
}

// ClientCount returns the number of connected operator pages.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.ClientCount())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed.", zap.Error(err))
		return
	}

	c := &client{
		id:      uuid.New().String(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst),
	}
	logger := s.logger.With(zap.String("client_id", c.id))

	s.mu.Lock()
	s.clients[c] = struct{}{}
	captcha := s.lastCaptcha
	s.mu.Unlock()
	logger.Info("Operator connected.", zap.String("remote", r.RemoteAddr))

	// A page that connects late still gets the captcha it has to solve.
	if captcha != nil {
		if err := c.write(captcha); err != nil {
			logger.Warn("Failed to replay captcha.", zap.Error(err))
		}
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
		logger.Info("Operator disconnected.")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Operator connection dropped.", zap.Error(err))
			}
			return
		}
		s.handleFrame(logger, c, data)
	}
}

// handleFrame validates one inbound frame and forwards it to the engine.
func (s *Server) handleFrame(logger *zap.Logger, c *client, data []byte) {
	msg, err := relay.DecodeFrame(data)
	if err != nil {
		logger.Warn("Dropping malformed frame.", zap.Error(err))
		return
	}
	// Payloads are never logged; the login payload carries the password.
	logger = logger.With(zap.String("channel", string(msg.Channel)))

	if !msg.Channel.IsInbound() {
		logger.Warn("Dropping frame on a channel the operator may not send.")
		return
	}
	if !c.limiter.Allow() {
		logger.Warn("Dropping frame, operator is sending too fast.")
		return
	}
	if err := s.bus.Publish(s.baseCtx, msg); err != nil {
		logger.Warn("Failed to forward frame to the engine.", zap.Error(err))
	}
}

// fanout broadcasts engine messages to every connected page.
func (s *Server) fanout(outbound <-chan relay.Message) {
	defer close(s.fanoutDone)
	for {
		select {
		case <-s.stop:
			// Flush what the engine posted last, such as the final login-error.
			for {
				select {
				case msg, ok := <-outbound:
					if !ok {
						return
					}
					s.deliver(msg)
				default:
					return
				}
			}
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			s.deliver(msg)
		}
	}
}

func (s *Server) deliver(msg relay.Message) {
	data, err := relay.Encode(msg)
	if err != nil {
		s.logger.Error("Failed to encode outbound message.", zap.String("channel", string(msg.Channel)), zap.Error(err))
		return
	}
	if msg.Channel == schemas.ChannelCaptcha {
		s.mu.Lock()
		s.lastCaptcha = data
		s.mu.Unlock()
	}
	s.broadcast(msg.Channel, data)
}

func (s *Server) broadcast(ch schemas.Channel, data []byte) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		s.logger.Debug("No operator connected; message kept only if it is a captcha.", zap.String("channel", string(ch)))
		return
	}
	for _, c := range targets {
		if err := c.write(data); err != nil {
			s.logger.Warn("Failed to deliver message to operator.", zap.String("client_id", c.id), zap.Error(err))
			// The read loop notices the broken connection and unregisters it.
			_ = c.conn.Close()
		}
	}
}

func (s *Server) closeClients() {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "surveypilot shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}
