package transport

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tabminal/tabminal/internal/registry"
	"github.com/tabminal/tabminal/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Options configures the transport surface.
type Options struct {
	Registry        *registry.Registry
	Logger          *zap.Logger
	ClientQueueSize int
	PingInterval    time.Duration
}

// Server binds a Registry to an HTTP+WebSocket surface via gin.
type Server struct {
	registry        *registry.Registry
	logger          *zap.Logger
	clientQueueSize int
	pingInterval    time.Duration
	startedAt       time.Time
}

// New constructs a gin.Engine wired to opts.Registry. The caller owns
// starting the HTTP server (http.Server{Handler: engine}).
func New(opts Options) *gin.Engine {
	if opts.ClientQueueSize <= 0 {
		opts.ClientQueueSize = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := &Server{
		registry:        opts.Registry,
		logger:          logger,
		clientQueueSize: opts.ClientQueueSize,
		pingInterval:    opts.PingInterval,
		startedAt:       time.Now(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(defaultCORS())

	api := engine.Group("/api")
	api.GET("/heartbeat", srv.handleHeartbeat)
	api.GET("/sessions", srv.handleListSessions)
	api.POST("/sessions", perIPRateLimit(rate.Limit(2), 5), srv.handleCreateSession)
	api.DELETE("/sessions/:id", srv.handleDeleteSession)
	api.GET("/sessions/:id/executions", srv.handleListExecutions)
	api.POST("/sessions/:id/resize", srv.handleResizeSession)

	engine.GET("/ws/:id", srv.handleWebSocket)

	return engine
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, heartbeat{
		Sessions: s.registry.List(),
		System: systemInfo{
			UptimeSeconds: time.Since(s.startedAt).Seconds(),
			Goroutines:    runtime.NumGoroutine(),
		},
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) handleCreateSession(c *gin.Context) {
	sess, err := s.registry.Create()
	if err != nil {
		s.logger.Warn("transport: create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess.Summary())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if sess, ok := s.registry.Get(id); ok {
		sess.Terminate()
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListExecutions(c *gin.Context) {
	id := c.Param("id")
	executions, ok := s.registry.Executions(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}
	c.JSON(http.StatusOK, executions)
}

// handleResizeSession is a validated global resize (§4.8): it mirrors the
// WS "resize" message for non-WS callers, so it goes through
// Registry.ResizeAll rather than touching only the named session — every
// session shares one viewport, and ResizeAll is the only path allowed to
// change that geometry (§4.5, §9 "Global geometry coupling").
func (s *Server) handleResizeSession(c *gin.Context) {
	id := c.Param("id")
	_, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}

	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed resize request"})
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 || req.Cols > 500 || req.Rows > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resize dimensions"})
		return
	}

	s.registry.ResizeAll(req.Cols, req.Rows)
	c.JSON(http.StatusOK, s.registry.List())
}

// handleWebSocket upgrades the connection and attaches it to the session
// named by :id, running the greeting + forwarding loop of §4.4/§5 plus
// transport-owned ping/pong liveness.
func (s *Server) handleWebSocket(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("transport: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	client := session.NewClientHandle(sink, s.clientQueueSize)
	sess.Attach(client)
	defer sess.Detach(client)

	conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
		return nil
	})

	stopPing := make(chan struct{})
	go s.pingLoop(sink, client, stopPing)
	defer close(stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleClientMessage(client, raw)

		select {
		case <-client.Done():
			return
		default:
		}
	}
}

// pingLoop periodically writes WebSocket-level ping control frames so the
// transport layer can detect dead connections independent of application
// traffic, per §5's "transport layer SHOULD periodically ping" contract.
func (s *Server) pingLoop(sink *wsSink, client *session.ClientHandle, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sink.ping(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
		case <-stop:
			return
		case <-client.Done():
			return
		}
	}
}
