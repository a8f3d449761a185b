package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strix/internal/agent"
	"strix/internal/events"
	"strix/internal/keys"
	"strix/internal/logging"
	"strix/internal/memory"
	"strix/internal/observability"
	"strix/internal/session"
	"strix/internal/tools"
)

// Deps are the application services the API surfaces.
type Deps struct {
	Sessions    *session.Store
	Contexts    *session.ContextStore
	Runner      *agent.Runner
	Broadcaster *events.Broadcaster
	Memories    *memory.Service
	Compressor  *memory.Compressor
	Keys        *keys.Store
	Registry    *tools.Registry
	Index       *tools.Index
	Metrics     *observability.Metrics
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	if deps.Metrics != nil {
		engine.Use(metricsMiddleware(deps.Metrics))
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sessionsHandler := newSessionHandler(deps.Sessions, deps.Contexts, deps.Runner)
	engine.POST("/sessions", sessionsHandler.create)
	engine.GET("/sessions", sessionsHandler.list)
	engine.GET("/sessions/:id", sessionsHandler.get)
	engine.POST("/sessions/:id/pause", sessionsHandler.pause)
	engine.POST("/sessions/:id/resume", sessionsHandler.resume)
	engine.POST("/sessions/:id/continue", sessionsHandler.resumeWithMessage)
	engine.DELETE("/sessions/:id", sessionsHandler.abort)

	memoriesHandler := newMemoryHandler(deps.Memories, deps.Compressor)
	engine.GET("/memories", memoriesHandler.list)
	engine.GET("/memories/count", memoriesHandler.count)
	engine.GET("/memories/search", memoriesHandler.search)
	engine.POST("/memories", memoriesHandler.create)
	engine.DELETE("/memories/:id", memoriesHandler.deleteByID)
	engine.DELETE("/memories", memoriesHandler.deleteBulk)
	engine.POST("/memories/compress/prepare", memoriesHandler.compressPrepare)
	engine.POST("/memories/compress/execute", memoriesHandler.compressExecute)

	keysHandler := newKeyHandler(deps.Keys)
	engine.POST("/keys", keysHandler.create)
	engine.GET("/keys", keysHandler.list)
	engine.PUT("/keys/:id", keysHandler.update)
	engine.POST("/keys/:id/default", keysHandler.setDefault)
	engine.DELETE("/keys/:id", keysHandler.remove)
	engine.POST("/embedding-models", keysHandler.createEmbedding)
	engine.GET("/embedding-models", keysHandler.listEmbeddings)
	engine.POST("/embedding-models/:id/default", keysHandler.setDefaultEmbedding)
	engine.DELETE("/embedding-models/:id", keysHandler.removeEmbedding)

	toolsHandler := newToolHandler(deps.Registry, deps.Index)
	engine.GET("/tools", toolsHandler.list)
	engine.POST("/tools", toolsHandler.register)
	engine.POST("/tools/:id/active", toolsHandler.setActive)
	engine.DELETE("/tools/:id", toolsHandler.remove)

	eventsHandler := newEventHandler(deps.Broadcaster)
	engine.GET("/agent/events", eventsHandler.serveSSE)
	engine.GET("/agent/ws", eventsHandler.serveWS)

	return engine
}

func metricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Server wraps the engine in an http.Server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds a server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     NewRouter(deps),
			ReadTimeout: 30 * time.Second,
		},
		logger: logging.NewComponentLogger("http-server"),
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
