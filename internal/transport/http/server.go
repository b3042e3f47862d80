package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/synergy/internal/config"
	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/store"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Registry *core.Registry
	Identity IdentityResolver
	// Topology is optional; nil disables persistence of master mutations.
	Topology store.TopologyStore
	Metrics  *metrics.Metrics
}

// NewServer builds the HTTP server: the client channel on / and /ws, the
// master channel on /master, plus /health and /metrics.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine behind NewServer.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	ws := &WSHandler{
		registry:        deps.Registry,
		ids:             deps.Identity,
		topology:        deps.Topology,
		metrics:         deps.Metrics,
		log:             logger,
		maxMessageBytes: cfg.MaxMessageBytes,
		writeTimeout:    cfg.WriteTimeout,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	client := gin.WrapH(ws.ClientHandler())
	router.GET("/", client)
	router.GET("/ws", client)
	router.GET("/master", gin.WrapH(ws.MasterHandler()))

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
