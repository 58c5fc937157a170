package http

import (
	"net"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/freebox-portal/freebox-server/internal/config"
	"github.com/freebox-portal/freebox-server/internal/core"
	"github.com/freebox-portal/freebox-server/internal/store"
)

// NewServer builds the HTTP server: REST API, WebSocket channel, captive
// portal probes and the static frontend.
func NewServer(hub *core.Hub, stats *core.StatsAggregator, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware(logger))
	engine.Use(VisitorMiddleware(st, logger))

	api := NewAPIHandlers(st, hub, stats, cfg.HistoryLimit, logger)
	files := NewFileHandlers(st, hub, cfg.StorageDir, logger)

	engine.GET("/api/status", api.Status)
	engine.GET("/api/stats", api.Stats)
	engine.GET("/api/files", files.List)
	engine.POST("/api/upload", files.Upload)
	engine.GET("/api/download/:id", files.DownloadByID)
	engine.GET("/api/download/filename/*name", files.DownloadByName)
	engine.DELETE("/api/files/:id", files.Delete)
	engine.GET("/api/chat/messages", api.Messages)
	engine.POST("/api/chat/messages", api.PostMessage)
	engine.GET("/api/chat/rooms", api.Rooms)

	engine.GET("/ws", gin.WrapH(NewWSHandler(hub, logger)))

	RegisterCaptiveRoutes(engine, cfg.PortalURL)

	index := filepath.Join(cfg.StaticDir, "index.html")
	engine.GET("/", func(c *gin.Context) {
		if _, err := os.Stat(index); err != nil {
			c.String(stdhttp.StatusOK, "FreeBox is online")
			return
		}
		c.File(index)
	})

	engine.NoRoute(portalFallback(cfg))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// portalFallback serves the static frontend, and redirects requests for
// foreign hosts back to the portal. With wildcard DNS every domain resolves
// to the box, so any unknown host is a hijacked probe.
func portalFallback(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		host := c.Request.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if len(cfg.PortalHosts) > 0 && !cfg.IsPortalHost(host) {
			c.Redirect(stdhttp.StatusFound, cfg.PortalURL)
			return
		}

		if c.Request.Method == stdhttp.MethodGet && serveStatic(c, cfg.StaticDir) {
			return
		}

		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "not found"})
	}
}

// serveStatic answers with a frontend asset when one matches the request
// path. Returns false when nothing was served.
func serveStatic(c *gin.Context, staticDir string) bool {
	if staticDir == "" {
		return false
	}

	rel := strings.TrimPrefix(filepath.Clean("/"+c.Request.URL.Path), "/")
	if rel == "" {
		rel = "index.html"
	}
	path := filepath.Join(staticDir, rel)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	c.File(path)
	return true
}
