// Package httpapi exposes FileFlow over JSON/HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fileflow/internal/app"
	"fileflow/internal/config"
	"fileflow/internal/fileflow"
)

const shutdownTimeout = 10 * time.Second

// NewRouter builds the HTTP handler for a.
func NewRouter(cfg config.ServerConfig, a *app.FileFlowApp) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(RequestLogger(a.Logger()))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", passphraseHeader},
		ExposeHeaders: []string{"Content-Disposition", versionHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	h := &handler{app: a}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", h.register)
	v1.POST("/auth/login", h.login)

	authed := v1.Group("")
	authed.Use(Auth(a))
	{
		authed.GET("/me", h.me)

		authed.GET("/files", h.listFiles)
		authed.GET("/files/search", h.searchFiles)
		authed.POST("/files", h.uploadFile)
		authed.POST("/files/bulk-delete", h.bulkDelete)
		authed.GET("/files/:id", h.getFile)
		authed.DELETE("/files/:id", h.deleteFile)
		authed.POST("/files/:id/favorite", h.toggleFavorite)
		authed.PUT("/files/:id/tags", h.setTags)
		authed.POST("/files/:id/share", h.share)
		authed.DELETE("/files/:id/share/:userId", h.unshare)
		authed.GET("/files/:id/versions", h.listVersions)
		authed.POST("/files/:id/versions", h.addVersion)
		authed.GET("/files/:id/content", h.content)
	}
	return r
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger fileflow.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
