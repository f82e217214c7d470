package webcast

import (
	"context"
	"io"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Registrar adds a group of routes to the server.
type Registrar func(r gin.IRouter)

// Run serves the registered routes on addr until ctx is done.
func Run(ctx context.Context, addr string, registrars ...Registrar) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(addr))
	if err != nil {
		return err
	}
	Setup(router.Engine, registrars...)
	log.WithField("addr", addr).Info("HTTP server listening")
	err = router.RunWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Setup installs the common middleware and every registrar on engine.
func Setup(engine *gin.Engine, registrars ...Registrar) {
	engine.Use(CrossOrigin(), RequestLogger())
	for _, register := range registrars {
		register(engine)
	}
}

// CrossOrigin Access-Control-Allow-Origin any methods
func CrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request once it has been served. Streams are logged
// when they end.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond),
			"client":   c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("Request served")
	}
}
