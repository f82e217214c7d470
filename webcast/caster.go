package webcast

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greendrake/octocast/camera"
	log "github.com/sirupsen/logrus"
)

// Config is read from the WebCast section of the YAML configuration.
type Config struct {
	// YAML fields start
	Addr            string        `yaml:"Addr"`
	PushInterval    time.Duration `yaml:"PushInterval"`    // minimum gap between frames sent to a WebSocket client
	WriteTimeout    time.Duration `yaml:"WriteTimeout"`    // a WebSocket client that cannot take a frame this fast is dropped
	SnapshotTimeout time.Duration `yaml:"SnapshotTimeout"` // how long /camera/snapshot waits for a frame
	// YAML fields end
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		PushInterval:    50 * time.Millisecond,
		WriteTimeout:    2 * time.Second,
		SnapshotTimeout: 10 * time.Second,
	}
}

const streamUnavailable = "Camera stream is not available"

// Caster exposes one camera relay over HTTP: status, raw pass-through, snapshot
// and the WebSocket push channel.
type Caster struct {
	relay *camera.Relay
	cfg   Config
}

func NewCaster(relay *camera.Relay, cfg Config) *Caster {
	return &Caster{relay: relay, cfg: cfg}
}

func (c *Caster) Register(r gin.IRouter) {
	r.GET("/camera/status", c.status)
	r.GET("/camera/stream", c.stream)
	r.GET("/camera/snapshot", c.snapshot)
	r.GET("/ws/camera", c.push)
}

// status never fails: an offline camera is reported in the body.
func (c *Caster) status(ctx *gin.Context) {
	res := c.relay.Probe(ctx.Request.Context())
	stats := c.relay.Stats()
	body := gin.H{
		"session_active": stats.SessionActive,
		"consumers":      stats.Consumers,
	}
	if res.Online {
		body["camera_status"] = "online"
		log.Debug("Camera is online")
	} else {
		body["camera_status"] = "offline"
		if res.StatusCode != 0 {
			body["status_code"] = res.StatusCode
			log.Warnf("Camera returned non-2xx status code: %d", res.StatusCode)
		} else if res.Err != nil {
			body["error"] = res.Err.Error()
			log.Warnf("Error connecting to the camera stream: %v", res.Err)
		}
	}
	ctx.JSON(http.StatusOK, body)
}

func unavailable(ctx *gin.Context, err error) {
	if err != nil {
		ctx.Error(err)
	}
	ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": streamUnavailable})
}

// stream copies the upstream bytes unmodified, so any MJPEG-aware client can play it.
func (c *Caster) stream(ctx *gin.Context) {
	pt, err := c.relay.AttachPassthrough(ctx.Request.Context())
	if err != nil {
		unavailable(ctx, err)
		return
	}
	defer pt.Close()
	go func() {
		// Unblocks the pending Read when the client goes away.
		<-ctx.Request.Context().Done()
		pt.Close()
	}()

	ctx.Header("Content-Type", pt.ContentType())
	ctx.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Header("Connection", "close")
	ctx.Status(http.StatusOK)
	buf := make([]byte, 32<<10)
	ctx.Stream(func(w io.Writer) bool {
		n, err := pt.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return false
			}
		}
		return err == nil
	})
	log.WithField("consumer", pt.ID).Debugf("Pass-through ended: %v", pt.Err())
}

// snapshot answers with the next complete frame.
func (c *Caster) snapshot(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()
	fs, err := c.relay.AttachPushConsumer(reqCtx)
	if err != nil {
		unavailable(ctx, err)
		return
	}
	defer fs.Close()

	wait, cancel := context.WithTimeout(reqCtx, c.cfg.SnapshotTimeout)
	defer cancel()
	select {
	case f, ok := <-fs.Frames():
		if !ok {
			unavailable(ctx, fs.Err())
			return
		}
		ctx.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		ctx.Data(http.StatusOK, "image/jpeg", f.Data)
	case <-wait.Done():
		if reqCtx.Err() != nil {
			return
		}
		unavailable(ctx, wait.Err())
	}
}
