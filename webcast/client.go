package webcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greendrake/octocast/camera"
	"github.com/greendrake/octocast/frame"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// Client pushes frames to one browser over a WebSocket, one binary message per
// frame, no faster than the configured interval. It owns a push consumer of the
// relay for as long as the socket is open.
type Client struct {
	ID           string
	ws           *websocket.Conn
	frames       *camera.FrameStream
	interval     time.Duration
	writeTimeout time.Duration
	gone         chan struct{}
	goneOnce     sync.Once
	sent         uint64
}

func (c *Caster) push(ctx *gin.Context) {
	// Attach before upgrading so an unavailable camera is still a plain 503.
	fs, err := c.relay.AttachPushConsumer(ctx.Request.Context())
	if err != nil {
		unavailable(ctx, err)
		return
	}
	defer fs.Close()
	server := websocket.Server{
		// Browsers on other origins are welcome, as with CrossOrigin.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			client := &Client{
				ID:           fs.ID,
				ws:           ws,
				frames:       fs,
				interval:     c.cfg.PushInterval,
				writeTimeout: c.cfg.WriteTimeout,
				gone:         make(chan struct{}),
			}
			client.Run(ctx.Request.Context())
		},
	}
	server.ServeHTTP(ctx.Writer, ctx.Request)
}

// Run delivers frames until the socket or the relay goes away.
func (c *Client) Run(ctx context.Context) {
	defer c.ws.Close()
	// This is needed to detect WS disconnection by the browser.
	go func() {
		var message []byte
		for {
			if err := websocket.Message.Receive(c.ws, &message); err != nil {
				c.leave()
				return
			}
		}
	}()
	err := c.deliver(ctx)
	c.frames.Close()
	log.WithFields(log.Fields{"consumer": c.ID, "sent": c.sent, "dropped": c.frames.Dropped()}).Debugf("WebSocket client finished: %v", err)
}

func (c *Client) leave() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *Client) deliver(ctx context.Context) error {
	var tick <-chan time.Time
	if c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		f, err := c.newest(ctx)
		if err != nil {
			return err
		}
		if err := c.send(f); err != nil {
			return err
		}
		if tick == nil {
			continue
		}
		select {
		case <-tick:
		case <-c.gone:
			return errors.New("client closed the socket")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// newest waits for a frame and skips to the latest one already queued.
func (c *Client) newest(ctx context.Context) (*frame.Frame, error) {
	var f *frame.Frame
	select {
	case next, ok := <-c.frames.Frames():
		if !ok {
			return nil, errors.Errorf("relay ended the stream: %v", c.frames.Err())
		}
		f = next
	case <-c.gone:
		return nil, errors.New("client closed the socket")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		select {
		case next, ok := <-c.frames.Frames():
			if !ok {
				return f, nil
			}
			f = next
		default:
			return f, nil
		}
	}
}

func (c *Client) send(f *frame.Frame) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if err := websocket.Message.Send(c.ws, f.Data); err != nil {
		return errors.Wrap(err, "send frame")
	}
	c.sent++
	return nil
}
