package rtsp

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/greendrake/octocast/mjpeg"
	"github.com/greendrake/octocast/util"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// Boundary used for the multipart stream synthesised from RTP/JPEG.
const Boundary = "frame"

// Bytes of rendered parts held for a reader that is not keeping up. Whole parts
// are dropped beyond this.
const maxPending = 4 << 20

// Monitor pulls an MJPEG track over RTSP and re-frames every decoded image as a
// multipart/x-mixed-replace part, so it reads like an HTTP MJPEG camera.
type Monitor struct {
	client  *gortsplib.Client
	mu      sync.Mutex
	cond    *sync.Cond
	out     bytes.Buffer
	parts   *mjpeg.PartWriter
	err     error
	closed  bool
	dropped uint64
}

func newMonitor() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	m.parts, _ = mjpeg.NewPartWriter(&m.out, Boundary)
	return m
}

// NewMonitor connects to the camera and starts playing its MJPEG track. Every
// RTSP request is bound by timeout, and ending ctx tears the connection down,
// also while it is still being set up.
func NewMonitor(ctx context.Context, address string, timeout time.Duration) (*Monitor, error) {
	c := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		OnPacketLost: func(err error) {
			// ignore
		},
		OnDecodeError: func(err error) {
			// ignore
		},
	}

	u, err := base.ParseURL(address)
	if err != nil {
		return nil, errors.Wrapf(util.ErrUpstreamUnavailable, "bad camera URL %q: %v", address, err)
	}

	err = c.Start(u.Scheme, u.Host)
	if err != nil {
		return nil, errors.Wrapf(util.ErrUpstreamUnavailable, "connect to camera: %v", err)
	}

	m := newMonitor()
	m.client = c
	stop := context.AfterFunc(ctx, m.ShutDown)
	fail := func(err error, what string) (*Monitor, error) {
		stop()
		m.ShutDown()
		return nil, errors.Wrapf(util.ErrUpstreamUnavailable, "%s: %v", what, err)
	}

	desc, _, err := c.Describe(u)
	if err != nil {
		return fail(err, "describe")
	}

	var forma *format.MJPEG
	medi := desc.FindFormat(&forma)
	if medi == nil {
		return fail(errors.New("no MJPEG media"), "describe")
	}

	rtpDec, err := forma.CreateDecoder()
	if err != nil {
		return fail(err, "create decoder")
	}

	_, err = c.Setup(desc.BaseURL, medi, 0, 0)
	if err != nil {
		return fail(err, "setup")
	}

	// called when a RTP packet arrives
	c.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		// fragments are accumulated by the decoder until an image is complete
		img, err := rtpDec.Decode(pkt)
		if err != nil {
			return
		}
		m.push(img)
	})

	_, err = c.Play(nil)
	if err != nil {
		return fail(err, "play")
	}

	go func() {
		err := c.Wait()
		m.fail(errors.Wrapf(util.ErrUpstreamUnavailable, "rtsp session ended: %v", err))
	}()

	return m, nil
}

func (m *Monitor) push(img []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.out.Len() > maxPending {
		m.dropped++
		return
	}
	if err := m.parts.WriteFrame(img); err != nil {
		return
	}
	m.cond.Broadcast()
}

func (m *Monitor) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil && !m.closed {
		m.err = err
	}
	m.cond.Broadcast()
}

// Dropped returns how many images were thrown away because the reader fell behind.
func (m *Monitor) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Monitor) Boundary() string {
	return Boundary
}

func (m *Monitor) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.out.Len() == 0 && m.err == nil && !m.closed {
		m.cond.Wait()
	}
	if m.out.Len() > 0 {
		return m.out.Read(p)
	}
	if m.closed {
		return 0, io.EOF
	}
	return 0, m.err
}

func (m *Monitor) ShutDown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.out.Reset()
	m.cond.Broadcast()
	m.mu.Unlock()
	if m.client != nil {
		m.client.Close()
	}
}

// Probe checks that the RTSP port of address accepts TCP connections.
func Probe(ctx context.Context, address string, timeout time.Duration) error {
	u, err := base.ParseURL(address)
	if err != nil {
		return err
	}
	pu := (*url.URL)(u)
	host := pu.Host
	if pu.Port() == "" {
		host = net.JoinHostPort(pu.Hostname(), "554")
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return err
	}
	defer conn.Close()
	return nil
}
