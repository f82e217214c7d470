package mjpeg

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/greendrake/octocast/util"
	"github.com/pkg/errors"
)

// NewClient returns an HTTP client for camera streams. Connecting and waiting for
// response headers are bounded by connectTimeout; the body itself is unbounded
// and watched by the monitor's idle timer instead.
func NewClient(connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: connectTimeout,
			MaxIdleConns:          4,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}

// Monitor is one open HTTP connection to a camera's MJPEG endpoint.
type Monitor struct {
	body        io.ReadCloser
	boundary    string
	contentType string
	cancel      context.CancelFunc
	idle        time.Duration
	watchdog    *time.Timer
	mu          sync.Mutex
	stalled     bool
	shutDown    bool
}

func NewMonitor(ctx context.Context, client *http.Client, address string, idle time.Duration) (*Monitor, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(util.ErrUpstreamUnavailable, "bad camera URL %q: %v", address, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(util.ErrUpstreamUnavailable, "connect to camera: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		cancel()
		return nil, errors.Wrapf(util.ErrUpstreamUnavailable, "camera returned status %d", resp.StatusCode)
	}
	m := &Monitor{
		body:        resp.Body,
		contentType: resp.Header.Get("Content-Type"),
		cancel:      cancel,
		idle:        idle,
	}
	m.boundary = ParseBoundary(m.contentType)
	if idle > 0 {
		m.watchdog = time.AfterFunc(idle, m.stall)
	}
	return m, nil
}

func (m *Monitor) stall() {
	m.mu.Lock()
	m.stalled = true
	m.mu.Unlock()
	m.cancel()
}

func (m *Monitor) Boundary() string {
	return m.boundary
}

func (m *Monitor) ContentType() string {
	return m.contentType
}

func (m *Monitor) Read(p []byte) (int, error) {
	n, err := m.body.Read(p)
	if n > 0 && m.watchdog != nil {
		m.watchdog.Reset(m.idle)
	}
	if err == nil {
		return n, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.shutDown:
		return n, io.EOF
	case m.stalled:
		return n, errors.Wrapf(util.ErrUpstreamUnavailable, "no data from camera for %v", m.idle)
	case err == io.EOF:
		return n, errors.Wrap(util.ErrUpstreamUnavailable, "camera closed the stream")
	default:
		return n, errors.Wrapf(util.ErrUpstreamUnavailable, "read from camera: %v", err)
	}
}

func (m *Monitor) ShutDown() {
	m.mu.Lock()
	if m.shutDown {
		m.mu.Unlock()
		return
	}
	m.shutDown = true
	m.mu.Unlock()
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	m.cancel()
	m.body.Close()
}

// Probe issues a GET bounded by timeout and reports the status code. The body is
// never read; the connection is released whatever the outcome.
func Probe(ctx context.Context, client *http.Client, address string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return 0, errors.New("connection timed out")
		}
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, errors.Errorf("camera returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
