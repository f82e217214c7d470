package camera

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/greendrake/octocast/frame"
	"github.com/greendrake/octocast/mjpeg"
	"github.com/greendrake/octocast/rtsp"
	"github.com/greendrake/octocast/util"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config is read from the Camera section of the YAML configuration.
type Config struct {
	// YAML fields start
	URL            string        `yaml:"URL"`            // http(s):// MJPEG endpoint or rtsp:// MJPEG stream
	ConnectTimeout time.Duration `yaml:"ConnectTimeout"` // dial + response headers of the live relay
	ProbeTimeout   time.Duration `yaml:"ProbeTimeout"`   // whole status probe
	IdleTimeout    time.Duration `yaml:"IdleTimeout"`    // longest silence tolerated on an open stream, 0 = never
	ChunkSize      int           `yaml:"ChunkSize"`
	MaxBufferBytes int           `yaml:"MaxBufferBytes"` // extractor ceiling before the stream is declared malformed
	FrameQueue     int           `yaml:"FrameQueue"`     // per push consumer, oldest dropped when full
	ChunkQueue     int           `yaml:"ChunkQueue"`     // per pass-through consumer, evicted when full
	ExtractAll     bool          `yaml:"ExtractAll"`     // cut every buffered frame per chunk instead of one
	// YAML fields end
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ProbeTimeout:   5 * time.Second,
		IdleTimeout:    10 * time.Second,
		ChunkSize:      4096,
		MaxBufferBytes: 8 << 20,
		FrameQueue:     4,
		ChunkQueue:     256,
	}
}

func (c Config) IsRTSP() bool {
	return strings.HasPrefix(strings.ToLower(c.URL), "rtsp://")
}

// Relay owns the single upstream session of one camera and attaches downstream
// consumers to it.
//
// The session is opened by the first attach and torn down as soon as the last
// consumer detaches, or when the upstream fails. There are no retries: the next
// attach opens a fresh connection.
type Relay struct {
	cfg         Config
	ctx         context.Context
	cancel      context.CancelFunc
	client      *http.Client
	probeClient *http.Client
	// connectMu serialises session creation; mu guards the session pointer and
	// the consumer registries of the current session.
	connectMu sync.Mutex
	mu        sync.Mutex
	session   *session
	// open is swapped in tests.
	open func(ctx context.Context) (Monitor, error)
}

func NewRelay(ctx context.Context, cfg Config) *Relay {
	ctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		client:      mjpeg.NewClient(cfg.ConnectTimeout),
		probeClient: mjpeg.NewClient(cfg.ProbeTimeout),
	}
	r.open = r.openMonitor
	return r
}

func (r *Relay) Config() Config {
	return r.cfg
}

func (r *Relay) openMonitor(ctx context.Context) (Monitor, error) {
	if r.cfg.IsRTSP() {
		m, err := rtsp.NewMonitor(ctx, r.cfg.URL, r.cfg.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	m, err := mjpeg.NewMonitor(ctx, r.client, r.cfg.URL, r.cfg.IdleTimeout)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AttachPassthrough attaches a consumer of the raw upstream bytes.
func (r *Relay) AttachPassthrough(ctx context.Context) (*Passthrough, error) {
	id := uuid.New().String()
	var sub *Subscription[[]byte]
	s, err := r.attach(ctx, func(s *session) (err error) {
		sub, err = s.raw.Subscribe(id, r.cfg.ChunkQueue, Evict)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"session": s.id, "consumer": id}).Debug("Pass-through consumer attached")
	return &Passthrough{
		ID:       id,
		relay:    r,
		session:  s,
		sub:      sub,
		boundary: s.boundary,
	}, nil
}

// AttachPushConsumer attaches a consumer of extracted frames.
func (r *Relay) AttachPushConsumer(ctx context.Context) (*FrameStream, error) {
	id := uuid.New().String()
	var sub *Subscription[*frame.Frame]
	s, err := r.attach(ctx, func(s *session) (err error) {
		sub, err = s.frames.Subscribe(id, r.cfg.FrameQueue, DropOldest)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"session": s.id, "consumer": id}).Debug("Push consumer attached")
	return &FrameStream{
		ID:      id,
		relay:   r,
		session: s,
		sub:     sub,
	}, nil
}

func (r *Relay) attach(ctx context.Context, subscribe func(*session) error) (*session, error) {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()
	if err := r.ctx.Err(); err != nil {
		return nil, errors.Wrap(util.ErrUpstreamUnavailable, "relay is shut down")
	}
	r.mu.Lock()
	s := r.session
	if s != nil {
		defer r.mu.Unlock()
		return s, subscribe(s)
	}
	r.mu.Unlock()

	s, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.session = s
	err = subscribe(s)
	r.mu.Unlock()
	if err != nil {
		// Cannot happen on a fresh session, but never leave it running unattended.
		r.mu.Lock()
		r.session = nil
		r.mu.Unlock()
		s.stop()
		return nil, err
	}
	go r.run(s)
	return s, nil
}

// connect opens the upstream. The session outlives the caller, but a caller
// that goes away while the camera is still connecting aborts the attempt.
func (r *Relay) connect(ctx context.Context) (*session, error) {
	sctx, cancel := context.WithCancel(r.ctx)
	stop := context.AfterFunc(ctx, cancel)
	m, err := r.open(sctx)
	if !stop() {
		if err == nil {
			m.ShutDown()
		}
		cancel()
		return nil, errors.Wrap(ctx.Err(), "consumer left while connecting")
	}
	if err != nil {
		cancel()
		log.WithField("camera", r.cfg.URL).Warnf("Camera unavailable: %v", err)
		return nil, err
	}
	s := newSession(sctx, cancel, m, r.cfg)
	s.onIdle = func() { r.reap(s) }
	log.WithFields(log.Fields{"session": s.id, "camera": r.cfg.URL, "boundary": s.boundary}).Info("Upstream session opened")
	return s, nil
}

func (r *Relay) run(s *session) {
	err := s.pump()
	r.mu.Lock()
	if r.session == s {
		r.session = nil
	}
	r.mu.Unlock()
	s.finish(err)
	fields := log.Fields{"session": s.id, "frames": s.frameCount.Load(), "bytes": s.byteCount.Load()}
	if d, ok := s.monitor.(interface{ Dropped() uint64 }); ok {
		fields["dropped"] = d.Dropped()
	}
	switch {
	case err == nil:
		log.WithFields(fields).Info("Upstream session closed")
	case errors.Is(err, util.ErrMalformedStream):
		log.WithFields(fields).Errorf("Upstream session failed: %v", err)
	default:
		log.WithFields(fields).Warnf("Upstream session lost: %v", err)
	}
}

// detach runs unsubscribe and ends the session if that was its last consumer.
func (r *Relay) detach(s *session, unsubscribe func() error) {
	r.mu.Lock()
	err := unsubscribe()
	r.mu.Unlock()
	if err != nil {
		// Already gone: the session ended and closed every subscription.
		return
	}
	r.reap(s)
}

// reap stops s if nobody is attached to it any more.
func (r *Relay) reap(s *session) {
	r.mu.Lock()
	idle := s.consumers() == 0
	if idle && r.session == s {
		r.session = nil
	}
	r.mu.Unlock()
	if idle {
		s.stop()
	}
}

// Stats describes the current session, if any.
type Stats struct {
	SessionActive bool   `json:"session_active"`
	SessionID     string `json:"session_id,omitempty"`
	Consumers     int    `json:"consumers"`
	Frames        uint64 `json:"frames"`
	Bytes         uint64 `json:"bytes"`
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return Stats{}
	}
	return Stats{
		SessionActive: true,
		SessionID:     s.id,
		Consumers:     s.consumers(),
		Frames:        s.frameCount.Load(),
		Bytes:         s.byteCount.Load(),
	}
}

// ProbeResult is the outcome of a liveness check against the camera.
type ProbeResult struct {
	Online     bool
	StatusCode int
	Err        error
}

// Probe checks the camera independently of any session, bounded by ProbeTimeout.
func (r *Relay) Probe(ctx context.Context) ProbeResult {
	if r.cfg.IsRTSP() {
		err := rtsp.Probe(ctx, r.cfg.URL, r.cfg.ProbeTimeout)
		return ProbeResult{Online: err == nil, Err: err}
	}
	code, err := mjpeg.Probe(ctx, r.probeClient, r.cfg.URL, r.cfg.ProbeTimeout)
	return ProbeResult{Online: err == nil, StatusCode: code, Err: err}
}

func (r *Relay) IsUpstreamReachable(ctx context.Context) bool {
	return r.Probe(ctx).Online
}

// Close tears down the session and refuses further attaches.
func (r *Relay) Close() {
	r.cancel()
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()
	if s != nil {
		s.stop()
	}
}
