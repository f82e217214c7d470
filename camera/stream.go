package camera

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/greendrake/octocast/frame"
	"github.com/greendrake/octocast/mjpeg"
)

const defaultChunkSize = 4096

// session is one live upstream connection and everything fed from it: the raw
// chunk fan-out, the extractor and the frame fan-out. It lives until the upstream
// ends or its last consumer leaves, and is never reused.
type session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         Config
	monitor     Monitor
	boundary    string
	contentType string
	extractor   *mjpeg.Extractor
	raw         *Broadcaster[[]byte]
	frames      *Broadcaster[*frame.Frame]
	stopped     atomic.Bool
	done        chan struct{}
	onIdle      func()
	byteCount   atomic.Uint64
	frameCount  atomic.Uint64
}

func newSession(ctx context.Context, cancel context.CancelFunc, m Monitor, cfg Config) *session {
	s := &session{
		id:       uuid.New().String(),
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		monitor:  m,
		boundary: m.Boundary(),
		raw:      NewBroadcaster[[]byte](),
		frames:   NewBroadcaster[*frame.Frame](),
		done:     make(chan struct{}),
	}
	s.extractor = mjpeg.NewExtractor(s.boundary, cfg.MaxBufferBytes)
	if ct, ok := m.(interface{ ContentType() string }); ok {
		s.contentType = ct.ContentType()
	}
	if s.contentType == "" {
		s.contentType = mjpeg.ContentType(s.boundary)
	}
	return s
}

// pump reads the upstream until it fails or the session is stopped. A nil
// return means the session was stopped on purpose.
func (s *session) pump() error {
	size := s.cfg.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)
	for {
		n, err := s.monitor.Read(buf)
		if n > 0 {
			// Chunks go out by reference, so every read gets its own slice.
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.byteCount.Add(uint64(n))
			s.raw.Publish(chunk)
			if s.onIdle != nil && s.consumers() == 0 {
				// The last consumer was evicted for lagging.
				s.onIdle()
			}
			if _, werr := s.extractor.Write(chunk); werr != nil {
				return werr
			}
			s.extract()
		}
		if err != nil {
			if s.stopped.Load() || err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// extract emits one frame per chunk, or every complete frame with ExtractAll.
// Frames that pile up past the buffer ceiling are drained either way, so a burst
// of small frames never grows the buffer across chunks.
func (s *session) extract() {
	for {
		f, ok := s.extractor.Next()
		if !ok {
			return
		}
		s.frameCount.Add(1)
		s.frames.Publish(f)
		if !s.cfg.ExtractAll && !s.extractor.Full() {
			return
		}
	}
}

// stop releases the upstream. pump then returns and the consumers are closed by finish.
func (s *session) stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.monitor.ShutDown()
	s.cancel()
}

func (s *session) finish(err error) {
	s.raw.CloseWithError(err)
	s.frames.CloseWithError(err)
	s.stop()
	close(s.done)
}

// Done is closed once the session has fully ended.
func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) consumers() int {
	return s.raw.Len() + s.frames.Len()
}
