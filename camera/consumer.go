package camera

import (
	"io"
	"sync"

	"github.com/greendrake/octocast/frame"
	"github.com/greendrake/octocast/mjpeg"
	log "github.com/sirupsen/logrus"
)

// FrameStream delivers extracted frames to one push consumer. Its queue keeps the
// newest frames: a slow reader skips frames rather than holding back the others.
type FrameStream struct {
	ID      string
	relay   *Relay
	session *session
	sub     *Subscription[*frame.Frame]
	once    sync.Once
}

// Frames is closed when the stream ends, see Err.
func (f *FrameStream) Frames() <-chan *frame.Frame {
	return f.sub.C
}

// Err tells why Frames was closed: nil when the upstream was shut down cleanly,
// util.ErrConsumerDisconnected after Close, or the upstream failure.
func (f *FrameStream) Err() error {
	return f.sub.Err()
}

func (f *FrameStream) Dropped() uint64 {
	return f.sub.Dropped()
}

// Done is closed when the upstream session behind this stream has ended.
func (f *FrameStream) Done() <-chan struct{} {
	return f.session.Done()
}

func (f *FrameStream) Close() {
	f.once.Do(func() {
		f.relay.detach(f.session, func() error {
			return f.session.frames.Unsubscribe(f.ID)
		})
		log.WithFields(log.Fields{"session": f.session.id, "consumer": f.ID, "dropped": f.Dropped()}).Debug("Push consumer detached")
	})
}

// Passthrough is an io.ReadCloser over the raw upstream bytes. Output starts at
// the first part boundary seen after attaching, so a consumer joining mid-stream
// never receives the tail of a part it did not see begin.
type Passthrough struct {
	ID       string
	relay    *Relay
	session  *session
	sub      *Subscription[[]byte]
	boundary string
	aligned  bool
	scan     []byte
	pending  []byte
	once     sync.Once
}

func (p *Passthrough) Boundary() string {
	return p.boundary
}

func (p *Passthrough) ContentType() string {
	return p.session.contentType
}

// Read blocks until upstream bytes are available. It returns io.EOF once the
// consumer is closed or the upstream session ends; Err tells which.
func (p *Passthrough) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		chunk, ok := <-p.sub.C
		if !ok {
			return 0, io.EOF
		}
		p.feed(chunk)
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Passthrough) feed(chunk []byte) {
	if p.aligned || p.boundary == "" {
		p.aligned = true
		p.pending = chunk
		return
	}
	p.scan = append(p.scan, chunk...)
	if i := mjpeg.IndexBoundary(p.scan, p.boundary); i >= 0 {
		p.aligned = true
		p.pending = p.scan[i:]
		p.scan = nil
		return
	}
	// Keep enough to match a delimiter split across chunks, dashes included.
	if keep := len(p.boundary) + 2; len(p.scan) > keep {
		p.scan = append(p.scan[:0], p.scan[len(p.scan)-keep:]...)
	}
}

func (p *Passthrough) Err() error {
	return p.sub.Err()
}

func (p *Passthrough) Close() error {
	p.once.Do(func() {
		p.relay.detach(p.session, func() error {
			return p.session.raw.Unsubscribe(p.ID)
		})
		log.WithFields(log.Fields{"session": p.session.id, "consumer": p.ID}).Debug("Pass-through consumer detached")
	})
	return nil
}
