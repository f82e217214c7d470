package mjpeg

import (
	"bytes"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/jpeg"
	"github.com/greendrake/octocast/frame"
	"github.com/greendrake/octocast/util"
	"github.com/pkg/errors"
)

var (
	startOfImage = []byte{0xFF, jpeg.MarkerStartOfImage}
	endOfImage   = []byte{0xFF, jpeg.MarkerEndOfImage}
)

// Extractor cuts complete JPEG images out of an MJPEG byte stream that is fed to
// it chunk by chunk. It is owned by a single reader and is not safe for concurrent use.
//
// Each call to Next performs one pass over the buffered bytes and emits at most one
// frame, even when more than one complete frame is buffered. Under bursty delivery
// this caps the frame rate at one frame per received chunk; callers that want every
// buffered frame call Next until it reports false.
//
// Every pass scans the buffer from its head. A frame that arrives very slowly is
// therefore rescanned once per chunk, which is quadratic in the frame size.
type Extractor struct {
	buf       []byte
	delimiter []byte
	maxBuffer int
	seq       uint64
}

// NewExtractor returns an extractor for one upstream connection. boundary is the
// multipart boundary token of that connection and may be empty. maxBuffer caps
// the bytes held while waiting for a complete frame; zero means no cap.
func NewExtractor(boundary string, maxBuffer int) *Extractor {
	e := &Extractor{maxBuffer: maxBuffer}
	if boundary != "" {
		e.delimiter = Delimiter(boundary)
	}
	return e
}

// Write appends p to the buffer. It fails with util.ErrMalformedStream once the
// buffer is past its ceiling and still holds no complete image. A buffer that is
// over the ceiling only because complete images are waiting is not an error; the
// caller is expected to drain it while Full reports true.
func (e *Extractor) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	if e.Full() && !e.complete() {
		return len(p), errors.Wrapf(util.ErrMalformedStream, "no complete JPEG within %d buffered bytes", e.maxBuffer)
	}
	return len(p), nil
}

// Full reports whether the buffer holds more than its ceiling.
func (e *Extractor) Full() bool {
	return e.maxBuffer > 0 && len(e.buf) > e.maxBuffer
}

func (e *Extractor) complete() bool {
	start := bytes.Index(e.buf, startOfImage)
	if start < 0 {
		return false
	}
	return bytes.Contains(e.buf[start+len(startOfImage):], endOfImage)
}

// Next cuts the first complete SOI..EOI span out of the buffer. Bytes up to the
// end of the span are discarded. Nothing is emitted while the span is incomplete.
func (e *Extractor) Next() (*frame.Frame, bool) {
	for {
		start := bytes.Index(e.buf, startOfImage)
		if start < 0 {
			return nil, false
		}
		// EOI is searched strictly after SOI, so a stray EOI ahead of it is skipped
		// and dropped together with the prefix.
		from := start + len(startOfImage)
		rel := bytes.Index(e.buf[from:], endOfImage)
		limit := len(e.buf)
		if rel >= 0 {
			limit = from + rel
		}
		if e.resync(from, limit) {
			continue
		}
		if rel < 0 {
			return nil, false
		}
		end := from + rel + len(endOfImage)
		data := make([]byte, end-start)
		copy(data, e.buf[start:end])
		e.discard(end)
		e.seq++
		return &frame.Frame{Seq: e.seq, Time: time.Now(), Data: data}, true
	}
}

// resync drops a part that ended without an EOI. If a delimiter line shows up in
// buf[from:limit], between an SOI and the next EOI, the image was truncated
// upstream and everything before the delimiter is garbage. Only a delimiter at
// the start of a line counts, so comment or EXIF text inside a JPEG never does.
func (e *Extractor) resync(from, limit int) bool {
	if e.delimiter == nil {
		return false
	}
	for off := from; off < limit; {
		i := bytes.Index(e.buf[off:limit], e.delimiter)
		if i < 0 {
			return false
		}
		at := off + i
		if e.buf[at-1] == '\n' {
			e.discard(at)
			return true
		}
		off = at + 1
	}
	return false
}

func (e *Extractor) discard(n int) {
	rest := copy(e.buf, e.buf[n:])
	e.buf = e.buf[:rest]
}

// Len returns the number of buffered bytes.
func (e *Extractor) Len() int {
	return len(e.buf)
}

// Buffered returns a copy of the buffered bytes.
func (e *Extractor) Buffered() []byte {
	return append([]byte(nil), e.buf...)
}

// Reset drops everything buffered. The frame sequence keeps counting.
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
}
