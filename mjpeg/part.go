package mjpeg

import (
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
)

// PartWriter renders JPEG images as parts of a multipart/x-mixed-replace body.
type PartWriter struct {
	mw *multipart.Writer
}

func NewPartWriter(w io.Writer, boundary string) (*PartWriter, error) {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, err
	}
	return &PartWriter{mw: mw}, nil
}

func (p *PartWriter) Boundary() string {
	return p.mw.Boundary()
}

func (p *PartWriter) WriteFrame(data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w, err := p.mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
