package mjpeg

import (
	"bytes"
	"mime"
	"strings"
)

const MixedReplace = "multipart/x-mixed-replace"

// ParseBoundary returns the boundary parameter of a multipart Content-Type, or ""
// when there is none. Cameras are sloppy with this header, so a bare
// "boundary=" split is tried when the header does not parse.
func ParseBoundary(contentType string) string {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		return params["boundary"]
	}
	i := strings.Index(contentType, "boundary=")
	if i < 0 {
		return ""
	}
	b := contentType[i+len("boundary="):]
	if j := strings.IndexByte(b, ';'); j >= 0 {
		b = b[:j]
	}
	return strings.Trim(b, "\" ")
}

// ContentType renders the header value for a stream with the given boundary.
func ContentType(boundary string) string {
	return MixedReplace + "; boundary=" + boundary
}

// Delimiter returns the dash-prefixed delimiter that opens every part. Some
// cameras already put the dashes into the boundary parameter; those are kept as is.
func Delimiter(boundary string) []byte {
	if strings.HasPrefix(boundary, "--") {
		return []byte(boundary)
	}
	return []byte("--" + boundary)
}

// IndexBoundary finds the start of the delimiter line carrying boundary in p,
// including any extra dashes in front of it. It returns -1 if absent. The bare
// token is not enough: it may well appear inside image data.
func IndexBoundary(p []byte, boundary string) int {
	i := bytes.Index(p, Delimiter(boundary))
	if i < 0 {
		return -1
	}
	for i > 0 && p[i-1] == '-' {
		i--
	}
	return i
}
