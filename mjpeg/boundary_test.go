package mjpeg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBoundary(t *testing.T) {
	cases := map[string]string{
		"multipart/x-mixed-replace; boundary=frame":                 "frame",
		"multipart/x-mixed-replace;boundary=boundarydonotcross":     "boundarydonotcross",
		`multipart/x-mixed-replace; boundary="quoted"`:              "quoted",
		"multipart/x-mixed-replace; boundary=--myboundary; foo=bar": "--myboundary",
		"multipart/x-mixed-replace;boundary=a b":                    "a b",
		"image/jpeg":                                                "",
		"":                                                          "",
	}
	for ct, want := range cases {
		assert.Equal(t, want, ParseBoundary(ct), ct)
	}
}

func TestIndexBoundary(t *testing.T) {
	assert.Equal(t, 3, IndexBoundary([]byte("abc--frame\r\n"), "frame"))
	assert.Equal(t, 0, IndexBoundary([]byte("----myboundary\r\n"), "--myboundary"))
	assert.Equal(t, 9, IndexBoundary([]byte("my frame --frame\r\n"), "frame"))
	assert.Equal(t, -1, IndexBoundary([]byte("\xFF\xFEmy frame"), "frame"))
	assert.Equal(t, -1, IndexBoundary([]byte("abc"), "frame"))
}

func TestPartWriterRoundTrip(t *testing.T) {
	var b bytes.Buffer
	pw, err := NewPartWriter(&b, "frame")
	require.NoError(t, err)
	require.NoError(t, pw.WriteFrame(tinyJPEG))
	require.NoError(t, pw.WriteFrame(tinyJPEG))

	assert.True(t, bytes.HasPrefix(b.Bytes(), []byte("--frame\r\n")))
	assert.Equal(t, 2, bytes.Count(b.Bytes(), []byte("Content-Type: image/jpeg")))

	e := NewExtractor(pw.Boundary(), 0)
	e.Write(b.Bytes())
	for i := 0; i < 2; i++ {
		f, ok := e.Next()
		require.True(t, ok)
		assert.Equal(t, tinyJPEG, f.Data)
	}
}
