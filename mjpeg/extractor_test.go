package mjpeg

import (
	"bytes"
	"testing"

	"github.com/greendrake/octocast/util"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tinyJPEG = []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}

func part(boundary string, jpeg []byte) []byte {
	var b bytes.Buffer
	b.WriteString("--" + boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	b.Write(jpeg)
	b.WriteString("\r\n")
	return b.Bytes()
}

func TestNextEmitsCompleteSpan(t *testing.T) {
	e := NewExtractor("frame", 0)
	input := append(part("frame", tinyJPEG), []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")...)
	_, err := e.Write(input)
	require.NoError(t, err)

	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, tinyJPEG, f.Data)
	assert.Equal(t, uint64(1), f.Seq)
	assert.Equal(t, []byte("\r\n--frame\r\nContent-Type: image/jpeg\r\n\r\n"), e.Buffered())

	_, ok = e.Next()
	assert.False(t, ok)
}

func TestNextWithoutBoundary(t *testing.T) {
	e := NewExtractor("", 0)
	e.Write([]byte{0x01, 0x02})
	e.Write(tinyJPEG)
	e.Write([]byte{0x03})

	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, tinyJPEG, f.Data)
	assert.Equal(t, []byte{0x03}, e.Buffered())
}

func TestStartWithoutEndRetainsEverything(t *testing.T) {
	e := NewExtractor("frame", 0)
	input := []byte("--frame\r\n\r\n\xFF\xD8\x10\x20\x30")
	e.Write(input)

	_, ok := e.Next()
	assert.False(t, ok)
	assert.Equal(t, input, e.Buffered())

	e.Write([]byte{0x40, 0xFF, 0xD9})
	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x10, 0x20, 0x30, 0x40, 0xFF, 0xD9}, f.Data)
	assert.Zero(t, e.Len())
}

func TestMarkersSplitAcrossChunks(t *testing.T) {
	e := NewExtractor("frame", 0)
	for _, b := range part("frame", tinyJPEG) {
		e.Write([]byte{b})
	}
	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, tinyJPEG, f.Data)
}

func TestDanglingEndMarkerEmitsNothing(t *testing.T) {
	e := NewExtractor("frame", 0)
	e.Write([]byte{0x00, 0xFF, 0xD9, 0x11})

	_, ok := e.Next()
	assert.False(t, ok)
	assert.Equal(t, 4, e.Len())

	// A later good frame is still found, and the stray marker goes with the prefix.
	e.Write(tinyJPEG)
	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, tinyJPEG, f.Data)
	assert.Zero(t, e.Len())
}

func TestSameFrameTwiceYieldsTwoFrames(t *testing.T) {
	e := NewExtractor("frame", 0)
	e.Write(part("frame", tinyJPEG))
	first, ok := e.Next()
	require.True(t, ok)

	e.Write(part("frame", tinyJPEG))
	second, ok := e.Next()
	require.True(t, ok)

	assert.Equal(t, tinyJPEG, first.Data)
	assert.Equal(t, tinyJPEG, second.Data)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestOneFramePerPass(t *testing.T) {
	e := NewExtractor("frame", 0)
	burst := append(part("frame", tinyJPEG), part("frame", tinyJPEG)...)
	e.Write(burst)

	_, ok := e.Next()
	require.True(t, ok)
	assert.NotZero(t, e.Len(), "second frame must stay buffered")

	_, ok = e.Next()
	require.True(t, ok)
	_, ok = e.Next()
	assert.False(t, ok)
}

func TestTruncatedPartIsResynced(t *testing.T) {
	e := NewExtractor("frame", 0)
	broken := []byte("--frame\r\n\r\n\xFF\xD8\x01\x02\r\n")
	e.Write(broken)
	e.Write(part("frame", tinyJPEG))

	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, tinyJPEG, f.Data, "truncated image must not fuse with the next one")
}

func TestBufferCeiling(t *testing.T) {
	e := NewExtractor("frame", 16)
	_, err := e.Write(bytes.Repeat([]byte{0x00}, 10))
	require.NoError(t, err)
	_, err = e.Write(bytes.Repeat([]byte{0x00}, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrMalformedStream))
}

func TestBoundaryTextInsideImage(t *testing.T) {
	// A COM segment carrying the boundary token, and even its delimiter, mid-line.
	img := []byte{0xFF, 0xD8, 0xFF, 0xFE, 0x00, 0x12}
	img = append(img, []byte("my frame; --frame")...)
	img = append(img, 0x11, 0xFF, 0xD9)

	e := NewExtractor("frame", 0)
	e.Write(part("frame", img))
	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, img, f.Data)

	e.Write(part("frame", img))
	f, ok = e.Next()
	require.True(t, ok)
	assert.Equal(t, img, f.Data)
}

func TestBurstPastCeilingIsNotMalformed(t *testing.T) {
	img := append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x42}, 1000)...)
	img = append(img, 0xFF, 0xD9)
	chunk := append(part("frame", img), part("frame", img)...)

	e := NewExtractor("frame", 1<<13)
	frames := 0
	for i := 0; i < 100; i++ {
		_, err := e.Write(chunk)
		require.NoError(t, err, "chunk %d", i)
		// One frame per chunk, plus whatever it takes to get back under the ceiling.
		for {
			f, ok := e.Next()
			if !ok {
				break
			}
			frames++
			assert.Equal(t, img, f.Data)
			if !e.Full() {
				break
			}
		}
		assert.LessOrEqual(t, e.Len(), 1<<13)
	}
	assert.Greater(t, frames, 100)
}

func TestCeilingOverCompleteFramesIsNotAnError(t *testing.T) {
	e := NewExtractor("frame", 16)
	_, err := e.Write(append(part("frame", tinyJPEG), part("frame", tinyJPEG)...))
	require.NoError(t, err)
	assert.True(t, e.Full())
	_, ok := e.Next()
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	e := NewExtractor("frame", 0)
	e.Write([]byte("--frame\r\n\r\n\xFF\xD8\x01"))
	e.Reset()
	assert.Zero(t, e.Len())

	e.Write(part("frame", tinyJPEG))
	f, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, tinyJPEG, f.Data)
}
