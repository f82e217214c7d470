package rtsp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/greendrake/octocast/mjpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushedImagesReadAsMultipart(t *testing.T) {
	m := newMonitor()
	img := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	m.push(img)
	m.push(img)

	e := mjpeg.NewExtractor(m.Boundary(), 0)
	buf := make([]byte, 7)
	for m.out.Len() > 0 {
		n, err := m.Read(buf)
		require.NoError(t, err)
		e.Write(buf[:n])
	}
	for i := 0; i < 2; i++ {
		f, ok := e.Next()
		require.True(t, ok)
		assert.Equal(t, img, f.Data)
	}
}

func TestSlowReaderDropsImages(t *testing.T) {
	m := newMonitor()
	img := append([]byte{0xFF, 0xD8}, make([]byte, 1<<20)...)
	img = append(img, 0xFF, 0xD9)
	// Four images fill the pending buffer, the fifth has to go.
	for i := 0; i < 5; i++ {
		m.push(img)
	}
	assert.Equal(t, uint64(1), m.Dropped())
	assert.LessOrEqual(t, m.out.Len(), maxPending+len(img)+128)
}

func TestReadAfterShutDown(t *testing.T) {
	m := newMonitor()
	done := make(chan error, 1)
	go func() {
		_, err := m.Read(make([]byte, 8))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	m.ShutDown()
	select {
	case err := <-done:
		assert.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after ShutDown")
	}
}

func TestFailSurfacesError(t *testing.T) {
	m := newMonitor()
	m.fail(io.ErrUnexpectedEOF)
	_, err := m.Read(make([]byte, 8))
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	assert.NoError(t, Probe(context.Background(), "rtsp://"+addr+"/cam", time.Second))
	ln.Close()
	assert.Error(t, Probe(context.Background(), "rtsp://"+addr+"/cam", time.Second))
}

func TestConnectGivesUpOnSilentCamera(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		// Accept and never answer.
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	start := time.Now()
	_, err = NewMonitor(context.Background(), "rtsp://"+ln.Addr().String()+"/cam", 200*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
