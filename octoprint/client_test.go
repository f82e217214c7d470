package octoprint

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]any
}

// fakeOctoPrint records requests and answers them with status and body.
func fakeOctoPrint(t *testing.T, status int, body string) (*Client, *[]request) {
	var got []request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{Method: r.Method, Path: r.URL.EscapedPath(), APIKey: r.Header.Get("X-Api-Key")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &req.Body))
		}
		got = append(got, req)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.URL = srv.URL + "/api/"
	cfg.APIKey = "secret"
	cfg.Timeout = time.Second
	return NewClient(cfg), &got
}

func TestPrinterState(t *testing.T) {
	c, got := fakeOctoPrint(t, http.StatusOK, `{
		"state": {"text": "Operational", "flags": {"ready": true}},
		"temperature": {"tool0": {"actual": 214.8, "target": 220.0, "offset": 0}, "bed": {"actual": 59.5, "target": null}}
	}`)

	state, err := c.PrinterState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Operational", state.State)
	assert.Equal(t, 214.8, state.Temperature["tool0"].Actual)
	assert.Equal(t, 220.0, state.Temperature["tool0"].Target)
	assert.Equal(t, 59.5, state.Temperature["bed"].Actual)

	require.Len(t, *got, 1)
	assert.Equal(t, request{Method: "GET", Path: "/api/printer", APIKey: "secret"}, (*got)[0])
}

func TestPrinterStateError(t *testing.T) {
	c, _ := fakeOctoPrint(t, http.StatusConflict, "Printer is not operational")

	_, err := c.PrinterState(context.Background())
	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusConflict, oe.StatusCode)
	assert.Equal(t, "Failed to fetch data from OctoPrint", oe.Detail)
	assert.Equal(t, "Printer is not operational", oe.Body)
}

func TestFiles(t *testing.T) {
	c, _ := fakeOctoPrint(t, http.StatusOK, `{"files": [{"name": "benchy.gcode"}, {"name": "cube.gcode"}], "free": 1}`)

	files, err := c.Files(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"benchy.gcode", "cube.gcode"}, files)
}

func TestFilesMissing(t *testing.T) {
	c, _ := fakeOctoPrint(t, http.StatusOK, `{"free": 1}`)

	_, err := c.Files(context.Background())
	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusNotFound, oe.StatusCode)
	assert.Equal(t, "No files found", oe.Detail)
}

func TestCommandsExpectNoContent(t *testing.T) {
	ctx := context.Background()
	c, got := fakeOctoPrint(t, http.StatusNoContent, "")

	require.NoError(t, c.JobCommand(ctx, JobPause))
	require.NoError(t, c.StartPrint(ctx, "my part.gcode"))
	require.NoError(t, c.SetToolTemperature(ctx, 210))
	require.NoError(t, c.SetBedTemperature(ctx, 60))
	require.NoError(t, c.SendGCode(ctx, "G0 X10.0"))

	assert.Equal(t, []request{
		{Method: "POST", Path: "/api/job", APIKey: "secret", Body: map[string]any{"command": "pause"}},
		{Method: "POST", Path: "/api/files/local/my%20part.gcode", APIKey: "secret", Body: map[string]any{"command": "select", "print": true}},
		{Method: "POST", Path: "/api/printer/tool", APIKey: "secret", Body: map[string]any{"command": "target", "targets": map[string]any{"tool0": 210.0}}},
		{Method: "POST", Path: "/api/printer/bed", APIKey: "secret", Body: map[string]any{"command": "target", "target": 60.0}},
		{Method: "POST", Path: "/api/printer/command", APIKey: "secret", Body: map[string]any{"commands": []any{"G0 X10.0"}}},
	}, *got)
}

func TestCommandRejected(t *testing.T) {
	c, _ := fakeOctoPrint(t, http.StatusOK, "")

	err := c.SetBedTemperature(context.Background(), 60)
	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusOK, oe.StatusCode)
	assert.Equal(t, "Failed to set bed temperature", oe.Detail)
}

func TestTransportError(t *testing.T) {
	c := NewClient(Config{URL: "http://127.0.0.1:1/api", Timeout: time.Second})

	_, err := c.PrinterState(context.Background())
	require.Error(t, err)
	var oe *Error
	assert.False(t, errors.As(err, &oe))
}
