package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/greendrake/octocast/octoprint"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrinter struct {
	state *octoprint.PrinterState
	files []string
	err   error
}

func (p *fakePrinter) PrinterState(ctx context.Context) (*octoprint.PrinterState, error) {
	return p.state, p.err
}

func (p *fakePrinter) Files(ctx context.Context) ([]string, error) {
	return p.files, p.err
}

func TestHandleCommand(t *testing.T) {
	n := New(DefaultConfig(), &fakePrinter{
		state: &octoprint.PrinterState{
			State: "Printing",
			Temperature: map[string]octoprint.Temperature{
				"tool0": {Actual: 214.8, Target: 220},
				"bed":   {Actual: 59.5, Target: 60},
			},
		},
		files: []string{"benchy.gcode", "cube.gcode"},
	})
	ctx := context.Background()

	assert.Equal(t, "Printer Status: Printing\nTemperatures: bed 59.5/60.0, tool0 214.8/220.0", n.HandleCommand(ctx, "  What's the STATUS? "))
	assert.Equal(t, "Available Files: benchy.gcode, cube.gcode", n.HandleCommand(ctx, "Files please"))
	assert.Equal(t, Help, n.HandleCommand(ctx, "hello"))
	assert.Equal(t, Help, n.HandleCommand(ctx, ""))
}

func TestHandleCommandPrinterDown(t *testing.T) {
	n := New(DefaultConfig(), &fakePrinter{err: errors.New("connection refused")})

	assert.Contains(t, n.HandleCommand(context.Background(), "status"), "connection refused")
}

func TestTwiML(t *testing.T) {
	out, err := TwiML("Temps <ok> & fine")
	require.NoError(t, err)
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<Response><Message>Temps &lt;ok&gt; &amp; fine</Message></Response>`, string(out))
}

func fakeTwilio(t *testing.T, status int, body string) (*Notifier, *url.Values) {
	form := &url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		*form, _ = url.ParseQuery(string(data))
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	cfg := Config{
		AccountSID:   "AC123",
		AuthToken:    "token",
		From:         "+15550001111",
		WhatsAppFrom: "+14155238886",
		APIURL:       srv.URL,
		Timeout:      time.Second,
	}
	return New(cfg, &fakePrinter{}), form
}

func TestSendSMS(t *testing.T) {
	n, form := fakeTwilio(t, http.StatusCreated, `{"sid": "SM42", "status": "queued"}`)

	sid, err := n.SendSMS(context.Background(), "+15552223333", "Print finished")
	require.NoError(t, err)
	assert.Equal(t, "SM42", sid)
	assert.Equal(t, "+15552223333", form.Get("To"))
	assert.Equal(t, "+15550001111", form.Get("From"))
	assert.Equal(t, "Print finished", form.Get("Body"))
}

func TestSendWhatsApp(t *testing.T) {
	n, form := fakeTwilio(t, http.StatusCreated, `{"sid": "SM43", "status": "queued"}`)

	sid, err := n.SendWhatsApp(context.Background(), "+15552223333", "Print finished")
	require.NoError(t, err)
	assert.Equal(t, "SM43", sid)
	assert.Equal(t, "whatsapp:+15552223333", form.Get("To"))
	assert.Equal(t, "whatsapp:+14155238886", form.Get("From"))
}

func TestSendRejected(t *testing.T) {
	n, _ := fakeTwilio(t, http.StatusBadRequest, `{"code": 21211, "message": "The 'To' number is not a valid phone number.", "status": 400}`)

	_, err := n.SendSMS(context.Background(), "nope", "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 21211, apiErr.Code)
	assert.Contains(t, err.Error(), "not a valid phone number")
}
