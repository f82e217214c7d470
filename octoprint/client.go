package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config is read from the OctoPrint section of the YAML configuration.
type Config struct {
	// YAML fields start
	URL     string        `yaml:"URL"` // API root, e.g. http://octopi.local/api
	APIKey  string        `yaml:"APIKey"`
	Timeout time.Duration `yaml:"Timeout"`
	// YAML fields end
}

func DefaultConfig() Config {
	return Config{
		URL:     "http://octopi.local/api",
		Timeout: 10 * time.Second,
	}
}

// Error is a response from OctoPrint other than the one expected. StatusCode is
// passed on to our own caller.
type Error struct {
	StatusCode int
	Detail     string
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("octoprint: %s (status %d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("octoprint: %s (status %d): %s", e.Detail, e.StatusCode, e.Body)
}

// Temperature of one heater as OctoPrint reports it.
type Temperature struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
	Offset float64 `json:"offset"`
}

type PrinterState struct {
	State       string                 `json:"state"`
	Temperature map[string]Temperature `json:"temperature"`
}

// Client talks to the OctoPrint REST API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any, expect int, detail string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode != expect {
		log.WithFields(log.Fields{"method": method, "path": path, "status": resp.StatusCode}).Warn(detail)
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Detail:     detail,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

func (c *Client) PrinterState(ctx context.Context) (*PrinterState, error) {
	data, err := c.do(ctx, http.MethodGet, "/printer", nil, http.StatusOK, "Failed to fetch data from OctoPrint")
	if err != nil {
		return nil, err
	}
	var resp struct {
		State struct {
			Text string `json:"text"`
		} `json:"state"`
		Temperature map[string]Temperature `json:"temperature"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "decode printer state")
	}
	return &PrinterState{State: resp.State.Text, Temperature: resp.Temperature}, nil
}

// Files lists the names of the files stored on the printer.
func (c *Client) Files(ctx context.Context) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/files", nil, http.StatusOK, "Failed to fetch file list from OctoPrint")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Files *[]struct {
			Name string `json:"name"`
		} `json:"files"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "decode file list")
	}
	if resp.Files == nil {
		return nil, &Error{StatusCode: http.StatusNotFound, Detail: "No files found"}
	}
	names := make([]string, 0, len(*resp.Files))
	for _, f := range *resp.Files {
		names = append(names, f.Name)
	}
	return names, nil
}

// Job commands accepted by JobCommand.
const (
	JobPause  = "pause"
	JobResume = "resume"
	JobCancel = "cancel"
)

func (c *Client) JobCommand(ctx context.Context, command string) error {
	_, err := c.do(ctx, http.MethodPost, "/job", map[string]string{"command": command}, http.StatusNoContent, "Failed to send job command")
	return err
}

// StartPrint selects a locally stored file and starts printing it.
func (c *Client) StartPrint(ctx context.Context, file string) error {
	payload := map[string]any{"command": "select", "print": true}
	_, err := c.do(ctx, http.MethodPost, "/files/local/"+url.PathEscape(file), payload, http.StatusNoContent, "Failed to select and start the file for printing")
	return err
}

// SetToolTemperature sets the target of the first hotend.
func (c *Client) SetToolTemperature(ctx context.Context, celsius float64) error {
	payload := map[string]any{"command": "target", "targets": map[string]float64{"tool0": celsius}}
	_, err := c.do(ctx, http.MethodPost, "/printer/tool", payload, http.StatusNoContent, "Failed to set hotend temperature")
	return err
}

func (c *Client) SetBedTemperature(ctx context.Context, celsius float64) error {
	payload := map[string]any{"command": "target", "target": celsius}
	_, err := c.do(ctx, http.MethodPost, "/printer/bed", payload, http.StatusNoContent, "Failed to set bed temperature")
	return err
}

func (c *Client) SendGCode(ctx context.Context, commands ...string) error {
	_, err := c.do(ctx, http.MethodPost, "/printer/command", map[string][]string{"commands": commands}, http.StatusNoContent, "Failed to send G-code")
	return err
}
