package notify

import (
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

// Config is read from the Twilio section of the YAML configuration.
type Config struct {
	// YAML fields start
	AccountSID   string        `yaml:"AccountSID"`
	AuthToken    string        `yaml:"AuthToken"`
	From         string        `yaml:"From"`         // SMS sender number
	WhatsAppFrom string        `yaml:"WhatsAppFrom"` // WhatsApp sender number, without the whatsapp: prefix
	APIURL       string        `yaml:"APIURL"`
	Timeout      time.Duration `yaml:"Timeout"`
	// YAML fields end
}

func DefaultConfig() Config {
	return Config{
		APIURL:  "https://api.twilio.com",
		Timeout: 10 * time.Second,
	}
}

// APIError is a failure reported by the Twilio REST API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: %s (status %d, code %d)", e.Message, e.StatusCode, e.Code)
}

const whatsAppPrefix = "whatsapp:"

// SendSMS sends body to the phone number to and returns the message SID.
func (n *Notifier) SendSMS(ctx context.Context, to, body string) (string, error) {
	return n.send(ctx, n.cfg.From, to, body)
}

func (n *Notifier) SendWhatsApp(ctx context.Context, to, body string) (string, error) {
	return n.send(ctx, whatsApp(n.cfg.WhatsAppFrom), whatsApp(to), body)
}

func whatsApp(number string) string {
	if strings.HasPrefix(number, whatsAppPrefix) {
		return number
	}
	return whatsAppPrefix + number
}

func (n *Notifier) send(ctx context.Context, from, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(n.cfg.APIURL, "/"), url.PathEscape(n.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := n.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "send message")
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return "", apiErr
	}
	var msg struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", errors.Wrap(err, "decode message")
	}
	log.WithFields(log.Fields{"sid": msg.SID, "to": to, "status": msg.Status}).Info("Message queued")
	return msg.SID, nil
}
