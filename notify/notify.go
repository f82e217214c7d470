package notify

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/greendrake/octocast/octoprint"
)

// Printer is the part of the OctoPrint client that chat commands need.
type Printer interface {
	PrinterState(ctx context.Context) (*octoprint.PrinterState, error)
	Files(ctx context.Context) ([]string, error)
}

// Notifier sends SMS and WhatsApp messages through Twilio and answers the
// commands people send back.
type Notifier struct {
	cfg     Config
	http    *http.Client
	printer Printer
}

func New(cfg Config, printer Printer) *Notifier {
	return &Notifier{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		printer: printer,
	}
}

const Help = "Send 'status' to get printer status or 'files' to list available files."

// HandleCommand answers an inbound chat message. Keywords are matched
// case-insensitively anywhere in the message.
func (n *Notifier) HandleCommand(ctx context.Context, body string) string {
	msg := strings.ToLower(strings.TrimSpace(body))
	switch {
	case strings.Contains(msg, "status"):
		state, err := n.printer.PrinterState(ctx)
		if err != nil {
			return fmt.Sprintf("Could not get printer status: %v", err)
		}
		return fmt.Sprintf("Printer Status: %s\nTemperatures: %s", state.State, temperatures(state.Temperature))
	case strings.Contains(msg, "files"):
		files, err := n.printer.Files(ctx)
		if err != nil {
			return fmt.Sprintf("Could not list files: %v", err)
		}
		return "Available Files: " + strings.Join(files, ", ")
	default:
		return Help
	}
}

func temperatures(t map[string]octoprint.Temperature) string {
	heaters := make([]string, 0, len(t))
	for name := range t {
		heaters = append(heaters, name)
	}
	sort.Strings(heaters)
	parts := make([]string, 0, len(heaters))
	for _, name := range heaters {
		parts = append(parts, fmt.Sprintf("%s %.1f/%.1f", name, t[name].Actual, t[name].Target))
	}
	return strings.Join(parts, ", ")
}

type twiML struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// TwiML renders a messaging response that replies with message.
func TwiML(message string) ([]byte, error) {
	out, err := xml.Marshal(twiML{Message: message})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
