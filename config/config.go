package config

import (
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/greendrake/octocast/camera"
	"github.com/greendrake/octocast/notify"
	"github.com/greendrake/octocast/octoprint"
	"github.com/greendrake/octocast/webcast"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Logging struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"` // text or json
}

type Config struct {
	Camera    camera.Config    `yaml:"Camera"`
	WebCast   webcast.Config   `yaml:"WebCast"`
	OctoPrint octoprint.Config `yaml:"OctoPrint"`
	Twilio    notify.Config    `yaml:"Twilio"`
	Logging   Logging          `yaml:"Logging"`
}

func Default() Config {
	return Config{
		Camera:    camera.DefaultConfig(),
		WebCast:   webcast.DefaultConfig(),
		OctoPrint: octoprint.DefaultConfig(),
		Twilio:    notify.DefaultConfig(),
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from, in increasing precedence: defaults, the
// YAML file, OCTOCAST_* environment variables. An explicit path must exist;
// otherwise the usual locations are searched. It returns where the file came from.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	source, err := loadFromFile(&cfg, path)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to load config file")
	}
	if err := loadFromEnv(&cfg); err != nil {
		return nil, "", errors.Wrap(err, "failed to load environment variables")
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", errors.Wrap(err, "configuration validation failed")
	}
	return &cfg, source, nil
}

func loadFromFile(cfg *Config, path string) (string, error) {
	paths := []string{path}
	if path == "" {
		paths = []string{
			os.Getenv("OCTOCAST_CONFIG_PATH"),
			"./config.yaml",
			"./config/config.yaml",
			"/etc/octocast/config.yaml",
		}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) && path == "" {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "read %s", p)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return "", errors.Wrapf(err, "parse %s", p)
		}
		return p, nil
	}
	return "built-in defaults (no config file found)", nil
}

func loadFromEnv(cfg *Config) error {
	texts := map[string]*string{
		"OCTOCAST_CAMERA_URL":           &cfg.Camera.URL,
		"OCTOCAST_WEBCAST_ADDR":         &cfg.WebCast.Addr,
		"OCTOCAST_OCTOPRINT_URL":        &cfg.OctoPrint.URL,
		"OCTOCAST_OCTOPRINT_API_KEY":    &cfg.OctoPrint.APIKey,
		"OCTOCAST_TWILIO_ACCOUNT_SID":   &cfg.Twilio.AccountSID,
		"OCTOCAST_TWILIO_AUTH_TOKEN":    &cfg.Twilio.AuthToken,
		"OCTOCAST_TWILIO_FROM":          &cfg.Twilio.From,
		"OCTOCAST_TWILIO_WHATSAPP_FROM": &cfg.Twilio.WhatsAppFrom,
		"LOG_LEVEL":                     &cfg.Logging.Level,
		"LOG_FORMAT":                    &cfg.Logging.Format,
	}
	for name, dst := range texts {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	durations := map[string]*time.Duration{
		"OCTOCAST_CONNECT_TIMEOUT": &cfg.Camera.ConnectTimeout,
		"OCTOCAST_PROBE_TIMEOUT":   &cfg.Camera.ProbeTimeout,
		"OCTOCAST_IDLE_TIMEOUT":    &cfg.Camera.IdleTimeout,
		"OCTOCAST_PUSH_INTERVAL":   &cfg.WebCast.PushInterval,
	}
	for name, dst := range durations {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			*dst = d
		}
	}

	if val := os.Getenv("OCTOCAST_EXTRACT_ALL"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.Wrap(err, "OCTOCAST_EXTRACT_ALL")
		}
		cfg.Camera.ExtractAll = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Camera.URL == "" {
		return errors.New("camera URL is required")
	}
	u, err := url.Parse(c.Camera.URL)
	if err != nil {
		return errors.Wrapf(err, "invalid camera URL %q", c.Camera.URL)
	}
	switch u.Scheme {
	case "http", "https", "rtsp":
	default:
		return errors.Errorf("unsupported camera URL scheme: %q", u.Scheme)
	}
	if c.Camera.ConnectTimeout <= 0 {
		return errors.Errorf("invalid connect timeout: %v", c.Camera.ConnectTimeout)
	}
	if c.Camera.ProbeTimeout <= 0 {
		return errors.Errorf("invalid probe timeout: %v", c.Camera.ProbeTimeout)
	}
	if c.Camera.IdleTimeout < 0 {
		return errors.Errorf("invalid idle timeout: %v", c.Camera.IdleTimeout)
	}
	if c.Camera.ChunkSize < 1 {
		return errors.Errorf("invalid chunk size: %d", c.Camera.ChunkSize)
	}
	if c.Camera.MaxBufferBytes < 0 {
		return errors.Errorf("invalid max buffer bytes: %d", c.Camera.MaxBufferBytes)
	}
	if c.Camera.FrameQueue < 1 {
		return errors.Errorf("invalid frame queue: %d", c.Camera.FrameQueue)
	}
	if c.Camera.ChunkQueue < 1 {
		return errors.Errorf("invalid chunk queue: %d", c.Camera.ChunkQueue)
	}
	if c.WebCast.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.WebCast.PushInterval < 0 {
		return errors.Errorf("invalid push interval: %v", c.WebCast.PushInterval)
	}
	if c.WebCast.SnapshotTimeout <= 0 {
		return errors.Errorf("invalid snapshot timeout: %v", c.WebCast.SnapshotTimeout)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return errors.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Apply configures the standard logger. Output goes to stdout.
func (l Logging) Apply() error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
	if l.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
