package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/greendrake/octocast/camera"
	"github.com/greendrake/octocast/config"
	"github.com/greendrake/octocast/control"
	"github.com/greendrake/octocast/notify"
	"github.com/greendrake/octocast/octoprint"
	"github.com/greendrake/octocast/util"
	"github.com/greendrake/octocast/webcast"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "octocast",
	Short:         "OctoPrint camera relay and printer control server",
	Long:          "Relays a printer's MJPEG camera to any number of browsers and WebSocket clients, and fronts OctoPrint and Twilio with a small HTTP API",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The config path is relative to where we were started from.
		if configPath != "" {
			abs, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}
			configPath = abs
		}
		return os.Chdir(GetWorkDir())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (searched for if empty)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (the default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
}

func GetWorkDir() string {
	ex, err := os.Executable()
	if err != nil {
		panic(err)
	}
	dir := filepath.Dir(ex)
	// Helpful when developing:
	// when running `go run`, the executable is in a temporary directory.
	if strings.Contains(dir, "go-build") {
		return "."
	}
	return dir
}

func loadConfig() (*config.Config, error) {
	cfg, source, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Logging.Apply(); err != nil {
		return nil, err
	}
	log.Infof("Configuration loaded from %s", source)
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Create a context that is responsive to signals:
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := camera.NewRelay(ctx, cfg.Camera)
	defer relay.Close()
	printer := octoprint.NewClient(cfg.OctoPrint)
	notifier := notify.New(cfg.Twilio, printer)

	log.WithFields(log.Fields{"camera": cfg.Camera.URL, "octoprint": cfg.OctoPrint.URL}).Info("Starting")
	err = webcast.Run(ctx, cfg.WebCast.Addr,
		webcast.NewCaster(relay, cfg.WebCast).Register,
		control.New(printer, notifier).Register,
	)
	log.Info("All finished")
	return err
}

func newProbeCmd() *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether the camera answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			relay := camera.NewRelay(ctx, cfg.Camera)
			defer relay.Close()

			for {
				res := relay.Probe(ctx)
				printProbe(cfg.Camera.URL, res)
				if !watch {
					if !res.Online {
						return errors.New("camera is offline")
					}
					return nil
				}
				if !util.SleepCtx(ctx, interval) {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep probing until interrupted")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 5*time.Second, "Time between probes with --watch")
	return cmd
}

func printProbe(address string, res camera.ProbeResult) {
	g := color.New(color.FgGreen)
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)

	color.New(color.FgCyan).Printf("%s ", time.Now().Format(time.TimeOnly))
	if res.Online {
		g.Printf("online ")
	} else {
		r.Printf("offline ")
	}
	switch {
	case res.StatusCode != 0 && !res.Online:
		y.Printf("status %d ", res.StatusCode)
	case res.Err != nil:
		y.Printf("%v ", res.Err)
	}
	color.New(color.Faint).Println(address)
}

func main() {
	// Log to STDOUT in the standard manner
	log.SetOutput(os.Stdout)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
