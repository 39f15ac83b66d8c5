package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyslexiview/dyslexiview/internal/config"
	"github.com/dyslexiview/dyslexiview/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	configPath   string
	pipeline     string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "dyslexiview",
	Short: "Record, upload and play back audio for the dyslexiview service",
	Long: `dyslexiview is a command-line client for the dyslexiview service.

It records audio from the microphone and uploads it, lists the recordings
the service keeps (original and enhanced), plays them back one at a time,
and sends images for text extraction and summarization.

Without a config file the service is expected at http://localhost:5000.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		explicit := cfgFile != ""
		configPath = config.ResolvePath(cfgFile)
		if !explicit {
			configPath = config.DefaultPath()
		}

		var err error
		cfg, err = config.Load(configPath, explicit, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "path", configPath, "profile", cfg.Profile, "base_url", cfg.Server.BaseURL)

		return validatePipeline()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dyslexiview.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with audio backend tracing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
		os.Setenv("PULSE_LOG", "4")
	}
}

// newService builds the service for the loaded configuration
func newService(opts ...service.Option) (service.Service, error) {
	svc, err := service.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
