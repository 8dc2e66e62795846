package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/mathchat/internal/client"
	"github.com/strrl/mathchat/internal/config"
	"github.com/strrl/mathchat/internal/db"
	"github.com/strrl/mathchat/internal/telemetry"
	"github.com/strrl/mathchat/internal/tui"
)

type rootOptions struct {
	envFile    string
	baseURL    string
	logFile    string
	captureDir string
	timeout    time.Duration
	debug      bool
	telemetry  bool
}

var opts rootOptions

// app is what every subcommand needs, built once per invocation
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *client.Client
	cleanup []func()
}

var current *app

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mathchat",
		Short: "Terminal client for the MathGPT tutoring service",
		Long: `mathchat is a TUI chat client for the MathGPT service. Answers stream in
as they are generated and LaTeX is normalized for display.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		RunE:              runTUI,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with MATHCHAT_* settings")
	flags.StringVar(&opts.baseURL, "base-url", "", "Chat service base URL (overrides "+config.EnvBaseURL+")")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path (overrides "+config.EnvLogFile+")")
	flags.StringVar(&opts.captureDir, "capture-dir", "", "Record raw response streams into this directory")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Request timeout, 0 for none")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.telemetry, "telemetry", false, "Export traces and metrics next to the log file")

	rootCmd.AddCommand(NewSessionsCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewAskCommand())
	rootCmd.AddCommand(NewInspectCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, NewRootCommand()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run executes cmd and then releases whatever setup acquired. cobra skips
// post-run hooks when a command fails, so the release happens here.
func run(ctx context.Context, cmd *cobra.Command) error {
	defer teardown()
	return cmd.ExecuteContext(ctx)
}

// loadConfig applies flags that were set explicitly on top of the
// environment configuration
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}
	if flags.Changed("capture-dir") {
		cfg.CaptureDir = opts.captureDir
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if flags.Changed("telemetry") {
		cfg.Telemetry = opts.telemetry
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closer, err := telemetry.InitLogger(cfg.LogFile, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.cleanup = append(a.cleanup,
		func() { _ = closer.Close() },
		func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close DuckDB", "error", err)
			}
		},
	)

	if cfg.Telemetry {
		dir := filepath.Join(filepath.Dir(cfg.LogFile), "telemetry")
		shutdown, err := telemetry.InitTelemetry(cmd.Context(), dir)
		if err != nil {
			logger.Warn("Telemetry disabled", "error", err)
		} else {
			a.cleanup = append(a.cleanup, shutdown)
		}
	}

	// created after telemetry so the client picks up the global tracer
	a.client = client.New(cfg, client.WithLogger(logger))
	current = a

	logger.Info("mathchat started",
		"command", cmd.Name(),
		"base_url", cfg.BaseURL,
		"capture_dir", cfg.CaptureDir,
	)
	return nil
}

func teardown() {
	if current == nil {
		return
	}
	for i := len(current.cleanup) - 1; i >= 0; i-- {
		current.cleanup[i]()
	}
	current = nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	if err := tui.ShowTUI(cmd.Context(), current.client, current.logger); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
