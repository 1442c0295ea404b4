// Command docchat is a terminal client for a document question-answering
// service: attach files, ask questions, read streamed answers with
// citations.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docchat/internal/api"
	"docchat/internal/config"
	"docchat/internal/docs"
	"docchat/internal/logging"
	"docchat/internal/session"
	"docchat/internal/stream"
	"docchat/internal/tui"
)

type flags struct {
	configPath        string
	serverURL         string
	logFile           string
	logLevel          string
	streamIdleTimeout time.Duration
	streamFailure     string
	altScreen         bool
}

type app struct {
	cfg      config.Config
	log      *zap.Logger
	closeLog func() error
	client   *api.Client
}

func newRootCmd() *cobra.Command {
	var f flags
	a := &app{}

	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents from the terminal",
		Long: `docchat talks to a document question-answering service.

Queue files with /attach, ask a question, and the answer streams in with
tool activity and numbered citations. /open <n> shows a cited document.

Configuration is read from --config (YAML), then DOCCHAT_* environment
variables (a .env file is honoured), then command-line flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, f)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInteractive(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVarP(&f.serverURL, "server", "s", "", "Service base URL (or set DOCCHAT_SERVER_URL)")
	root.PersistentFlags().StringVar(&f.logFile, "log-file", "", "Write JSON logs to this file (rotated)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.Flags().DurationVar(&f.streamIdleTimeout, "stream-idle-timeout", 0, "Abandon a stream after this long without data (0 disables)")
	root.Flags().StringVar(&f.streamFailure, "stream-failure", "", "On stream failure: silent or annotate")
	root.Flags().BoolVar(&f.altScreen, "alt-screen", true, "Run in the terminal's alternate screen")

	root.AddCommand(newHealthCmd(a))
	return root
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
			defer cancel()
			if err := a.client.Health(ctx); err != nil {
				return fmt.Errorf("service %s unreachable: %w", a.cfg.ServerURL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", a.client.BaseURL())
			return nil
		},
	}
}

// setup resolves configuration, opens the log and builds the API client.
// Only flags the user actually set override file and environment values.
func (a *app) setup(cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	var o config.Overrides
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("server") {
		o.ServerURL = &f.serverURL
	}
	if changed("log-file") {
		o.LogFile = &f.logFile
	}
	if changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	if changed("stream-idle-timeout") {
		o.StreamIdleTimeout = &f.streamIdleTimeout
	}
	if changed("stream-failure") {
		o.StreamFailure = &f.streamFailure
	}
	if changed("alt-screen") {
		o.AltScreen = &f.altScreen
	}
	cfg.Apply(o)
	if err := cfg.Finalize(); err != nil {
		return err
	}
	a.cfg = cfg

	log, closeLog, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log, a.closeLog = log, closeLog

	client, err := api.NewClient(cfg.ServerURL, api.WithTimeout(cfg.RequestTimeout), api.WithLogger(log))
	if err != nil {
		return err
	}
	a.client = client
	log.Info("docchat starting",
		zap.String("server", cfg.ServerURL),
		zap.String("stream_failure", cfg.StreamFailure),
		zap.Duration("stream_idle_timeout", cfg.StreamIdleTimeout))
	return nil
}

func (a *app) teardown() {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func (a *app) runInteractive(ctx context.Context) error {
	policy, err := stream.ParseFailurePolicy(a.cfg.StreamFailure)
	if err != nil {
		return err
	}
	events := tui.NewEvents()
	sess := session.New(a.client, session.Options{
		FailurePolicy:     policy,
		StreamIdleTimeout: a.cfg.StreamIdleTimeout,
		UploadTimeout:     a.cfg.UploadTimeout,
		Logger:            a.log,
		OnState:           events.State,
		OnProgress:        events.Progress,
	})
	fetcher, err := docs.NewFetcher(a.client, a.cfg.DocCacheSize, a.log)
	if err != nil {
		return err
	}

	model := tui.New(tui.Deps{
		Session:        sess,
		Events:         events,
		Docs:           fetcher,
		Health:         a.client.Health,
		Logger:         a.log,
		ServerURL:      a.client.BaseURL(),
		RequestTimeout: a.cfg.RequestTimeout,
	})
	opts := []tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithContext(ctx)}
	if a.cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(model, opts...).Run(); err != nil {
		return fmt.Errorf("docchat: %w", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
