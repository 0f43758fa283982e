package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelproxy/internal/capability"
	"modelproxy/internal/common/fsutil"
	"modelproxy/internal/config"
	"modelproxy/internal/httpapi"
	"modelproxy/internal/proxy"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "modelproxyd",
		Short:         "Caching proxy daemon for an Ollama-compatible backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	root.Flags().String("addr", "", "HTTP listen address, e.g. :8090")
	root.Flags().String("backend-host", "", "Backend host (defaults OLLAMA_HOST or localhost)")
	root.Flags().Int("backend-port", 0, "Backend port (defaults OLLAMA_PORT or 11434)")
	root.Flags().String("settings-file", "", "Per-model settings file path")
	root.Flags().String("capability-table", "", "YAML file overriding the capability pattern table")
	root.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	return root
}

func run(cmd *cobra.Command, configPath string) error {
	// optional .env, same lookup the dashboard tooling uses
	_ = godotenv.Load()

	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	applyFlags(cmd, &cfg)
	cfg = config.Defaults(cfg)

	settingsPath, err := fsutil.ExpandHome(cfg.SettingsFile)
	if err != nil {
		return err
	}
	cfg.SettingsFile = settingsPath

	log := newLogger(cfg.LogLevel)

	caps := capability.DefaultTable()
	if cfg.CapabilityTable != "" {
		caps, err = capability.LoadTable(cfg.CapabilityTable)
		if err != nil {
			return fmt.Errorf("load capability table: %w", err)
		}
	}

	engine := proxy.New(cfg, proxy.Options{Caps: caps, Log: log})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(engine, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.BackendURL()).
			Msg("modelproxyd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

// applyFlags overlays explicitly set flags on the file-loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := cmd.Flags().GetString("backend-host"); v != "" {
		cfg.BackendHost = v
	}
	if v, _ := cmd.Flags().GetInt("backend-port"); v != 0 {
		cfg.BackendPort = v
	}
	if v, _ := cmd.Flags().GetString("settings-file"); v != "" {
		cfg.SettingsFile = v
	}
	if v, _ := cmd.Flags().GetString("capability-table"); v != "" {
		cfg.CapabilityTable = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
