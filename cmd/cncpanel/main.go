package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"cncpanel/internal/api"
	"cncpanel/internal/clock"
	"cncpanel/internal/config"
	"cncpanel/internal/linuxcnc"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/internal/panel"
	"cncpanel/internal/persist"
	"cncpanel/internal/resolver"
	"cncpanel/internal/rules"
	"cncpanel/pkg/plugin"

	// Data plugin providers
	_ "cncpanel/internal/datetime"
	_ "cncpanel/internal/hal"
	_ "cncpanel/internal/positions"
	_ "cncpanel/internal/settings"
	_ "cncpanel/internal/status"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	configDir := getenv("CNCPANEL_CONFIG", ".")
	headless := os.Getenv("HEADLESS") == "true"

	// The panel owns the terminal, so logs go to a file while it runs
	logPath := "stdout"
	if !headless {
		logPath = filepath.Join(configDir, "cncpanel.log")
	}
	logger, err := newLogger(os.Getenv("LOG_LEVEL"), logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configDir, headless, logger); err != nil {
		logger.Error("cncpanel exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// run starts every component and blocks until ctx is cancelled or the panel
// quits. A status bridge that cannot be reached leaves the status plugin
// stopped; everything else still runs.
func run(ctx context.Context, configDir string, headless bool, logger *zap.Logger) error {
	cfg, err := config.NewLoader(configDir, logger.Named("config")).Load()
	if err != nil {
		return err
	}
	applyEnv(cfg, logger)

	logger.Info("Starting cncpanel",
		zap.String("status_url", cfg.Status.URL),
		zap.Bool("read_only", cfg.ReadOnly),
		zap.Duration("cycle_time", cfg.CycleTime))

	store, err := persist.Open(cfg.Persistence.Path, logger.Named("persist"))
	if err != nil {
		return err
	}
	defer store.Close()

	client := linuxcnc.NewClient(cfg.Status.URL, logger.Named("linuxcnc"))
	if err := client.Connect(); err != nil {
		logger.Warn("Status bridge unavailable, machine status disabled",
			zap.String("url", cfg.Status.URL),
			zap.Error(err))
	}
	defer client.Disconnect()

	m := metrics.New()
	l := loop.New(logger.Named("loop"), 0)

	pctx := plugin.NewContext(logger, l, clock.NewReal(), m)
	pctx.Machine = client
	pctx.Store = store
	pctx.ReadOnly = cfg.ReadOnly
	pctx.ConfigDir = configDir

	plugins, err := plugin.Build(pctx, cfg.Specs())
	if err != nil {
		return err
	}
	registry := plugin.NewRegistry(logger.Named("plugins"))
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(gctx) })

	res := resolver.New(registry, logger.Named("resolver"))
	engine := rules.NewEngine(res, rules.WithLogger(logger.Named("rules")), rules.WithMetrics(m))

	var (
		board   *panel.Panel
		initErr error
	)
	if err := l.Call(gctx, func() {
		if initErr = registry.InitialiseAll(); initErr != nil {
			return
		}
		// Widget failures are logged by Build; the panel still runs
		board, _ = panel.Build(cfg.Panel, res, engine, logger.Named("panel"))
	}); err != nil {
		return err
	}
	if initErr != nil {
		stop()
		g.Wait()
		registry.TerminateAll()
		return initErr
	}

	server := api.NewServer(registry, logger.Named("api"), cfg.API.Port,
		api.WithLoop(l),
		api.WithMetrics(m),
		api.WithReadOnly(cfg.ReadOnly))
	if err := server.Start(); err != nil {
		return err
	}

	if headless {
		logger.Info("Running headless. Press Ctrl+C to exit.")
	} else {
		program := tea.NewProgram(panel.NewModel(board, func(fn func()) { l.Post(fn) }), tea.WithAltScreen())
		g.Go(func() error {
			defer stop()
			_, err := program.Run()
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			program.Quit()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("Shutting down gracefully...")

	if stopErr := server.Stop(); stopErr != nil {
		logger.Error("Failed to stop API server", zap.Error(stopErr))
	}

	// The loop has exited; nothing else touches channels now
	board.Close()
	if termErr := registry.TerminateAll(); termErr != nil {
		logger.Error("Failed to terminate plugins", zap.Error(termErr))
	}
	return err
}

// applyEnv lets environment variables override the configuration file
func applyEnv(cfg *config.Config, logger *zap.Logger) {
	if url := os.Getenv("LINUXCNC_STATUS_URL"); url != "" {
		cfg.Status.URL = url
	}
	if v := os.Getenv("READ_ONLY"); v != "" {
		cfg.ReadOnly = v == "true"
	}
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			logger.Warn("Ignoring invalid API_PORT", zap.String("value", v))
			return
		}
		cfg.API.Port = port
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newLogger builds a production logger, or a development logger when level
// is debug
func newLogger(level, path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{path}
	return cfg.Build()
}
