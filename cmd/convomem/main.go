package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindwell/convomem/config"
	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/telemetry/tracing"
	"github.com/mindwell/convomem/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")
	watchFlag   = flag.Bool("watch", true, "Reload log level and rate limits when the config file changes")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	storageArg = flag.String("storage", "", "Override storage type (memory, badger)")
	transport  = flag.String("events-transport", "", "Override event transport (memory, redis)")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() error {
	overrides := buildOverrides()

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath, overrides)
	if err != nil {
		return fmt.Errorf("failed to load configuration:\n%w", err)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)
	defer log.Close()

	build := version.Get()
	log.Info("Starting convomem",
		"version", build.Version,
		"buildTime", build.BuildTime,
		"gitCommit", build.ShortCommit(),
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Environment: cfg.App.Environment,
		Build:       build,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.Tracing.Timeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	var watcher *config.Watcher
	if *watchFlag && *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, config.NewLoader(), config.WithLogger(log))
		if err != nil {
			log.Warn("Config hot reload disabled", "error", err)
			watcher = nil
		}
	}

	return a.run(ctx, watcher)
}

func buildOverrides() map[string]any {
	overrides := make(map[string]any)

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storageArg != "" {
		overrides["storage.type"] = *storageArg
	}
	if *transport != "" {
		overrides["events.transport"] = *transport
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Println(version.Get())
}

func printHelp() {
	fmt.Printf("convomem - Conversation memory service for coaching agents\n\n")
	fmt.Printf("Usage: convomem [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  convomem                                  # Run with default config\n")
	fmt.Printf("  convomem -config config.yaml              # Use specific config file\n")
	fmt.Printf("  convomem -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  convomem -storage badger                  # Persist sessions on disk\n")
	fmt.Printf("  convomem -version                         # Print version info\n")
}
