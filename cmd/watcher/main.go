package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sessionwatcher/watcher/internal/config"
	"github.com/sessionwatcher/watcher/internal/destinations"
	"github.com/sessionwatcher/watcher/internal/fswatch"
	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/ratelimit"
	"github.com/sessionwatcher/watcher/internal/search"
	"github.com/sessionwatcher/watcher/internal/searchstate"
	"github.com/sessionwatcher/watcher/internal/server"
	"github.com/sessionwatcher/watcher/internal/slackcmd"
	"github.com/sessionwatcher/watcher/internal/telegramcmd"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	fswatchDebounce            = 500 * time.Millisecond
	searchStateTTL             = 10 * time.Minute
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("watcher %s (commit %s, built %s)\n", version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}
	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`watcher %s - indexes local session logs and serves search over
HTTP, Slack, and Telegram.

Usage:
  watcher [flags]          Start the service (default command)
  watcher serve [flags]    Start the service (explicit)
  watcher version          Show version information
  watcher help             Show this help

Flags:
  -host string           Host to bind to (default "127.0.0.1")
  -port int              Port to listen on (default 8080)
  -no-browser            Accepted and stored; the service never opens a browser
  -include-subagents     Include subagent session files in the index

Environment variables:
  WATCHER_DATA_DIR             Data directory (index state, destinations, log)
  WATCHER_ROOTS                 Session root directories (PATH-list separated)
  WATCHER_SLACK_BOT_TOKEN       Slack bot token, enables the Slack command surface
  WATCHER_TELEGRAM_BOT_TOKEN    Telegram bot token, enables the Telegram command surface

Data is stored in ~/.sessionwatcher/ by default.
`, version)
}

func runServe(args []string) {
	start := time.Now()
	cfg := mustLoadConfig(args)
	logger := setupLogger(cfg.DataDir)

	store, err := config.NewDestinationStore(cfg.DestinationsPath())
	if err != nil {
		logger.Fatalf("loading destinations: %v", err)
	}
	if cfg.SlackBotToken == "" {
		if tok, ok := store.GetBotConfig(destinations.KindSlack); ok {
			cfg.SlackBotToken = tok
		}
	}
	if cfg.TelegramBotToken == "" {
		if tok, ok := store.GetBotConfig(destinations.KindTelegram); ok {
			cfg.TelegramBotToken = tok
		}
	}

	for _, root := range cfg.Roots {
		if _, err := os.Stat(root); err != nil {
			logger.Printf("warning: session root not found: %s", root)
		}
	}

	idx := indexer.New(cfg.Roots, indexer.IndexConfig{
		RefreshInterval:  cfg.RefreshInterval,
		IncludeSubagents: cfg.IncludeSubagents,
		Persist:          true,
		MaxIndexAgeHours: cfg.MaxIndexAgeHours,
		SessionExtension: ".jsonl",
	}, cfg.StateDir(), logger)

	logger.Printf("running initial index build...")
	if _, err := idx.Refresh(true); err != nil {
		logger.Fatalf("initial index build failed: %v", err)
	}

	engine := search.New(idx)

	dest := destinations.New(store, makeOnSessionStart(logger))
	if err := dest.RestoreFromConfig(context.Background()); err != nil {
		logger.Printf("warning: restoring destinations: %v", err)
	}

	refresher, err := fswatch.NewRefresher(cfg.Roots, fswatchDebounce, func(force bool) error {
		_, err := idx.Refresh(force)
		return err
	}, logger)
	if err != nil {
		logger.Printf("warning: file watcher unavailable, relying on periodic refresh: %v", err)
	} else {
		defer refresher.Stop()
	}
	go periodicRefresh(idx, cfg.RefreshInterval, logger)

	var limiters []*ratelimit.Limiter
	srv := server.New(cfg, idx, engine, dest)
	mux := http.NewServeMux()

	if cfg.SlackBotToken != "" {
		pub := slackcmd.NewPublisher(cfg.SlackBotToken)
		slackLimiter := ratelimit.New(cfg.SearchRateLimit, cfg.SearchRateWindow)
		limiters = append(limiters, slackLimiter)
		states := searchstate.New(searchStateTTL)
		handler := slackcmd.New(engine, states, slackLimiter, dest, pub, logger)
		registerSlackRoutes(mux, handler, logger)
		logger.Printf("slack command surface enabled")
	}

	if cfg.TelegramBotToken != "" {
		pub, err := telegramcmd.NewPublisher(cfg.TelegramBotToken)
		if err != nil {
			logger.Printf("warning: telegram bot unavailable: %v", err)
		} else {
			telegramLimiter := ratelimit.New(cfg.SearchRateLimit, cfg.SearchRateWindow)
			limiters = append(limiters, telegramLimiter)
			states := searchstate.New(searchStateTTL)
			handler := telegramcmd.New(engine, states, telegramLimiter, dest, pub, logger)
			go runTelegramPolling(cfg.TelegramBotToken, handler, logger)
			logger.Printf("telegram command surface enabled")
		}
	}

	go cleanupRateLimiters(limiters, logger)

	mux.Handle("/", srv.Handler())

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	httpSrv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	fmt.Printf("watcher %s listening at http://%s:%d (started in %s)\n",
		version, cfg.Host, cfg.Port, time.Since(start).Round(time.Millisecond))

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	case <-sig:
		logger.Printf("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Printf("shutdown error: %v", err)
		}
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("watcher", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: watcher [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func setupLogger(dataDir string) *log.Logger {
	logPath := filepath.Join(dataDir, "debug.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("warning: cannot open log file: %v", err)
		return log.Default()
	}
	return log.New(io.MultiWriter(os.Stderr, f), "", log.LstdFlags)
}

// makeOnSessionStart logs rather than starting a real file-tail, since
// event delivery to chat destinations is an external collaborator this
// repo only defines the interface for.
func makeOnSessionStart(logger *log.Logger) destinations.OnSessionStart {
	return func(ctx context.Context, sessionID, path string) error {
		logger.Printf("destinations: session %s (%s) gained its first destination; tailing is handled externally", sessionID, path)
		return nil
	}
}

func periodicRefresh(idx *indexer.Indexer, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := idx.Refresh(false); err != nil {
			logger.Printf("periodic refresh failed: %v", err)
		}
	}
}

func cleanupRateLimiters(limiters []*ratelimit.Limiter, logger *log.Logger) {
	ticker := time.NewTicker(rateLimiterCleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		for _, l := range limiters {
			n := l.Cleanup()
			if n > 0 {
				logger.Printf("ratelimit: reclaimed %d idle bucket(s)", n)
			}
		}
	}
}
