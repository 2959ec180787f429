// ABOUTME: Entry point for coven-operator: shared-human backend and forwarding proxy.
// ABOUTME: Subcommands: serve (backend), server (proxy), health, sessions.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-operator/internal/config"
	"github.com/2389/coven-operator/internal/dispatch"
	"github.com/2389/coven-operator/internal/logtail"
	"github.com/2389/coven-operator/internal/proxy"
	"github.com/2389/coven-operator/internal/session"
	"github.com/2389/coven-operator/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __         ___  _ __   ___ _ __ __ _| |_ ___  _ __
 / __/ _ \ \ / / _ \ '_ \ _____ / _ \| '_ \ / _ \ '__/ _' | __/ _ \| '__|
| (_| (_) \ V /  __/ | | |_____| (_) | |_) |  __/ | | (_| | || (_) | |
 \___\___/ \_/ \___|_| |_|      \___/| .__/ \___|_|  \__,_|\__\___/|_|
                                     |_|
`

// getConfigPath returns the path to the operator config file.
// Priority: COVEN_OPERATOR_CONFIG env var > XDG_CONFIG_HOME/coven/operator.yaml > ~/.config/coven/operator.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_OPERATOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "operator.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "operator.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-operator <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the interactive backend")
		fmt.Println("  server    Start the forwarding proxy standalone")
		fmt.Println("  health    Check backend health")
		fmt.Println("  sessions  List registered sessions")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "server":
		err = runProxy(ctx)
	case "health":
		err = runHealth(ctx)
	case "sessions":
		err = runSessions(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and fills in the default database path.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(getDataPath(), "operator.db")
	}
	return cfg, nil
}

func printBanner(role string) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s  (%s)\n\n", version, role)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printBanner("backend")
	logger := setupLogger(cfg.Logging, nil)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", getConfigPath())
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Registry: %s\n", cfg.Database.Path)
	fmt.Println()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		// The concurrency core runs fine without the label registry.
		logger.Warn("session registry unavailable, labels will not persist", "error", err)
		st = nil
	} else {
		defer st.Close()
	}

	manager := session.NewManager(
		&operatorHooks{logger: logger},
		logger,
		session.WithHistoryCap(cfg.Sessions.HistoryCap),
		// The interactive UI collaborator attaches its tab here.
		session.WithOnSessionCreated(func(s *session.Session) {
			logger.Info("=== SESSION CONNECTED ===", "session_id", s.ID)
		}),
	)
	defer manager.Close()

	go manager.RunCleanup(ctx, cfg.Sessions.CleanupInterval, cfg.Sessions.CleanupTimeout)

	dispatcher := dispatch.New(manager, st, logger)
	mux := http.NewServeMux()
	dispatcher.RegisterRoutes(mux)
	dispatcher.RegisterOperatorRoutes(mux)

	logger.Info("starting coven-operator backend", "http_addr", cfg.Server.HTTPAddr)
	// Close the manager before draining connections: it force-resolves every
	// live inbox item with _cancelled, so blocked tool calls finish instead
	// of holding the drain open.
	return serveHTTP(ctx, cfg.Server.HTTPAddr, mux, logger, manager.Close)
}

func runProxy(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printBanner("proxy")

	tail := logtail.NewBuffer(logtail.DefaultCapacity)
	logger := setupLogger(cfg.Logging, tail)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Listen:   %s\n", cfg.Proxy.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:  %s\n", cfg.Proxy.BackendURL)
	fmt.Println()

	forwarder := proxy.NewForwarder(cfg.Proxy.BackendURL, proxy.Options{
		MaxRetries:      cfg.Proxy.MaxRetries,
		InitialBackoff:  cfg.Proxy.InitialBackoff,
		MaxBackoff:      cfg.Proxy.MaxBackoff,
		BlockingTimeout: cfg.Proxy.BlockingTimeout,
		RequestTimeout:  cfg.Proxy.RequestTimeout,
	}, tail, nil, logger)

	server := proxy.NewServer(forwarder, logger)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	logger.Info("starting forwarding proxy",
		"listen_addr", cfg.Proxy.ListenAddr,
		"backend_url", cfg.Proxy.BackendURL,
	)
	return serveHTTP(ctx, cfg.Proxy.ListenAddr, mux, logger, nil)
}

// shutdownTimeout bounds how long graceful shutdown waits for in-flight
// requests before the process exits anyway.
const shutdownTimeout = 5 * time.Second

// serveHTTP runs an HTTP server until ctx is cancelled, then shuts it down.
// onShutdown runs before the graceful drain so handlers blocked on inbox
// items are woken first; otherwise a pending present_choices call would hold
// its connection open and the drain would wait on it in a circle.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, onShutdown func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return serveListener(ctx, ln, handler, logger, onShutdown)
}

func serveListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger, onShutdown func()) error {
	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		if onShutdown != nil {
			onShutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return errors.New("unexpected health response")
	}

	fmt.Printf("healthy, %d session(s)\n", health.Sessions)
	return nil
}

func runSessions(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening session registry: %w", err)
	}
	defer st.Close()

	sessions, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No registered sessions.")
		return nil
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, rs := range sessions {
		name := rs.Name
		if name == "" {
			name = "(unnamed)"
		}
		bold.Printf("%s", name)
		fmt.Printf("  %s\n", rs.SessionID)
		if rs.CWD != "" {
			gray.Printf("    cwd: %s\n", rs.CWD)
		}
		if rs.TmuxSession != "" {
			gray.Printf("    tmux: %s %s\n", rs.TmuxSession, rs.TmuxPane)
		}
		gray.Printf("    last seen: %s\n", rs.LastSeen.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
