package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/dermadx/internal/api"
	"github.com/kalambet/dermadx/internal/config"
	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/metrics"
	"github.com/kalambet/dermadx/internal/notify"
	"github.com/kalambet/dermadx/internal/ollama"
	"github.com/kalambet/dermadx/internal/provider"
	"github.com/kalambet/dermadx/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dermadx server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dermadx server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dermadx status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dermadx.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "dermadx version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, record edits and deletes are unauthenticated")
	}

	// Refuse to start twice on the same port.
	base := serverURL(cfg)
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(base + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("dermadx is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("dermadx is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	if cfg.Ollama.Enabled {
		printStep("checking Ollama at %s", cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.Model, os.Stderr); err != nil {
			printWarning("ollama provider unavailable: %v", err)
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	catalog, err := config.LoadCatalog(cfg.Providers.CatalogFile)
	if err != nil {
		return err
	}
	logger := slog.Default()
	registry, err := provider.FromConfig(cfg, catalog, provider.NewHealth(), logger)
	if err != nil {
		return fmt.Errorf("configuring providers: %w", err)
	}
	for _, d := range registry.Descriptors() {
		slog.Info("provider configured", "id", d.ID, "kind", d.Kind, "model", d.Model, "capabilities", d.Capabilities)
	}
	invoker := provider.NewInvoker(registry.Health(), cfg.LLM.MaxRetries, cfg.LLM.RetryBaseDelay, logger)

	var sinks []notify.Sink
	if cfg.Hospital.Enabled {
		sinks = append(sinks, notify.NewHospitalSink(cfg.Hospital.BaseURL, cfg.Hospital.Timeout))
	}
	if cfg.Chatbot.Enabled {
		sinks = append(sinks, notify.NewChatbotSink(cfg.Chatbot.BaseURL, cfg.Chatbot.Timeout))
	}
	dispatcher := notify.NewDispatcher(sinks, store, logger)
	slog.Info("notification sinks configured", "sinks", dispatcher.Sinks())

	svc := diagnosis.NewService(registry, invoker, store, dispatcher, logger)

	handler := api.NewHandler(api.Deps{
		Service:       svc,
		Providers:     registry,
		Notifications: store,
		Token:         cfg.Server.APIToken,
		Logger:        logger,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(svc))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	fmt.Fprintf(os.Stderr, "dermadx listening on %s\n", addr)
	if err := serveUntil(ctx, srv, ln, shutdownGrace); err != nil {
		return err
	}

	// Let in-flight notifications finish before the store closes.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), max(cfg.Hospital.Timeout, cfg.Chatbot.Timeout)+time.Second)
	defer cancelDrain()
	if err := dispatcher.Close(drainCtx); err != nil {
		slog.Warn("notifications still pending at shutdown", "error", err)
	}
	return nil
}

const shutdownGrace = 5 * time.Second

// serveUntil serves on ln until ctx is done, then shuts srv down. Requests
// already in flight run on their own contexts and get up to grace to finish.
func serveUntil(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("dermadx is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop dermadx (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to dermadx (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    serverURL(cfg),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	reportStatus(ctx, client)

	printStatus("Text provider", "%s (fallback %s)", cfg.Diagnosis.TextProvider, cfg.Diagnosis.TextFallback)
	printStatus("Image provider", "%s (fallback %s)", cfg.Diagnosis.ImageProvider, cfg.Diagnosis.ImageFallback)
	printStatus("Hospital sink", "%s", sinkLabel(cfg.Hospital))
	printStatus("Chatbot sink", "%s", sinkLabel(cfg.Chatbot))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// reportStatus prints server liveness and, when it is up, the record count.
func reportStatus(ctx context.Context, client *apiClient) bool {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return false
	}
	printStatus("Server", "running at %s", client.baseURL)

	listResp, err := client.get(ctx, "/analyses?page_size=1")
	if err != nil {
		return true
	}
	var list api.AnalysisList
	if decodeJSON(listResp, &list) == nil {
		printStatus("Analyses", "%d", list.TotalCount)
	}
	return true
}

func sinkLabel(s config.SinkConfig) string {
	if !s.Enabled {
		return "disabled"
	}
	return s.BaseURL
}
