// Ttakmal - terminal chat client
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/ashureev/ttakmal/internal/chat"
	"github.com/ashureev/ttakmal/internal/client"
	"github.com/ashureev/ttakmal/internal/config"
	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/offline"
	"github.com/ashureev/ttakmal/internal/quotebot"
	"github.com/ashureev/ttakmal/internal/store"
	"github.com/ashureev/ttakmal/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file.
	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	updates := tui.NewUpdates()
	session := chat.NewSession(chat.Options{
		Backend:         backend,
		Navigator:       chat.NavigatorFunc(func(url string) { logger.Info("Navigating to result", "url", url) }),
		EnableStreaming: cfg.EnableStreaming,
		Development:     cfg.IsDevelopment(),
		MaxUserTurns:    cfg.MaxUserTurns,
		NavigateDelay:   cfg.NavigateDelay,
		ResultBaseURL:   cfg.ResultBaseURL,
		Logger:          logger,
		OnChange:        updates.Publish,
	})
	defer session.Close()

	logger.Info("Chat session started",
		"user_id", session.UserID(),
		"thread_num", session.ThreadNum(),
		"offline", cfg.OfflineMode,
		"streaming", cfg.EnableStreaming,
		"protocol", cfg.StreamProtocol,
	)

	model := tui.New(ctx, session, updates)
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run ui: %w", err)
	}

	if url := model.ResultURL(); url != "" {
		fmt.Println("오늘의 명언이 준비되었어요:")
		fmt.Println(url)
	}
	return nil
}

func openLogger(cfg *config.ClientConfig) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

// newBackend picks the transport once at startup: the in-process simulator
// when offline, otherwise the HTTP client.
func newBackend(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (chat.Backend, error) {
	if cfg.OfflineMode {
		fixtures, err := quotebot.DefaultFixtures()
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		engine := quotebot.New(store.NewMemory(), fixtures, quotebot.WithLogger(logger))
		return offline.New(engine, offline.Options{
			PollInterval: cfg.PollingInterval,
			Logger:       logger,
		}), nil
	}

	c := client.New(cfg.APIBaseURL,
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		client.WithPollInterval(cfg.PollingInterval),
		client.WithLogger(logger),
	)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if h, err := c.Health(healthCtx); err != nil {
		logger.Warn("Backend health check failed", "url", c.BaseURL(), "error", err)
	} else {
		logger.Info("Backend reachable", "url", c.BaseURL(), "status", h.Status)
	}

	if cfg.StreamProtocol == config.ProtocolWebSocket {
		return webSocketBackend{c}, nil
	}
	return c, nil
}

// webSocketBackend streams over GET /chat/ws instead of SSE.
type webSocketBackend struct {
	*client.Client
}

func (b webSocketBackend) CreateStreamingConnection(
	ctx context.Context,
	userID, threadNum string,
	onChunk func(domain.StreamChunk),
	onError func(error),
	onComplete func(),
) domain.StopFunc {
	return b.CreateWebSocketConnection(ctx, userID, threadNum, onChunk, onError, onComplete)
}
