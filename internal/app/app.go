// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/wingedpig/trellis/internal/api"
	"github.com/wingedpig/trellis/internal/bridge/chat"
	"github.com/wingedpig/trellis/internal/bridge/monitor"
	"github.com/wingedpig/trellis/internal/bridge/poller"
	"github.com/wingedpig/trellis/internal/bridge/queue"
	"github.com/wingedpig/trellis/internal/bridge/store"
	"github.com/wingedpig/trellis/internal/config"
	"github.com/wingedpig/trellis/internal/events"
	"github.com/wingedpig/trellis/internal/terminal"
)

// App wires the chat dispatcher, transcript monitor, pane poller, and
// outbound queue into a single supervised process.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config
	eventBus   events.EventBus

	driver     terminal.Driver
	store      *store.Store
	monitor    *monitor.Monitor
	dispatcher *queue.Dispatcher
	poller     *poller.Poller
	chat       *chat.Dispatcher
	apiServer  *api.Server

	group  *errgroup.Group
	cancel context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string
}

// New creates a new App instance and loads configuration.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if cfg.Diagnostics.ListenAddr != "" && (opts.Host != "" || opts.Port > 0) {
		if host, port, err := splitListenAddr(cfg.Diagnostics.ListenAddr); err == nil {
			if opts.Host != "" {
				host = opts.Host
			}
			if opts.Port > 0 {
				port = opts.Port
			}
			cfg.Diagnostics.ListenAddr = fmt.Sprintf("%s:%d", host, port)
		}
	}

	expander := config.NewTemplateExpander()
	templateCtx := &config.TemplateContext{
		Project: config.ProjectTemplateData{
			Root: filepath.Dir(mustAbs(opts.ConfigPath)),
			Name: cfg.Project.Name,
		},
	}
	expanded, err := expander.ExpandConfig(cfg, templateCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config templates: %w", err)
	}
	app.config = expanded

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    time.Hour,
	})

	return app, nil
}

func mustAbs(path string) string {
	if path == "" {
		cwd, _ := os.Getwd()
		return cwd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Initialize constructs the multiplexer driver, store, and the bridge's
// component graph, but starts nothing.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if err := os.MkdirAll(cfg.Paths.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir %s: %w", cfg.Paths.StateDir, err)
	}

	app.driver = newDriver(cfg)
	app.store = store.New(filepath.Join(cfg.Paths.StateDir, "state.json"))

	chatCfg := chat.Config{
		AllowedChatIDs:  append(append([]int64{}, cfg.Chat.AllowedRecipients...), cfg.Recipients.Allowed...),
		BrowseStartPath: cfg.Browse.StartPath,
		MuxSessionName:  cfg.Multiplexer.SessionName,
		SessionMapPath:  sessionMapPath(cfg),
	}
	chatDispatcher, err := chat.NewClient(chatCfg, cfg.Chat.Token, app.driver)
	if err != nil {
		return fmt.Errorf("create chat client: %w", err)
	}
	app.chat = chatDispatcher

	app.dispatcher = queue.NewDispatcher(chatDispatcher.ContentSender(), chatDispatcher.PaneStatusReader())

	pollerCfg := poller.Config{
		PollInterval: config.ParseDuration("1s", time.Second),
	}
	app.poller = poller.New(pollerCfg, app.driver, app.store, app.dispatcher, chatDispatcher.InteractiveSender(), chatDispatcher)

	chatDispatcher.Wire(app.store, app.dispatcher, app.poller)

	monitorCfg := monitor.Config{
		ProjectsRoot:     cfg.Paths.TranscriptRoot,
		SessionMapPath:   sessionMapPath(cfg),
		MuxSessionName:   cfg.Multiplexer.SessionName,
		StateFile:        filepath.Join(cfg.Paths.StateDir, "monitor_state.json"),
		PollInterval:     config.ParseDuration(cfg.Monitor.PollInterval, 2*time.Second),
		ShowUserMessages: cfg.Monitor.ShowUserMessages,
	}
	app.monitor = monitor.New(monitorCfg, app.store, app.driver)
	app.monitor.SetCallback(app.deliverTranscriptEvent)

	if cfg.Diagnostics.ListenAddr != "" {
		host, port, err := splitListenAddr(cfg.Diagnostics.ListenAddr)
		if err != nil {
			return fmt.Errorf("diagnostics.listen_addr: %w", err)
		}
		app.apiServer = api.NewServer(
			api.ServerConfig{
				Host:    host,
				Port:    port,
				TLSCert: cfg.Server.TLSCert,
				TLSKey:  cfg.Server.TLSKey,
			},
			api.Dependencies{
				EventBus: app.eventBus,
				Store:    app.store,
				Version:  app.version,
			},
		)
	}

	return nil
}

// deliverTranscriptEvent is the monitor.Callback that fans a parsed
// transcript event out to every recipient currently bound to its window.
// In "interactive" notify mode, routine transcript content is suppressed —
// only the poller's own pane-capture loop surfaces interactive prompts.
func (app *App) deliverTranscriptEvent(msg monitor.Message) {
	if app.config.Notify.Mode == "interactive" {
		return
	}

	for _, b := range app.store.IterBindings() {
		if b.WindowName != msg.WindowName {
			continue
		}
		task := queue.Task{
			Kind:        queue.TaskContent,
			WindowName:  msg.WindowName,
			Parts:       []string{msg.Text},
			ToolUseID:   msg.ToolUseID,
			ContentType: msg.ContentType,
			Text:        msg.Text,
			ThreadID:    b.ThreadID,
			TaskID:      uuid.NewString(),
		}
		app.dispatcher.EnqueueContent(context.Background(), b.ChatID, task)

		if err := app.eventBus.Publish(context.Background(), events.Event{
			ID:        uuid.NewString(),
			Version:   "1.0",
			Type:      events.EventTaskDelivered,
			Timestamp: time.Now(),
			Payload: map[string]interface{}{
				"window":    msg.WindowName,
				"chat_id":   b.ChatID,
				"thread_id": b.ThreadID,
			},
		}); err != nil {
			log.Printf("app: failed to publish event: %v", err)
		}
	}
}

func newDriver(cfg *config.Config) terminal.Driver {
	switch cfg.Multiplexer.Backend {
	case "zellij":
		return terminal.NewZellijDriver(cfg.Multiplexer.SessionName, cfg.Multiplexer.MainWindow, cfg.Assistant.Command)
	default:
		exec := terminal.NewRealTmuxExecutor()
		return terminal.NewTmuxDriver(exec, cfg.Multiplexer.SessionName, cfg.Multiplexer.MainWindow, cfg.Assistant.Command)
	}
}

func sessionMapPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "session_map.json")
}

func splitListenAddr(addr string) (host string, port int, err error) {
	var portStr string
	idx := lastColon(addr)
	if idx < 0 {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	host, portStr = addr[:idx], addr[idx+1:]
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// Start brings up the multiplexer session and begins background work. It
// does not block.
func (app *App) Start(ctx context.Context) error {
	if err := app.driver.EnsureSession(ctx); err != nil {
		return fmt.Errorf("ensure multiplexer session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	app.group = g

	g.Go(func() error {
		return app.store.WatchSessionMap(gctx, sessionMapPath(app.config), app.config.Multiplexer.SessionName)
	})
	g.Go(func() error {
		app.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		app.poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		app.chat.Run(gctx)
		return nil
	})

	if app.apiServer != nil {
		g.Go(func() error {
			if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("diagnostics server: %w", err)
			}
			return nil
		})
	}

	return nil
}

// Run starts the app and blocks until a shutdown signal, context
// cancellation, or explicit Stop.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("context cancelled, shutting down...")
	case <-app.done:
		log.Printf("shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully stops every background task.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("error shutting down diagnostics server: %v", err)
		}
	}

	if app.cancel != nil {
		app.cancel()
	}
	if app.group != nil {
		if err := app.group.Wait(); err != nil {
			log.Printf("background task error: %v", err)
		}
	}

	if app.dispatcher != nil {
		app.dispatcher.Shutdown()
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
