package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/database"
	"lectern/internal/generator"
	"lectern/internal/hub"
	"lectern/internal/router"
	"lectern/internal/session"
	"lectern/internal/transcript"
	"lectern/internal/websocket"
	pkgdatabase "lectern/pkg/database"
	"lectern/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      *database.Manager
	hub        *hub.Hub
	sessions   *session.Manager
	router     *router.Router
	trigger    *transcript.Trigger
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// Option customizes construction.
type Option func(*options)

type options struct {
	generator interfaces.QuestionGenerator
}

// WithGenerator replaces the Ark-backed generator.
func WithGenerator(g interfaces.QuestionGenerator) Option {
	return func(o *options) { o.generator = g }
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Hub → Session → Router → Generator → Trigger → API → HTTP
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// STEP 1: Initialize database manager (foundation layer, migrations included)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.WriteQueueSize = cfg.Database.WriteQueueSize
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Hub and session lifecycle
	messageHub := hub.NewHub()
	sessions := session.NewManager(store, messageHub)
	if _, err := sessions.CloseStale(context.Background()); err != nil {
		store.Close()
		return nil, err
	}

	// STEP 3: Inbound routing
	messageRouter := router.NewRouter(sessions, store, cfg.WebSocket.RateLimit)

	// STEP 4: Question generator
	gen := o.generator
	if gen == nil {
		gen, err = newGenerator(cfg.AI)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	// STEP 5: Generation trigger
	trigger := transcript.NewTrigger(transcript.Config{
		Interval:      cfg.Generation.Interval,
		MinLength:     cfg.Generation.MinLength,
		CheckInterval: cfg.Generation.CheckInterval,
		Timeout:       cfg.Generation.Timeout,
	}, sessions, gen, store, messageHub)

	// STEP 6: WebSocket handler and API server
	wsConfig := websocket.DefaultConfig()
	wsConfig.WriteQueueSize = cfg.WebSocket.BufferSize
	wsConfig.WriteTimeout = cfg.WebSocket.WriteTimeout
	wsConfig.ReadTimeout = cfg.WebSocket.ReadTimeout
	wsConfig.PingInterval = cfg.WebSocket.PingInterval
	wsConfig.MaxMessageBytes = cfg.WebSocket.MaxMessageBytes
	wsHandler := websocket.NewHandler(sessions, messageRouter, wsConfig)

	apiServer := api.NewServer(sessions, store, messageHub, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		hub:        messageHub,
		sessions:   sessions,
		router:     messageRouter,
		trigger:    trigger,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// newGenerator builds the Ark chain, or a generator that always fails when
// no model is configured.
func newGenerator(ai *config.AIConfig) (interfaces.QuestionGenerator, error) {
	if !ai.Enabled() {
		log.Printf("AI model not configured; question generation will report failures")
		return generator.Unavailable{}, nil
	}

	ctx := context.Background()
	chatModel, err := ai.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	svc, err := generator.NewService(ctx, chatModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create question generator: %w", err)
	}
	log.Printf("Question generator using model %s", ai.Model)
	return svc, nil
}

// Start launches the trigger and begins serving HTTP. It returns once the
// listener is bound.
func (app *Application) Start(ctx context.Context) error {
	if err := app.trigger.Start(ctx); err != nil {
		return fmt.Errorf("failed to start generation trigger: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.trigger.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = ln
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("lectern listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Trigger → Sessions → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down lectern")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Let in-flight generations finish
	if err := app.trigger.Stop(); err != nil && !errors.Is(err, transcript.ErrTriggerNotRunning) {
		log.Printf("Trigger shutdown error: %v", err)
	}

	// STEP 3: Tell clients and persist closed sessions
	if n := app.sessions.CloseAll(ctx); n > 0 {
		log.Printf("Closed %d live sessions", n)
	}

	// STEP 4: Close database connections
	if err := app.store.Close(); err != nil {
		return fmt.Errorf("database shutdown error: %w", err)
	}

	log.Printf("lectern shutdown complete")
	return nil
}

// Addr is the bound listen address once started, otherwise the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the routed HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Trigger exposes the generation trigger, mainly for driving sweeps in tests.
func (app *Application) Trigger() *transcript.Trigger {
	return app.trigger
}
