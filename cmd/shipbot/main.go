package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lojasmm/shipbot/internal/ai"
	"github.com/lojasmm/shipbot/internal/bot"
	"github.com/lojasmm/shipbot/internal/config"
	"github.com/lojasmm/shipbot/internal/dialogue"
	"github.com/lojasmm/shipbot/internal/dispatch"
	"github.com/lojasmm/shipbot/internal/http/middleware"
	"github.com/lojasmm/shipbot/internal/logging"
	"github.com/lojasmm/shipbot/internal/metrics"
	"github.com/lojasmm/shipbot/internal/quote"
	"github.com/lojasmm/shipbot/internal/session"
	"github.com/lojasmm/shipbot/internal/store"
	"github.com/lojasmm/shipbot/internal/whatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("shipbot: config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("shipbot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewDialogueMetrics(reg)

	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	table := quote.DefaultTable()
	flow := dialogue.DefaultFlow(table)
	sessions := session.NewStore(backend, flow.Keys(), session.WithTTL(cfg.SessionTTL))

	engineOpts := []dialogue.Option{
		dialogue.WithLogger(logger.With("component", "dialogue")),
		dialogue.WithMetrics(m),
	}

	var (
		strategy quote.Strategy
		advisor  *ai.Advisor
		runner   *dispatch.Runner[*quote.Outcome]
	)
	switch cfg.QuoteStrategy {
	case config.StrategyLLM:
		completer, err := newCompleter(ctx, cfg, logger)
		if err != nil {
			return err
		}
		advisor = ai.NewAdvisor(completer,
			ai.WithAdvisorLogger(logger.With("component", "advisor")),
			ai.WithAdvisorLocation(cfg.Location),
		)
		strategy = advisor
		runner = dispatch.NewRunner[*quote.Outcome](cfg.QuoteWorkers, cfg.QuoteTimeout, logger.With("component", "dispatch"))
		engineOpts = append(engineOpts, dialogue.WithRunner(runner))
	default:
		strategy = quote.NewCalculator(table, quote.WithLocation(cfg.Location))
	}

	engine := dialogue.NewEngine(flow, sessions, strategy, engineOpts...)

	waClient := whatsapp.NewClient(cfg.WAPhoneNumberID, cfg.WAAccessToken, whatsapp.WithMetrics(m))
	botHandler := bot.NewHandler(waClient, engine, logger)
	webhookHandler := whatsapp.NewWebhookHandler(cfg.WAVerifyToken, botHandler.HandleMessage, logger.With("component", "webhook"))

	go cleanupLoop(ctx, cfg, logger, sessions, advisor, botHandler)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger.With("component", "http")))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/webhook", webhookHandler.HandleVerify)
	r.Post("/webhook", webhookHandler.HandleIncoming)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("shipbot: listening",
			"port", cfg.Port,
			"backend", cfg.SessionBackend,
			"strategy", strategy.Name(),
		)
		logger.Info("shipbot: webhook verify token", "token", cfg.WAVerifyToken)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shipbot: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runner != nil {
		if err := runner.Close(shutdownCtx); err != nil {
			logger.Warn("shipbot: quote workers did not drain", "error", err, "inflight", runner.InFlight())
		}
	}
	logger.Info("shipbot: stopped")
	return nil
}

func newBackend(ctx context.Context, cfg *config.Config) (session.Backend, func(), error) {
	noop := func() {}
	switch cfg.SessionBackend {
	case config.BackendBolt:
		db, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "shipbot.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	case config.BackendRedis:
		client, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTLS)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(client, cfg.SessionTTL), func() { client.Close() }, nil
	case config.BackendDynamoDB:
		client, err := store.NewDynamoClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, nil, err
		}
		db, err := store.NewDynamoStore(client, cfg.DynamoDBTable, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		return db, noop, nil
	default:
		return session.NewMemoryBackend(), noop, nil
	}
}

func newCompleter(ctx context.Context, cfg *config.Config, logger *logging.Logger) (ai.Completer, error) {
	primary, err := newProvider(ctx, cfg, cfg.LLMProvider)
	if err != nil {
		return nil, err
	}
	if cfg.LLMFallback == "" {
		return primary, nil
	}
	fallback, err := newProvider(ctx, cfg, cfg.LLMFallback)
	if err != nil {
		return nil, err
	}
	return ai.NewFallbackCompleter(primary, fallback, logger.With("component", "llm")), nil
}

func newProvider(ctx context.Context, cfg *config.Config, name string) (ai.Completer, error) {
	pc := ai.ProviderConfig{
		APIKey:     cfg.APIKey(name),
		Model:      cfg.Model(name),
		MaxRetries: 2,
	}
	switch name {
	case config.ProviderOpenAI:
		return ai.NewOpenAIClient(pc), nil
	case config.ProviderAnthropic:
		return ai.NewAnthropicClient(pc), nil
	case config.ProviderGemini:
		return ai.NewGeminiClient(ctx, pc)
	}
	return nil, fmt.Errorf("unknown LLM provider %q", name)
}

func cleanupLoop(ctx context.Context, cfg *config.Config, logger *logging.Logger, sessions *session.Store, advisor *ai.Advisor, h *bot.Handler) {
	ticker := time.NewTicker(cfg.LockCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		locks, expired, err := sessions.Cleanup(ctx, cfg.LockMaxAge)
		if err != nil {
			logger.Warn("shipbot: session cleanup failed", "error", err)
		}
		limiters := 0
		if advisor != nil {
			limiters = advisor.Cleanup()
		}
		logger.Debug("shipbot: cleanup",
			"locks", locks,
			"sessions", expired,
			"rate_limiters", limiters,
			"message_ids", h.Sweep(),
		)
	}
}
