package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sharetube/roomsync/internal/controller"
	"github.com/sharetube/roomsync/internal/metrics"
	connectioninmemory "github.com/sharetube/roomsync/internal/repository/connection/inmemory"
	actioninmemory "github.com/sharetube/roomsync/internal/repository/action/inmemory"
	actionredis "github.com/sharetube/roomsync/internal/repository/action/redis"
	roominmemory "github.com/sharetube/roomsync/internal/repository/room/inmemory"
	roomredis "github.com/sharetube/roomsync/internal/repository/room/redis"
	"github.com/sharetube/roomsync/internal/service/session"
	"github.com/sharetube/roomsync/pkg/ctxlogger"
	"github.com/sharetube/roomsync/pkg/redisclient"
	"golang.org/x/time/rate"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type AppConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	LogLevel          string        `json:"log_level"`
	Backend           string        `json:"backend"`
	RedisHost         string        `json:"redis_host"`
	RedisPort         int           `json:"redis_port"`
	RedisPassword     string        `json:"-"`
	RoomTTL           time.Duration `json:"room_ttl"`
	TelemetryInterval time.Duration `json:"telemetry_interval"`
	JoinSyncDelay     time.Duration `json:"join_sync_delay"`
	SyncResponder     string        `json:"sync_responder"`
	NotificationLimit int           `json:"notification_limit"`
	NotificationTTL   time.Duration `json:"notification_ttl"`
	WSRateLimit       float64       `json:"ws_rate_limit"`
	WSRateBurst       int           `json:"ws_rate_burst"`
}

func (cfg *AppConfig) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Backend != BackendRedis && cfg.Backend != BackendMemory {
		return fmt.Errorf("backend must be %q or %q, got %q", BackendRedis, BackendMemory, cfg.Backend)
	}
	if _, err := session.ParseResponderPolicy(cfg.SyncResponder); err != nil {
		return err
	}
	if cfg.TelemetryInterval <= 0 {
		return errors.New("telemetry interval must be greater than 0")
	}
	if cfg.JoinSyncDelay < 0 {
		return errors.New("join sync delay must not be negative")
	}
	if cfg.NotificationLimit < 1 {
		return errors.New("notification limit must be greater than 0")
	}
	if cfg.RoomTTL < 0 {
		return errors.New("room ttl must not be negative")
	}
	if cfg.NotificationTTL <= 0 {
		return errors.New("notification ttl must be greater than 0")
	}
	if cfg.WSRateLimit < 0 || cfg.WSRateBurst < 0 {
		return errors.New("websocket rate limit must not be negative")
	}

	return nil
}

func newLogger(cfg *AppConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel)))

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h)
}

// App holds the HTTP handler and the backend connections behind it.
type App struct {
	handler          http.Handler
	closeConnections func()
	closers          []func() error
}

func New(ctx context.Context, cfg *AppConfig, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{}

	var (
		store sessionStore
		bus   sessionBus
	)
	switch cfg.Backend {
	case BackendRedis:
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.closers = append(a.closers, rc.Close)

		store = roomredis.NewRepo(rc, cfg.RoomTTL, logger)
		bus = actionredis.NewBus(rc, logger)
	default:
		store = roominmemory.NewRepo(logger)
		bus = actioninmemory.NewBus(logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	responder, _ := session.ParseResponderPolicy(cfg.SyncResponder)
	sessionCfg := session.DefaultConfig()
	sessionCfg.TelemetryInterval = cfg.TelemetryInterval
	sessionCfg.JoinSyncDelay = cfg.JoinSyncDelay
	sessionCfg.Responder = responder
	sessionCfg.NotificationLimit = cfg.NotificationLimit
	sessionCfg.NotificationTTL = cfg.NotificationTTL
	if cfg.Backend == BackendRedis && cfg.RoomTTL > 0 {
		sessionCfg.KeepAliveInterval = cfg.RoomTTL / 3
	}
	sessionService := session.NewService(store, bus, &sessionCfg, logger, m)

	connRepo := connectioninmemory.NewRepo(logger)
	c := controller.NewController(sessionService, connRepo, m, &controller.Config{
		RateLimit:    rate.Limit(cfg.WSRateLimit),
		RateBurst:    cfg.WSRateBurst,
		WriteTimeout: 10 * time.Second,
	}, logger)
	a.handler = c.GetMux()
	a.closeConnections = c.CloseConnections

	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}

	return errors.Join(errs...)
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: a.Handler()}
	server.RegisterOnShutdown(a.closeConnections)

	// graceful shutdown
	serverCtx, serverStopCtx := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer serverStopCtx()

	shutdownErr := make(chan error, 1)
	go func() {
		<-serverCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(serverCtx), 30*time.Second)
		defer cancel()

		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr, "backend", cfg.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.InfoContext(ctx, "server stopped")

	return nil
}
