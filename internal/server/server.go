package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Nzyazin/ledger/internal/core/events"
	"github.com/Nzyazin/ledger/internal/core/handler"
	"github.com/Nzyazin/ledger/internal/core/lock"
	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/metrics"
	middlWre "github.com/Nzyazin/ledger/internal/core/middleware"
	"github.com/Nzyazin/ledger/internal/core/repository"
	"github.com/Nzyazin/ledger/internal/core/repository/memory"
	"github.com/Nzyazin/ledger/internal/core/repository/postgres"
	"github.com/Nzyazin/ledger/internal/core/usecase"
	"github.com/Nzyazin/ledger/pkg/config"
	"github.com/Nzyazin/ledger/pkg/postgresdb"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

type Server struct {
	router        *mux.Router
	log           logger.Logger
	cfg           *config.Config
	httpServer    *http.Server
	walletHandler *handler.WalletHandler
	db            *postgresdb.Database
	redis         *redis.Client
	dispatcher    *events.Dispatcher
}

func NewServer(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *Server, err error) {
	metrics.Init()

	s := &Server{
		log:    log,
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	defer func() {
		if err != nil {
			_ = s.closeResources(context.Background())
		}
	}()

	store, err := s.newStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.NeedsRedis() {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		log.Info("Connected to redis", logger.StringField("addr", cfg.Redis.Addr))
	}

	locks := s.newLockManager()
	s.dispatcher = events.NewDispatcher(s.newPublisher(), cfg.Events.Workers, cfg.Events.QueueSize, log)

	ucCfg, err := usecaseConfig(cfg.Ledger)
	if err != nil {
		return nil, err
	}

	walletUsecase := usecase.NewWalletUsecase(store, locks, s.dispatcher, ucCfg, log)
	s.walletHandler = handler.NewWalletHandler(walletUsecase, log)

	s.router.Use(loggingMiddleware(s.log))

	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})

	s.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	s.RegisterRoutes()

	log.Info("Ledger configured",
		logger.StringField("store", cfg.Ledger.Store),
		logger.StringField("lock_strategy", cfg.Ledger.LockStrategy),
		logger.StringField("event_bus", cfg.Events.Bus),
		logger.StringField("fee_policy", cfg.Ledger.FeePolicy))

	return s, nil
}

func (s *Server) newStore(ctx context.Context) (repository.Store, error) {
	if s.cfg.Ledger.Store == "memory" {
		s.log.Warn("Using in-memory store, balances are lost on restart")
		return memory.NewStore(), nil
	}

	db, err := postgresdb.NewPostgresDB(ctx, s.cfg.DB, s.log)
	if err != nil {
		return nil, err
	}
	s.db = db

	if s.cfg.DB.AutoMigrate {
		if err := db.Migrate(); err != nil {
			return nil, err
		}
	}
	return postgres.NewStore(db.DB, s.log, s.cfg.Ledger.LockTimeout), nil
}

func (s *Server) newLockManager() lock.Manager {
	switch s.cfg.Ledger.LockStrategy {
	case "redis":
		return lock.NewRedisManager(s.redis, s.cfg.Ledger.LockTimeout, s.cfg.Ledger.LockTTL, s.log)
	case "row":
		return lock.NewRowManager(s.cfg.Ledger.LockTimeout, s.log)
	}
	return lock.NewMemoryManager(s.cfg.Ledger.LockTimeout, s.log)
}

func (s *Server) newPublisher() events.Publisher {
	switch s.cfg.Events.Bus {
	case "kafka":
		return events.NewKafkaPublisher(s.cfg.Kafka, s.log)
	case "redis":
		return events.NewRedisPublisher(s.redis, s.cfg.Events.RedisChannel)
	}
	return events.NewLogPublisher(s.log)
}

func usecaseConfig(cfg config.LedgerConfig) (usecase.Config, error) {
	out := usecase.Config{
		FeePolicy:     usecase.FeePolicy(cfg.FeePolicy),
		UniqueWallets: cfg.UniqueWallets,
		RecordFailed:  cfg.RecordFailed,
	}
	if out.FeePolicy == usecase.FeePlatform {
		id, err := uuid.Parse(cfg.PlatformWalletID)
		if err != nil {
			return out, fmt.Errorf("invalid LEDGER_PLATFORM_WALLET_ID: %w", err)
		}
		out.PlatformWalletID = id
	}
	return out, nil
}

func (s *Server) RegisterRoutes() {
	s.router.Use(
		middlWre.WithErrorHandler(s.log),
		middlWre.Recovery(s.log),
	)
	s.walletHandler.RegisterRoutes(s.router)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Warn("Health check: database unavailable", logger.ErrorField("error", err))
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
	}
	if s.redis != nil && code == http.StatusOK {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.log.Warn("Health check: redis unavailable", logger.ErrorField("error", err))
			status, code = "redis unavailable", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%q}`, status)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	s.httpServer = srv

	return srv.ListenAndServe()
}

// Shutdown stops accepting requests, drains the event queue, then closes redis
// and the database.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}
		shutdownErr = errors.Join(shutdownErr, s.closeResources(ctx))
		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) closeResources(ctx context.Context) error {
	var errs []error
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			s.log.Error("failed to close event publisher", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("event publisher shutdown error: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Error("failed to close redis connection", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("redis shutdown error: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database connection", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("database shutdown error: %w", err))
		}
	}
	return errors.Join(errs...)
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("HTTP request",
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.StringField("remote_addr", r.RemoteAddr),
				logger.StringField("user_agent", r.UserAgent()),
			)
			next.ServeHTTP(w, r)
		})
	}
}
