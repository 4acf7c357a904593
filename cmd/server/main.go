package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchchat/internal/config"
	"matchchat/internal/domain"
	"matchchat/internal/handler"
	"matchchat/internal/middleware"
	"matchchat/internal/realtime"
	"matchchat/internal/repository"
	"matchchat/internal/repository/memory"
	"matchchat/internal/service"
	"matchchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.NewWithFormat(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к Redis
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
	}

	repos, closeStore := openStore(ctx, cfg, rdb, appLogger)
	defer closeStore()

	// Без Redis счетчики лимитов живут в памяти инстанса.
	if repos.RateLimit == nil {
		appLogger.Warn("Redis disabled, rate limit counters are per instance")
		repos.RateLimit = memory.NewRateLimitRepository()
	}

	relay, err := newRelay(cfg, rdb, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create event relay", "error", err)
	}
	broker := realtime.NewBroker(cfg.WS.Buffer, relay, appLogger)
	defer broker.Close()
	// Цикл чтения релея перезапускается до остановки сервера.
	go broker.Run(ctx)

	// Инициализация сервисов
	services := service.NewServices(repos, broker, service.OptionsFromConfig(cfg.Chat), appLogger)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, domain.RateLimitRule{
		Scope:  domain.RateLimitScopeIP,
		Limit:  cfg.Chat.IPRatePerMinute,
		Window: time.Minute,
	}, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, repos, broker, cfg, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// WriteTimeout не задаем: он обрывал бы долгие WebSocket-соединения.
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Driver, "relay", cfg.Events.Relay)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Сначала закрываем подписки, чтобы WebSocket-обработчики завершились.
	_ = broker.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, appLogger logger.Logger) (*repository.Repositories, func()) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		appLogger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewRepositories(memory.NewStore()), func() {}
	}

	// Подключение к PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Invalid database DSN", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}

	// Проверка подключения к БД
	if err := dbPool.Ping(ctx); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := repository.EnsureSchema(ctx, dbPool); err != nil {
			appLogger.Fatal("Failed to apply schema", "error", err)
		}
		appLogger.Info("Database schema applied")
	}

	return repository.NewRepositories(dbPool, rdb, cfg.Chat.ProfileCacheTTL, appLogger), dbPool.Close
}

func newRelay(cfg *config.Config, rdb *redis.Client, appLogger logger.Logger) (realtime.Relay, error) {
	switch cfg.Events.Relay {
	case config.RelayRedis:
		return realtime.NewRedisRelay(rdb, cfg.Events.RedisChannel, appLogger), nil
	case config.RelayKafka:
		return realtime.NewKafkaRelay(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic, cfg.Events.Kafka.GroupPrefix, appLogger)
	default:
		return nil, nil
	}
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	handlers.Register(router, authMiddleware.RequireAuth(), rateLimitMiddleware.Limit())
	return router
}
