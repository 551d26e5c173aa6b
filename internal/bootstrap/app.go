package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	appsvc "wellness-sessions/internal/app"
	"wellness-sessions/internal/cache"
	"wellness-sessions/internal/config"
	"wellness-sessions/internal/model"
	mysqlClient "wellness-sessions/internal/platform/mysql"
	postgresClient "wellness-sessions/internal/platform/postgres"
	rabbitmqClient "wellness-sessions/internal/platform/rabbitmq"
	redisClient "wellness-sessions/internal/platform/redis"
	"wellness-sessions/internal/repository"
	"wellness-sessions/internal/storage/memory"
	"wellness-sessions/internal/worker"
)

type App struct {
	Config *config.Config
	Logger zerolog.Logger

	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Users          appsvc.UserStore
	Sessions       appsvc.SessionStore
	ListingCache   appsvc.ListingCache
	EventPublisher appsvc.SessionEventPublisher
	ListingWorker  *worker.ListingInvalidationWorker

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		StartedAt: time.Now(),
	}

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Redis = redisCli
		a.ListingCache = cache.NewListingCache(redisCli, time.Duration(cfg.Listing.CacheTTLSeconds)*time.Second)
	}

	switch {
	case usesEventQueue(cfg):
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.App.Name, cfg.RabbitMQ.SessionEventsQueue)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.MQConn = mqConn

		a.ListingWorker = worker.NewListingInvalidationWorker(mqConn, a.ListingCache, cfg.RabbitMQ.SessionEventsQueue, logger)
		if err := a.ListingWorker.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("start listing worker failed: %w", err)
		}
		a.EventPublisher = rabbitmqClient.NewSessionEventPublisher(mqConn, cfg.RabbitMQ.SessionEventsQueue)
	case cfg.RabbitMQ.Enabled:
		logger.Warn().Msg("rabbitmq enabled without redis, session events stay in-process")
	}

	logger.Info().
		Str("store", cfg.Store.Driver).
		Bool("redis", a.Redis != nil).
		Bool("rabbitmq", a.MQConn != nil).
		Msg("dependencies ready")
	return a, nil
}

// usesEventQueue reports whether session events go through the broker. The
// only consumer invalidates the listing cache, so without redis nothing would
// drain the queue.
func usesEventQueue(cfg *config.Config) bool {
	return cfg.RabbitMQ.Enabled && cfg.Redis.Enabled
}

func (a *App) openStore(ctx context.Context) error {
	var (
		db  *gorm.DB
		err error
	)
	switch a.Config.Store.Driver {
	case config.StoreMemory:
		users := memory.NewUserStore()
		a.Users = users
		a.Sessions = memory.NewSessionStore(users)
		return nil
	case config.StorePostgres:
		db, err = postgresClient.New(ctx, a.Config.Postgres.DSN)
	default:
		db, err = mysqlClient.New(ctx, a.Config.MySQLDSN())
	}
	if err != nil {
		return err
	}
	a.DB = db

	if a.Config.Store.AutoMigrate {
		if err := db.AutoMigrate(&model.User{}, &model.Session{}, &model.SessionTag{}); err != nil {
			return fmt.Errorf("auto migrate tables failed: %w", err)
		}
	}

	a.Users = repository.NewUserRepository(db)
	a.Sessions = repository.NewSessionRepository(db)
	return nil
}

// NewSessionService builds the workflow engine over the wired dependencies.
func (a *App) NewSessionService() *appsvc.SessionService {
	return appsvc.NewSessionService(
		a.Sessions,
		a.EventPublisher,
		a.ListingCache,
		appsvc.PageSizeConfig{
			Default: a.Config.Listing.DefaultPageSize,
			Max:     a.Config.Listing.MaxPageSize,
		},
		a.Logger.With().Str("component", "session_service").Logger(),
	)
}

func (a *App) NewAuthService() *appsvc.AuthService {
	return appsvc.NewAuthService(
		a.Users,
		a.Config.Auth.JWTSecret,
		time.Duration(a.Config.Auth.JWTExpireMinute)*time.Minute,
	)
}

func (a *App) Close() error {
	var closeErr error
	if a.ListingWorker != nil {
		a.ListingWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
