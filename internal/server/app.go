package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go-foodie/internal/chat"
	"go-foodie/internal/config"
	"go-foodie/internal/db"
	myMiddleware "go-foodie/internal/middleware"
	"go-foodie/internal/notification"
	"go-foodie/internal/realtime"
	"go-foodie/internal/user"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App is one server instance: record store, fan-out broker, hub and HTTP routes.
type App struct {
	Router http.Handler
	Users  *user.Service
	Chat   *chat.Service
	Notify *notification.Service
	Hub    *realtime.Hub

	log     *zap.Logger
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{log: log}

	var (
		userStore  user.Store
		chatRepo   chat.Repository
		notifyRepo notification.Repository
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		database, err := db.NewDatabase(ctx, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.closers = append(app.closers, database.Close)
		log.Info("connected to postgres")

		if err := database.AutoMigrate(ctx); err != nil {
			app.Close()
			return nil, err
		}
		log.Info("database schema initialized")

		userStore = user.NewRepository(database.Conn)
		chatRepo = chat.NewRepository(database.Conn)
		notifyRepo = notification.NewRepository(database.Conn)
	default:
		users := user.NewMemoryRepository()
		userStore = users
		chatRepo = chat.NewMemoryRepository(users.Exists)
		notifyRepo = notification.NewMemoryRepository(users.Exists)
		log.Warn("using in-memory record store; data is lost on restart")
	}

	var broker realtime.Broker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			app.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		broker = realtime.NewRedisBroker(rdb)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		broker = realtime.NewMemoryBroker()
		log.Warn("using in-process broker; fan-out is limited to this instance")
	}
	publisher := realtime.NewPublisher(broker)

	app.Users = user.NewService(userStore, cfg.JWTSecret, cfg.TokenTTL)
	app.Chat = chat.NewService(chatRepo, publisher, log)
	app.Notify = notification.NewService(notifyRepo, publisher, log)
	app.Hub = realtime.NewHub(broker, realtime.NewChannelAuthorizer(app.Chat), log)

	app.Router = NewRouter(Handlers{
		Users:         user.NewHandler(app.Users, log),
		Chat:          chat.NewHandler(app.Chat, log, cfg.DefaultPageSize, cfg.MaxPageSize),
		Notifications: notification.NewHandler(app.Notify, log, cfg.MaxPageSize),
		Realtime:      realtime.NewHandler(app.Hub),
		Auth:          myMiddleware.NewAuthMiddleware(app.Users),
	})
	return app, nil
}

// Start runs the hub until ctx ends. It returns after the broker subscription is live.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Run(ctx)
	if err := a.Hub.Listen(ctx); err != nil {
		return err
	}
	a.log.Info("hub listening for fan-out events")
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
