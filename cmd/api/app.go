package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flicky/marketplace-api/internal/cache"
	"github.com/flicky/marketplace-api/internal/config"
	"github.com/flicky/marketplace-api/internal/service"
	"github.com/flicky/marketplace-api/internal/store"
	"github.com/flicky/marketplace-api/internal/worker"
)

// app holds the connections a command needs. Optional backends stay nil
// when they are not configured.
type app struct {
	cfg *config.Config
	log *slog.Logger

	store  store.Store
	pgPool *pgxpool.Pool
	mongo  *store.Mongo

	redisClient *redis.Client
	amqpConn    *amqp.Connection
	amqpCh      *amqp.Channel

	productCache *cache.ProductCache
}

func openApp(ctx context.Context, cfg *config.Config, log *slog.Logger, withBroker bool) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if withBroker {
		if err := a.openBroker(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(a.cfg.DB.DSN())
		if err != nil {
			return fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = a.cfg.DB.MaxConns

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		a.pgPool = pool
		a.store = store.NewPostgres(pool)
		a.log.Info("connected to PostgreSQL")

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.Mongo.URI))
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return fmt.Errorf("ping MongoDB: %w", err)
		}
		a.mongo = store.NewMongo(client, a.cfg.Mongo.Database)
		a.store = a.mongo
		a.log.Info("connected to MongoDB", "database", a.cfg.Mongo.Database)

	case config.DriverMemory:
		a.store = store.NewMemory()
		a.log.Warn("using in-memory store, data is lost on exit")

	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

func (a *app) openRedis(ctx context.Context) error {
	if !a.cfg.Redis.Enabled() {
		a.log.Info("redis not configured, product cache disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to Redis: %w", err)
	}
	a.redisClient = client
	a.productCache = cache.NewProductCache(client, a.cfg.Redis.ProductTTL, a.log)
	a.log.Info("connected to Redis")
	return nil
}

func (a *app) openBroker() error {
	if !a.cfg.RabbitMQ.Enabled() {
		a.log.Info("rabbitmq not configured, order events disabled")
		return nil
	}
	conn, err := amqp.Dial(a.cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	if err := worker.SetupRabbitMQ(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("setup RabbitMQ: %w", err)
	}
	a.amqpConn, a.amqpCh = conn, ch
	a.log.Info("connected to RabbitMQ")
	return nil
}

// migrate brings the configured backend's schema up to date.
func (a *app) migrate(ctx context.Context) error {
	switch {
	case a.pgPool != nil:
		return store.MigratePostgres(ctx, a.pgPool, a.log)
	case a.mongo != nil:
		return a.mongo.EnsureIndexes(ctx)
	default:
		return nil
	}
}

// publisher returns nil when events are disabled so services drop them.
func (a *app) publisher() service.Publisher {
	if a.amqpCh == nil {
		return nil
	}
	return worker.NewPublisher(a.amqpCh)
}

func (a *app) Close() {
	if a.amqpCh != nil {
		_ = a.amqpCh.Close()
	}
	if a.amqpConn != nil {
		_ = a.amqpConn.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.Close(ctx); err != nil {
			a.log.Error("close store", "error", err)
		}
	}
}
