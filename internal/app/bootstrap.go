package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"

	amqpadapter "squall/internal/adapter/amqp"
	"squall/internal/adapter/memory"
	nsqadapter "squall/internal/adapter/nsq"
	pgstore "squall/internal/adapter/postgres"
	redisstore "squall/internal/adapter/redis"
	"squall/internal/broker"
	"squall/internal/config"
	"squall/internal/registry"
	"squall/internal/store"
	"squall/internal/worker"
)

type Dependencies struct {
	Store      store.Store
	Broker     *broker.Broker
	Subscriber worker.Subscriber

	DB    *sql.DB
	Redis *redis.Client
	NSQ   *nsq.Producer
	AMQP  *amqpadapter.Client

	Pool *registry.Pool
}

// Close releases every client opened by Bootstrap.
func (d *Dependencies) Close() error {
	return d.Pool.Close()
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{Pool: registry.New()}
	if err := deps.bootstrap(ctx, cfg); err != nil {
		if cerr := deps.Pool.Close(); cerr != nil {
			slog.Warn("failed to release clients after bootstrap error", "error", cerr)
		}
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) bootstrap(ctx context.Context, cfg *config.Config) error {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	var st store.Store
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := openPostgres(ctx, d.Pool, cfg, retryDelay)
		if err != nil {
			return err
		}
		d.DB = db
		st = pgstore.NewStore(db)
	case config.StoreRedis:
		client, err := openRedis(ctx, d.Pool, cfg, retryDelay)
		if err != nil {
			return err
		}
		d.Redis = client
		st = redisstore.NewStore(client, redisstore.WithPrefix(cfg.RedisPrefix))
	case config.StoreMemory:
		slog.Warn("using in-memory store, records will not survive a restart")
		st = memory.NewStore()
	default:
		return fmt.Errorf("%w: STORE_DRIVER %q", config.ErrInvalid, cfg.StoreDriver)
	}
	d.Store = store.WithRetry(st, cfg.StoreWriteRetries)

	var (
		transport broker.Transport
		topics    broker.TopicManager
	)
	switch cfg.BrokerDriver {
	case config.BrokerNSQ:
		producer, err := openNSQ(ctx, d.Pool, cfg, retryDelay)
		if err != nil {
			return err
		}
		d.NSQ = producer
		transport = nsqadapter.NewTransport(producer)
		if cfg.NSQDHTTP != "" {
			topics = nsqadapter.NewTopicAdmin(cfg.NSQDHTTP, nil)
		}
		d.Subscriber = worker.NSQSubscriber{Config: nsqadapter.ConsumerConfig{
			Lookupd:     cfg.NSQLookupd,
			NSQD:        cfg.NSQDHost,
			MaxAttempts: cfg.NSQMaxAttempts,
		}}
	case config.BrokerAMQP:
		client, err := openAMQP(ctx, d.Pool, cfg, retryDelay)
		if err != nil {
			return err
		}
		d.AMQP = client
		transport, topics = client, client
		d.Subscriber = worker.AMQPSubscriber{Client: client}
	default:
		return fmt.Errorf("%w: BROKER_DRIVER %q", config.ErrInvalid, cfg.BrokerDriver)
	}
	d.Broker = broker.New(transport, topics, broker.WithAutoCreate(cfg.AutoCreateTopics))
	return nil
}

func openPostgres(ctx context.Context, pool *registry.Pool, cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := registry.Shared(pool, "postgres", cfg.DSN(), func() (*sql.DB, func() error, error) {
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := WaitFor(ctx, "db", db.PingContext, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, pool *registry.Pool, cfg *config.Config, retryDelay time.Duration) (*redis.Client, error) {
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	key := map[string]any{"addr": opts.Addr, "password": opts.Password, "db": opts.DB}
	client, err := registry.Shared(pool, "redis", key, func() (*redis.Client, func() error, error) {
		c := redis.NewClient(opts)
		return c, c.Close, nil
	})
	if err != nil {
		return nil, err
	}
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := WaitFor(ctx, "redis", ping, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func openNSQ(ctx context.Context, pool *registry.Pool, cfg *config.Config, retryDelay time.Duration) (*nsq.Producer, error) {
	producer, err := registry.Shared(pool, "nsq", cfg.NSQDHost, func() (*nsq.Producer, func() error, error) {
		p, err := nsqadapter.NewProducer(cfg.NSQDHost)
		if err != nil {
			return nil, nil, err
		}
		p.SetLoggerLevel(nsq.LogLevelWarning)
		return p, func() error { p.Stop(); return nil }, nil
	})
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	ping := func(context.Context) error { return producer.Ping() }
	if err := WaitFor(ctx, "nsqd", ping, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("failed to ping nsqd: %w", err)
	}
	return producer, nil
}

func openAMQP(ctx context.Context, pool *registry.Pool, cfg *config.Config, retryDelay time.Duration) (*amqpadapter.Client, error) {
	var client *amqpadapter.Client
	dial := func(context.Context) error {
		c, err := registry.Shared(pool, "amqp", cfg.AMQPURL, func() (*amqpadapter.Client, func() error, error) {
			c, err := amqpadapter.Dial(cfg.AMQPURL)
			if err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		})
		client = c
		return err
	}
	if err := WaitFor(ctx, "amqp", dial, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	return client, nil
}

// WaitFor calls check until it succeeds, giving up after attempts tries.
func WaitFor(ctx context.Context, what string, check func(context.Context) error, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = check(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			slog.Warn("dependency not ready, retrying...", "dependency", what, "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
