package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"squall/internal/config"
)

// IntegrationSuite starts the backing services a test asks for. Each
// Use* flag enables one container; Setup skips the rest.
type IntegrationSuite struct {
	T     *testing.T
	DB    *sql.DB
	Redis *redis.Client
	NSQ   *nsq.Producer

	NSQDAddr  string
	NSQDHTTP  string
	RedisAddr string

	dbHost string
	dbPort int

	UsePostgres bool
	UseRedis    bool
	UseNSQ      bool

	pgContainer    *postgres.PostgresContainer
	redisContainer testcontainers.Container
	nsqContainer   testcontainers.Container
}

// NewIntegrationSuite enables every service. Callers may switch some off
// before Setup.
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t, UsePostgres: true, UseRedis: true, UseNSQ: true}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()
	if s.UsePostgres {
		s.setupPostgres(ctx)
	}
	if s.UseRedis {
		s.setupRedis(ctx)
	}
	if s.UseNSQ {
		s.setupNSQ(ctx)
	}
}

func (s *IntegrationSuite) setupPostgres(ctx context.Context) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("squall_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbHost, s.dbPort = host, port.Int()

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) setupRedis(ctx context.Context) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.redisContainer = c

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(s.T, err)

	s.RedisAddr = fmt.Sprintf("%s:%s", host, port.Port())
	s.Redis = redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	require.NoError(s.T, s.Redis.Ping(ctx).Err())
}

func (s *IntegrationSuite) setupNSQ(ctx context.Context) {
	req := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = c

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	tcpPort, err := c.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	httpPort, err := c.MappedPort(ctx, "4151")
	require.NoError(s.T, err)

	s.NSQDAddr = fmt.Sprintf("%s:%s", host, tcpPort.Port())
	s.NSQDHTTP = fmt.Sprintf("http://%s:%s", host, httpPort.Port())

	s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a configuration pointing at the running
// containers. Drivers follow the Use* flags.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	_, b, _, _ := runtime.Caller(0)
	cfg := &config.Config{
		StoreDriver:                config.StoreMemory,
		BrokerDriver:               config.BrokerNSQ,
		DBHost:                     s.dbHost,
		DBPort:                     s.dbPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "squall_test",
		DBSSLMode:                  "disable",
		RedisAddr:                  s.RedisAddr,
		RedisPrefix:                "squall_test",
		NSQDHost:                   s.NSQDAddr,
		NSQDHTTP:                   s.NSQDHTTP,
		NSQMaxAttempts:             5,
		AutoCreateTopics:           true,
		MaxProcessingTime:          5 * time.Minute,
		StoreWriteRetries:          1,
		ScanConcurrency:            4,
		MigrationPath:              fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b)),
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
	switch {
	case s.UsePostgres:
		cfg.StoreDriver = config.StorePostgres
	case s.UseRedis:
		cfg.StoreDriver = config.StoreRedis
	}
	return cfg
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.redisContainer != nil {
		s.redisContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
