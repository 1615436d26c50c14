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

	"socialpublish/internal/config"
)

type IntegrationSuite struct {
	T     *testing.T
	DB    *sql.DB
	Redis *redis.Client
	NSQ   *nsq.Producer

	// Containers
	pgContainer    *postgres.PostgresContainer
	redisContainer testcontainers.Container
	nsqContainer   testcontainers.Container

	pgHost    string
	pgPort    int
	redisAddr string
	nsqdAddr  string
	nsqdHTTP  string
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// Setup starts Postgres with migrations applied. Redis and NSQ are started only
// when requested.
func (s *IntegrationSuite) Setup(opts ...Option) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("socialpublish_test"),
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

	s.pgHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.pgPort = pgPort.Int()

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. Redis
	if o.redis {
		redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(s.T, err)
		s.redisContainer = redisC

		host, err := redisC.Host(ctx)
		require.NoError(s.T, err)
		port, err := redisC.MappedPort(ctx, "6379")
		require.NoError(s.T, err)

		s.redisAddr = fmt.Sprintf("%s:%s", host, port.Port())
		s.Redis = redis.NewClient(&redis.Options{Addr: s.redisAddr})
		require.NoError(s.T, s.Redis.Ping(ctx).Err())
	}

	// 3. NSQ
	if o.nsq {
		nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "nsqio/nsq:v1.3.0",
				ExposedPorts: []string{"4150/tcp", "4151/tcp"},
				Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
				WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(s.T, err)
		s.nsqContainer = nsqC

		nsqHost, err := nsqC.Host(ctx)
		require.NoError(s.T, err)
		nsqPort, err := nsqC.MappedPort(ctx, "4150")
		require.NoError(s.T, err)
		nsqHTTPPort, err := nsqC.MappedPort(ctx, "4151")
		require.NoError(s.T, err)
		s.nsqdAddr = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
		s.nsqdHTTP = fmt.Sprintf("%s:%s", nsqHost, nsqHTTPPort.Port())

		s.NSQ, err = nsq.NewProducer(s.nsqdAddr, nsq.NewConfig())
		require.NoError(s.T, err)
	}
}

// GetAppConfig returns a config pointing at the suite's containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		DBHost:                     s.pgHost,
		DBPort:                     s.pgPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "socialpublish_test",
		RedisURL:                   s.redisAddr,
		NSQDHost:                   s.nsqdAddr,
		NSQDHTTP:                   s.nsqdHTTP,
		EnableAPI:                  true,
		ServerPort:                 8081,
		SettingsURL:                "/panel/configuraciones",
		MetaGraphVersion:           "v19.0",
		MetaGraphURL:               "https://graph.facebook.com",
		MetaDialogURL:              "https://www.facebook.com",
		MetaHTTPTimeout:            5 * time.Second,
		LoginMode:                  "legacy",
		OAuthStateTTL:              10 * time.Minute,
		RetryBaseDelay:             time.Minute,
		RetryMaxDelay:              30 * time.Minute,
		MaxAttempts:                5,
		ProcessingLease:            15 * time.Minute,
		TokenRefreshWindow:         7 * 24 * time.Hour,
		TokenRefreshBatch:          25,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
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

type options struct {
	redis bool
	nsq   bool
}

type Option func(*options)

func WithRedis() Option {
	return func(o *options) { o.redis = true }
}

func WithNSQ() Option {
	return func(o *options) { o.nsq = true }
}
