package backends

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"kickoff/internal/backends/ddb"
	"kickoff/internal/backends/memory"
	"kickoff/internal/ports"
	"kickoff/internal/types"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redisbackend "kickoff/internal/backends/redis"
	sqlitebackend "kickoff/internal/backends/sqlite"
)

const (
	CacheBackendEnvKey   = "CACHE_BACKEND"
	CounterBackendEnvKey = "COUNTER_BACKEND"
	BackendDDB           = "ddb"
	BackendRedis         = "redis"
	BackendSQLite        = "sqlite"
	BackendMemory        = "memory"

	DDBEndpointKey = "DDB_ENDPOINT"
	DDBTableKey    = "DDB_TABLE"
	defaultTable   = "kickoff_cache"

	SQLitePathKey = "SQLITE_PATH"

	RedisHost  = "REDIS_HOST"
	RedisPort  = "REDIS_PORT"
	RedisUser  = "REDIS_USER"
	RedisPass  = "REDIS_PASS"
	RedisTLS   = "REDIS_SSL"
	RedisDBNum = "REDIS_DB_NUM"
)
const AmazonRootCA1PEM = `-----BEGIN CERTIFICATE-----
MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
ADA5MQswCQYDVQQGEwJVUzEPMA0GA1UEChMGQW1hem9uMRkwFwYDVQQDExBBbWF6
b24gUm9vdCBDQSAxMB4XDTE1MDUyNjAwMDAwMFoXDTM4MDExNzAwMDAwMFowOTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoTBkFtYXpvbjEZMBcGA1UEAxMQQW1hem9uIFJv
b3QgQ0EgMTCCASIwDQYJKoZIhvcNAQEBBQADggEPADCCAQoCggEBALJ4gHHKeNXj
ca9HgFB0fW7Y14h29Jlo91ghYPl0hAEvrAIthtOgQ3pOsqTQNroBvo3bSMgHFzZM
9O6II8c+6zf1tRn4SWiw3te5djgdYZ6k/oI2peVKVuRF4fn9tBb6dNqcmzU5L/qw
IFAGbHrQgLKm+a/sRxmPUDgH3KKHOVj4utWp+UhnMJbulHheb4mjUcAwhmahRWa6
VOujw5H5SNz/0egwLX0tdHA114gk957EWW67c4cX8jJGKLhD+rcdqsq08p8kDi1L
93FcXmn/6pUCyziKrlA4b9v7LWIbxcceVOF34GfID5yHI9Y/QCB/IIDEgEw+OyQm
jgSubJrIqg0CAwEAAaNCMEAwDwYDVR0TAQH/BAUwAwEB/zAOBgNVHQ8BAf8EBAMC
AYYwHQYDVR0OBBYEFIQYzIU07LwMlJQuCFmcx7IQTgoIMA0GCSqGSIb3DQEBCwUA
A4IBAQCY8jdaQZChGsV2USggNiMOruYou6r4lK5IpDB/G/wkjUu0yKGX9rbxenDI
U5PMCCjjmCXPI6T53iHTfIUJrU6adTrCC2qJeHZERxhlbI1Bjjt/msv0tadQ1wUs
N+gDS63pYaACbvXy8MWy7Vu33PqUXHeeE6V/Uq2V8viTO96LXFvKWlJbYK8U90vv
o/ufQJVtMVT8QtPHRh8jrdkPSHCa2XV4cdFyQzR1bldZwgJcJmApzyMZFo6IQ6XU
5MsI+yMRQ+hDKXJioaldXgjUkK642M4UwtBV8ob2xJNDd2ZhwLnoQdeXeGADbkpy
rqXRfboQnoZsG4q5WTP468SQvvG5
-----END CERTIFICATE-----`

// builders constructs one kind of store on each backend.
type builders[T any] struct {
	redis  func(cli *redis.Client) T
	memory func() T
	sqlite func(db *sql.DB) (T, error)
	ddb    func(table string, cli *dynamodb.Client) T
}

// fromEnv picks the backend named by envKey. Unset or unrecognized names use DynamoDB.
func fromEnv[T any](envKey string, b builders[T]) (T, error) {
	var zero T
	name := os.Getenv(envKey)
	log.WithFields(log.Fields{"key": envKey, "backend": name}).Debug("selecting backend")
	switch name {
	case BackendRedis:
		cli, err := redisClientFromEnv()
		if err != nil {
			return zero, err
		}
		return b.redis(cli), nil
	case BackendMemory:
		return b.memory(), nil
	case BackendSQLite:
		db, err := sqliteFromEnv()
		if err != nil {
			return zero, err
		}
		return b.sqlite(db)
	default:
		cli, err := ddbClientFromEnv()
		if err != nil {
			return zero, err
		}
		return b.ddb(getenv(DDBTableKey, defaultTable), cli), nil
	}
}

// CacheBackendFromEnv constructs the cache document store from CACHE_BACKEND:
// "ddb" (DynamoDB, the default), "redis", "sqlite" (file at SQLITE_PATH) or
// "memory" (process local, nothing persisted).
func CacheBackendFromEnv() (ports.CacheBackend, error) {
	return fromEnv(CacheBackendEnvKey, builders[ports.CacheBackend]{
		redis:  func(cli *redis.Client) ports.CacheBackend { return redisbackend.NewCacheStore(cli) },
		memory: func() ports.CacheBackend { return memory.NewCacheStore() },
		sqlite: func(db *sql.DB) (ports.CacheBackend, error) {
			store, err := sqlitebackend.NewCacheStore(db)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		ddb: func(table string, cli *dynamodb.Client) ports.CacheBackend { return ddb.NewCacheStore(table, cli) },
	})
}

// CounterBackendFromEnv constructs the CounterStore from COUNTER_BACKEND, with
// the same choices as CacheBackendFromEnv.
func CounterBackendFromEnv() (ports.CounterStore, error) {
	return fromEnv(CounterBackendEnvKey, builders[ports.CounterStore]{
		redis:  func(cli *redis.Client) ports.CounterStore { return redisbackend.NewCounterStore(cli) },
		memory: func() ports.CounterStore { return memory.NewCounterStore() },
		sqlite: func(db *sql.DB) (ports.CounterStore, error) {
			store, err := sqlitebackend.NewCounterStore(db)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		ddb: func(table string, cli *dynamodb.Client) ports.CounterStore { return ddb.NewCounterStore(table, cli) },
	})
}

var (
	sqliteOnce sync.Once
	sqliteDB   *sql.DB
	sqliteErr  error
)

// sqliteFromEnv opens the database at SQLITE_PATH once per process so the cache
// and counter stores share a single handle.
func sqliteFromEnv() (*sql.DB, error) {
	sqliteOnce.Do(func() {
		sqliteDB, sqliteErr = sqlitebackend.Open(getenv(SQLitePathKey, "kickoff.db"))
	})
	return sqliteDB, sqliteErr
}

// ddbClientFromEnv creates a DynamoDB client from environment variables, if any.
func ddbClientFromEnv() (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := os.Getenv(DDBEndpointKey)
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint == "" {
			return
		}
		// local emulator
		o.BaseEndpoint = aws.String(endpoint)
		o.Region = getenv("AWS_REGION", "us-east-1")
		o.Credentials = credentials.NewStaticCredentialsProvider(
			getenv("AWS_ACCESS_KEY_ID", "x"),
			getenv("AWS_SECRET_ACCESS_KEY", "x"),
			"",
		)
	}), nil
}

// redisClientFromEnv creates a Redis client from environment variables, if any.
func redisClientFromEnv() (*redis.Client, error) {
	host := getenv(RedisHost, "localhost")
	port := getenv(RedisPort, "6379")
	user := os.Getenv(RedisUser)
	pass := os.Getenv(RedisPass)
	tlsEnabled := parseBoolean(getenv(RedisTLS, "false"))
	dbNum, err := strconv.Atoi(getenv(RedisDBNum, "0"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", RedisDBNum, err)
	}

	var tlsConfig *tls.Config
	if tlsEnabled {
		// Create a CA certificate pool and add our CA certificate
		caCerts := x509.NewCertPool()
		if !caCerts.AppendCertsFromPEM([]byte(AmazonRootCA1PEM)) {
			return nil, fmt.Errorf("failed to retrieve CA certificate")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCerts,
		}
	}

	cli := redis.NewClient(&redis.Options{
		Addr:      net.JoinHostPort(host, port),
		Username:  user,
		Password:  pass,
		DB:        dbNum,
		TLSConfig: tlsConfig,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, types.Err(types.ErrServiceUnavailable, err, "ping redis %s", cli.Options().Addr)
	}
	return cli, nil
}

// getenv retrieves the value of the environment variable named by the key.
func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func parseBoolean(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
