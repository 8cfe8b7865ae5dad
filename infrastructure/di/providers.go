// Package di assembles the application object graph at startup. Providers
// are plain functions; no runtime reflection is involved.
package di

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"membank-backend/infrastructure/config"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideRedisClient creates the shared Redis connection pool
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisMaxConnections,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// ProvidePgxPool creates the PostgreSQL connection pool
func ProvidePgxPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.PgPoolSize + cfg.PgMaxOverflow)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// ProvideMilvusClient connects to the vector store
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (milvusclient.Client, error) {
	return milvusclient.NewClient(ctx, milvusclient.Config{Address: cfg.MilvusAddr})
}

// ProvideNeo4jDriver connects to the graph store
func ProvideNeo4jDriver(ctx context.Context, cfg *config.Config) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return driver, nil
}

// ProvideRabbitMQConnection connects to the message broker
func ProvideRabbitMQConnection(cfg *config.Config) (*amqp.Connection, error) {
	return amqp.Dial(cfg.RabbitMQURL)
}
