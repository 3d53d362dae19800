package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"runtime"

	_ "github.com/lib/pq"

	"flowfire/internal/api"
	"flowfire/internal/db"
	"flowfire/internal/export"
	"flowfire/internal/handler"
	"flowfire/internal/lock"
	"flowfire/internal/models/config"
	"flowfire/internal/store/postgres"
)

// SetUp wires a complete engine from configuration: storage, migrations,
// export sinks and the admin API. The returned engine is started; the caller
// owns shutdown, typically via GracefulExit.
//
// Steps:
//  1. Connect to PostgreSQL and run schema initialization under the
//     migration advisory lock.
//  2. Build the job definition and run history stores.
//  3. Connect the configured export sinks (RabbitMQ exchange, Redis stream).
//  4. Start the coordinator, and the trigger loop if this instance wins the
//     trigger advisory lock.
//  5. Serve the admin HTTP API when a port is configured.
func SetUp(ctx context.Context, cfg *config.EngineConfig, registry *handler.Registry) (*Engine, error) {
	log.Printf("GOMAXPROCS Is: %d\n", runtime.GOMAXPROCS(0))

	sqlDB, err := setupPostgres(cfg.PostgresConfig.ConnectionUrl)
	if err != nil {
		return nil, err
	}

	lockMgr := lock.NewPostgresDistributedLockManager(sqlDB)

	if err = db.Init(cfg.PostgresConfig.ConnectionUrl, lockMgr); err != nil {
		return nil, err
	}

	exporter, err := setupExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e := NewEngine(
		cfg,
		postgres.NewPostgresJobStore(sqlDB),
		postgres.NewPostgresHistoryStore(sqlDB),
		registry,
		lockMgr,
		exporter,
	)

	if err = e.Start(ctx); err != nil {
		return nil, err
	}

	if cfg.APIPort != 0 {
		runAdminAPI(e, cfg)
	}

	return e, nil
}

func setupPostgres(connection string) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return sqlDB, nil
}

// setupExporters connects every configured sink. No sinks configured means a
// nil publisher; more than one gets fanned out.
func setupExporters(ctx context.Context, cfg *config.EngineConfig) (export.Publisher, error) {
	var sinks []export.Publisher

	if cfg.RabbitMQConfig != nil {
		p, err := export.NewRabbitMQPublisher(*cfg.RabbitMQConfig)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq exporter: %w", err)
		}
		sinks = append(sinks, p)
	}
	if cfg.RedisConfig != nil {
		p, err := export.NewRedisStreamPublisher(ctx, *cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("redis exporter: %w", err)
		}
		sinks = append(sinks, p)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return export.NewFanout(sinks...), nil
	}
}

// runAdminAPI serves the admin HTTP surface in a separate goroutine.
func runAdminAPI(e *Engine, cfg *config.EngineConfig) {
	go func() {
		router := api.NewRouteHandler(e)
		if err := router.Serve(cfg.APIPort); err != nil {
			log.Printf("failed to start admin api: %v", err)
		}
	}()
}
