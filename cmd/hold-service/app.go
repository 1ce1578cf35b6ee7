package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/sequence"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	svc     *inventory.Service

	checkpoints events.Checkpoints

	pool      *pgxpool.Pool
	amqpConn  *amqp.Connection
	publisher *events.Publisher
}

type appOptions struct {
	messaging bool
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: logger, metrics: metrics.New()}

	var (
		repo inventory.Repository
		seq  events.Sequencer
	)
	switch cfg.Store {
	case config.StorePostgres:
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DatabaseDSN, logging.Component(logger, "migrate")); err != nil {
				return nil, fmt.Errorf("db migrate: %w", err)
			}
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.pool = pool
		repo = inventory.NewPostgresRepository(pool)
		seq = sequence.NewRepository(pool)
		a.checkpoints = dedup.NewCheckpoints(pool)
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store; state is lost on exit")
		repo = inventory.NewMemoryRepository()
		seq = sequence.NewMemory()
		a.checkpoints = dedup.NewMemory()
	}

	svcOpts := []inventory.Option{
		inventory.WithMetrics(a.metrics),
		inventory.WithLogger(logging.Component(logger, "inventory")),
		inventory.WithHoldTTL(cfg.HoldTTL),
	}
	if opts.messaging && cfg.RabbitMQURL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		a.amqpConn = conn
		pub, err := events.NewPublisher(conn, seq, events.PublisherOptions{
			Producer: "hold-service-go",
			Logger:   logging.Component(logger, "publisher"),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create publisher: %w", err)
		}
		a.publisher = pub
		svcOpts = append(svcOpts, inventory.WithPublisher(pub))
	}

	a.svc = inventory.NewService(repo, svcOpts...)
	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.amqpConn != nil {
		_ = a.amqpConn.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
