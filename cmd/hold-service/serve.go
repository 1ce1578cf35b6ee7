package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/seed"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/sweeper"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/telemetry"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the payment consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), v)
		},
	}
}

func serve(ctx context.Context, v *viper.Viper) error {
	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "hold-service-go", version, logging.Component(logger, "telemetry"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	a, err := newApp(ctx, cfg, logger, appOptions{messaging: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		created, err := seed.Apply(ctx, a.svc, f)
		if err != nil {
			return err
		}
		logger.Info().Int("products", len(created)).Str("file", cfg.SeedFile).Msg("seeded products")
	}

	var consumer *events.Consumer
	if a.amqpConn != nil {
		consumer, err = events.NewConsumer(
			a.amqpConn,
			events.PaymentProcessedRoutingKey,
			events.PaymentProcessedHandler(a.svc, a.checkpoints, logging.Component(logger, "payments")),
			logging.Component(logger, "consumer"),
		)
		if err != nil {
			return fmt.Errorf("create payment consumer: %w", err)
		}
	} else {
		logger.Warn().Msg("RABBITMQ_URL not set; events are not published and payment events are not consumed")
	}

	router := httpapi.NewRouter(httpapi.NewHandler(a.svc), httpapi.RouterOptions{
		Logger:  logging.Component(logger, "http"),
		Metrics: a.metrics.Handler(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store).Msg("hold-service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return sweeper.New(a.svc, cfg.SweepInterval, cfg.SweepBatch, logging.Component(logger, "sweeper")).Run(gctx)
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("hold-service stopped")
	return nil
}
