package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"avito-realtime-relay/internal/application/facade"
	"avito-realtime-relay/internal/application/relay"
	"avito-realtime-relay/internal/infrastructure/broker"
	"avito-realtime-relay/internal/infrastructure/config"
	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/infrastructure/metrics"
	"avito-realtime-relay/internal/infrastructure/server"
)

// Consumer tags of the two listeners on the exchange.
const (
	progressConsumerTag = "crawler_progress_consumer"
	resultConsumerTag   = "ai_result_progress_consumer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogrusLogger(cfg.Log)
	m := metrics.New()

	registry := hub.New(log, hub.WithMetrics(m))
	if err := registry.Start(context.Background()); err != nil {
		log.Errorf("failed to start registry: %v", err)
		return
	}

	brokerClient := broker.NewClient(cfg.RabbitMQURL, log)
	router := relay.NewRouter(registry, log)

	backoff := broker.Backoff{
		Initial:    cfg.ReconnectInitialDelay,
		Max:        cfg.ReconnectMaxDelay,
		Multiplier: 2.0,
		Jitter:     true,
	}
	relays := []*relay.Relay{
		relay.New(relay.Config{
			Name: "progress",
			Binding: broker.Binding{
				Exchange:    cfg.Exchange,
				Key:         cfg.ProgressBindingKey,
				ConsumerTag: progressConsumerTag,
			},
			Concurrency: cfg.DispatchConcurrency,
			Backoff:     backoff,
		}, brokerClient, router, log, m),
		relay.New(relay.Config{
			Name: "result",
			Binding: broker.Binding{
				Exchange:    cfg.Exchange,
				Key:         cfg.ResultBindingKey,
				ConsumerTag: resultConsumerTag,
			},
			Concurrency: cfg.DispatchConcurrency,
			Backoff:     backoff,
		}, brokerClient, router, log, m),
	}

	events := facade.NewEventApplicationService(
		router,
		brokerClient,
		cfg.Exchange,
		"progress",
		[]string{cfg.ProgressBindingKey, cfg.ResultBindingKey},
		log,
	)

	handler := InitRouter(cfg, registry, relays, events, m, log)
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, handler, log)

	app := newApplication(cfg, log, httpSrv, registry, relays, brokerClient)
	if err := app.Run(WithSignal(context.Background())); err != nil {
		log.Errorf("failed to run application: %v", err)
		os.Exit(1)
	}
}

type Application struct {
	cfg      config.Config
	logger   logger.Logger
	httpSrv  server.Server
	registry *hub.Registry
	relays   []*relay.Relay
	broker   *broker.Client
}

func newApplication(
	cfg config.Config,
	logger logger.Logger,
	httpSrv server.Server,
	registry *hub.Registry,
	relays []*relay.Relay,
	brokerClient *broker.Client,
) *Application {
	return &Application{
		cfg:      cfg,
		logger:   logger.WithField("app", "relay"),
		httpSrv:  httpSrv,
		registry: registry,
		relays:   relays,
		broker:   brokerClient,
	}
}

// Run serves HTTP and consumes both relay subscriptions until ctx is
// cancelled or one of them fails.
func (app *Application) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return app.httpSrv.Start(ctx)
	})

	for _, r := range app.relays {
		r := r
		eg.Go(func() error {
			return r.Run(ctx)
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		app.logger.Info("Shutting down")

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			app.cfg.ShutdownTimeout,
		)
		defer cancel()

		// Connections first so clients see a close frame before the listener goes.
		if err := app.registry.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop registry: %v", err)
		}

		if err := app.broker.Close(); err != nil {
			app.logger.Errorf("failed to close broker connection: %v", err)
		}

		return app.httpSrv.Stop(gracefulshutdownCtx)
	})

	return eg.Wait()
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
