// Command listenmux runs the listener containers described by an endpoints
// file against one broker and serves the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/miladsoleymani/listenmux/admin"
	"github.com/miladsoleymani/listenmux/broker"
	"github.com/miladsoleymani/listenmux/config"
	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/core/middleware"
	"github.com/miladsoleymani/listenmux/logging"
	"github.com/miladsoleymani/listenmux/metrics"

	_ "github.com/miladsoleymani/listenmux/plugins/kafka"
	_ "github.com/miladsoleymani/listenmux/plugins/memory"
	_ "github.com/miladsoleymani/listenmux/plugins/nats"
	_ "github.com/miladsoleymani/listenmux/plugins/rabbitmq"
)

func main() {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logg, cleanup, err := logging.New(cfg.Logger.IsProd)
	if err != nil {
		panic(err)
	}

	err = run(cfg, logg)
	if err != nil {
		logg.Error("listenmux stopped", "error", err)
	}
	_ = cleanup()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, logg *logging.ZapLogger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoints, err := config.LoadEndpoints(cfg.Containers.File)
	if err != nil {
		return err
	}
	catalog, err := cfg.Redelivery.Catalog()
	if err != nil {
		return err
	}

	client, err := broker.Create(cfg.Broker.Name, cfg.Broker.Config())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close broker client: %w", cerr))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus(reg, cfg.Metrics.Namespace)

	opts := []container.Option{
		container.WithLogger(logg.Named("container")),
		container.WithMetrics(collector),
		container.WithMiddleware(
			middleware.Recovery(logg),
			middleware.Tracing(nil),
			middleware.Logging(logg.Named("listener")),
		),
	}

	registry := container.NewRegistry()
	handlers := listeners(logg.Named("listener"))
	for _, ep := range endpoints {
		c, err := ep.Build(client, handlers, catalog, opts...)
		if err != nil {
			return err
		}
		if err := registry.Register(c); err != nil {
			return err
		}
	}

	if err := registry.StartAll(ctx); err != nil {
		stopAll(registry, cfg, logg)
		return err
	}
	logg.Info("containers started", "broker", cfg.Broker.Name, "containers", registry.IDs())

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           admin.NewRouter(admin.NewHandler(registry, logg.Named("admin")), reg, cfg.HTTP.GinMode),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		if err != nil {
			err = fmt.Errorf("admin server: %w", err)
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shCtx); serr != nil {
		logg.Warn("admin server shutdown", "error", serr)
	}
	stopAll(registry, cfg, logg)
	return err
}

func stopAll(registry *container.Registry, cfg config.Config, logg core.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Containers.StopTimeout)
	defer cancel()
	if err := registry.StopAll(ctx); err != nil {
		logg.Warn("containers stopped with errors", "error", err)
	}
}

// listeners are the listeners endpoints can name. They log what they receive.
func listeners(logg core.Logger) map[string]container.Listener {
	return map[string]container.Listener{
		"log": container.RecordListener(func(_ context.Context, msg core.Message) error {
			logg.Info("message received",
				"topic", msg.Topic(),
				"message_id", msg.ID(),
				"key", string(msg.Key()),
				"bytes", len(msg.Value()),
				"attempt", core.Attempt(msg),
			)
			return nil
		}),
		"log-batch": container.BatchListener(func(_ context.Context, msgs []core.Message) error {
			logg.Info("batch received", "messages", len(msgs))
			return nil
		}),
		"discard": container.RecordListener(func(context.Context, core.Message) error { return nil }),
	}
}
