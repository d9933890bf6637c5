package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"checkout-service/handlers"
	"checkout-service/internal/catalog"
	"checkout-service/internal/checkout"
	"checkout-service/internal/config"
	"checkout-service/internal/consul"
	"checkout-service/internal/orders"
	"checkout-service/internal/payments"
	"checkout-service/internal/reconcile"
	"checkout-service/internal/stores/kafka"
	"checkout-service/internal/stores/postgres"
	"checkout-service/middleware"
	"checkout-service/pkg/logkey"

	"github.com/gin-gonic/gin"
	consulapi "github.com/hashicorp/consul/api"
)

func main() {
	seed := flag.Bool("seed", false, "insert demo products and exit")
	flag.Parse()

	if err := startApp(*seed); err != nil {
		slog.Error("application stopped", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func setupSlog(ginMode string) {
	var h slog.Handler
	if ginMode == gin.ReleaseMode {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(h))
}

func startApp(seed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupSlog(cfg.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database and migrations
	slog.Info("main : Started : Initializing db support")
	db, err := postgres.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to db %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrating db %w", err)
	}

	c, err := catalog.NewConf(db)
	if err != nil {
		return err
	}
	o, err := orders.NewConf(db)
	if err != nil {
		return err
	}

	if seed {
		n, err := c.Seed(ctx, catalog.DemoProducts)
		if err != nil {
			return fmt.Errorf("seeding products %w", err)
		}
		slog.Info("seeded demo products", slog.Int("Inserted", n))
		return nil
	}

	// Payment collaborator
	gateway := payments.NewStripeGateway(payments.StripeConfig{
		SecretKey: cfg.StripeSecretKey,
		Timeout:   cfg.StripeTimeout,
	})
	if cfg.StripeSecretKey == "" {
		slog.Warn("STRIPE_SECRET_KEY is not set, checkout sessions cannot be created")
	}
	if !cfg.SignedWebhooks() {
		slog.Warn("STRIPE_WEBHOOK_SECRET is not set, webhook signatures are NOT verified")
	}

	// Kafka producer (optional)
	var producer reconcile.Producer
	var kafkaConf *kafka.Conf
	if len(cfg.KafkaBrokers) > 0 {
		kafkaConf, err = kafka.NewConf(cfg.KafkaBrokers, cfg.ServiceName)
		if err != nil {
			return err
		}
		producer = kafkaConf
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafkaConf.Close(flushCtx); err != nil {
				slog.Error("flushing kafka producer", slog.String(logkey.ERROR, err.Error()))
			}
		}()
	}

	checkoutService := checkout.NewService(c, o, gateway, cfg.SiteURL)
	reconciler := reconcile.New(o, gateway, cfg.StripeWebhookSecret, producer)

	var limiter *middleware.RateLimiter
	if cfg.CheckoutRateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.CheckoutRateLimitRPS, cfg.CheckoutRateLimitBurst)
		go sweepVisitors(ctx, limiter)
	}

	h := handlers.NewHandler(c, checkoutService, reconciler)
	api := &http.Server{
		Addr:         cfg.Addr(),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: writeTimeout(cfg.StripeTimeout),
		IdleTimeout:  60 * time.Second,
		Handler:      handlers.API(cfg.EndpointPrefix, h, limiter),
	}

	// Service registration (optional)
	if cfg.ConsulAddr != "" {
		client, reg, err := registerService(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := consul.Deregister(client, reg); err != nil {
				slog.Error("deregistering service", slog.String(logkey.ERROR, err.Error()))
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("main: API listening", slog.String("addr", api.Addr))
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error %w", err)
	case sig := <-shutdown:
		slog.Info("main: Start shutdown", slog.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			_ = api.Close()
			return fmt.Errorf("could not stop server gracefully %w", err)
		}
	}
	return nil
}

func registerService(cfg config.Config) (*consulapi.Client, consul.Registration, error) {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return nil, consul.Registration{}, fmt.Errorf("invalid PORT %q: %w", cfg.Port, err)
	}
	host := cfg.Host
	if host == "0.0.0.0" || host == "" {
		if host, err = os.Hostname(); err != nil {
			return nil, consul.Registration{}, err
		}
	}
	client, err := consul.NewClient(cfg.ConsulAddr)
	if err != nil {
		return nil, consul.Registration{}, err
	}
	reg := consul.Registration{ServiceName: cfg.ServiceName, Host: host, Port: port}
	if err := consul.Register(client, reg); err != nil {
		return nil, consul.Registration{}, err
	}
	slog.Info("registered with consul", slog.String("id", reg.ID()))
	return client, reg, nil
}

// writeTimeout leaves room for the Stripe call plus the order transaction.
func writeTimeout(stripeTimeout time.Duration) time.Duration {
	return stripeTimeout + 20*time.Second
}

func sweepVisitors(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}
