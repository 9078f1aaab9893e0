package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logx"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	service := cfg.ServiceName + "-fulfillment"
	if err := logx.Setup(service, cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: order.status.changed
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	prod.Start(ctx)

	// Service
	svc := &fulfillment.Service{
		Orders:      &orders.Repo{DB: db, Isolation: cfg.TxIsolation},
		Dedup:       redisx.Dedup{RDB: rdb, Service: "fulfillment"},
		Cache:       redisx.OrderCache{RDB: rdb},
		Publisher:   prod,
		ServiceName: service,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.FulfillmentGroup, orders.TopicFulfillmentRequested, cfg.FulfillmentWorkers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("group", cfg.FulfillmentGroup).Str("topic", orders.TopicFulfillmentRequested).
			Int("workers", cfg.FulfillmentWorkers).Msg("fulfillment consumer started")
		if err := cons.Start(ctx, svc.HandleFulfillmentRequested); err != nil {
			log.Error().Err(err).Msg("consumer exit")
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info().Msg("shutting down consumer...")
	case <-done:
	}
	cancel()
	<-done
	prod.Close()
	prod.WaitClosed()
}
