package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fulfillment-core/internal/cart"
	"fulfillment-core/internal/config"
	"fulfillment-core/internal/courier"
	"fulfillment-core/internal/delivery"
	"fulfillment-core/internal/httpx"
	kafkax "fulfillment-core/internal/kafka"
	"fulfillment-core/internal/notify"
	"fulfillment-core/internal/orders"
	"fulfillment-core/internal/postgres"
	"fulfillment-core/internal/redisx"
	"fulfillment-core/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for notification requests
	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotifyRequests, 1024)
	prod.Start(ctx)
	trigger := &notify.KafkaTrigger{Producer: prod, Service: cfg.ServiceName, Log: logger}

	// Domain wiring
	engine := stock.NewEngine(db, cfg.ReservationTTL)
	orderRepo := &orders.Repo{DB: db}
	orderSvc := &orders.Service{
		Store:            orderRepo,
		Stock:            engine,
		Notify:           trigger,
		Log:              logger,
		AutoConfirmAfter: cfg.AutoConfirmAfter,
	}
	deliverySvc := &delivery.Service{
		Store:  &delivery.Repo{DB: db},
		Orders: orderSvc,
		Notify: trigger,
		Log:    logger,
	}
	router := httpx.NewRouter()
	h := &httpx.Handler{
		Stock:    engine,
		Orders:   orderSvc,
		Delivery: deliverySvc,
		Carts:    &cart.Repo{DB: db},
		Couriers: &courier.Repo{DB: db},
		Presence: &redisx.PresenceStore{Client: rdb, TTL: cfg.PresenceTimeout},
		Redis:    rdb,
		Log:      logger,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop intake, flush remaining notifications
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
