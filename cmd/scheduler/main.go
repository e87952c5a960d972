package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fulfillment-core/internal/cart"
	"fulfillment-core/internal/config"
	"fulfillment-core/internal/courier"
	kafkax "fulfillment-core/internal/kafka"
	"fulfillment-core/internal/notify"
	"fulfillment-core/internal/orders"
	"fulfillment-core/internal/postgres"
	"fulfillment-core/internal/redisx"
	"fulfillment-core/internal/scheduler"
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

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotifyRequests, 1024)
	prod.Start(ctx)
	trigger := &notify.KafkaTrigger{Producer: prod, Service: cfg.ServiceName + "-scheduler", Log: logger}

	engine := stock.NewEngine(db, cfg.ReservationTTL)
	orderRepo := &orders.Repo{DB: db}
	orderSvc := &orders.Service{
		Store:            orderRepo,
		Stock:            engine,
		Notify:           trigger,
		Log:              logger,
		AutoConfirmAfter: cfg.AutoConfirmAfter,
	}

	runner := &scheduler.Runner{
		Budget: cfg.JobBudget,
		Log:    logger,
		Jobs: []scheduler.Job{
			&scheduler.ReservationSweep{
				Stock: engine,
				Every: cfg.SweepInterval,
				Limit: cfg.JobBatchLimit,
				Log:   logger,
			},
			&scheduler.StaleCartSweep{
				Carts:  &cart.Repo{DB: db},
				Stock:  engine,
				MaxAge: cfg.CartMaxIdle,
				Every:  cfg.SweepInterval,
				Limit:  cfg.JobBatchLimit,
				Log:    logger,
			},
			&scheduler.AutoConfirm{
				Source:  orderRepo,
				Machine: orderSvc,
				Every:   cfg.AutoConfirmInterval,
				Limit:   cfg.JobBatchLimit,
				Log:     logger,
			},
			&scheduler.AutoComplete{
				Source:  orderRepo,
				Machine: orderSvc,
				Window:  cfg.AutoConfirmAfter,
				Every:   cfg.AutoConfirmInterval,
				Limit:   cfg.JobBatchLimit,
				Log:     logger,
			},
			&scheduler.PresenceTimeout{
				Couriers: &courier.Repo{DB: db},
				Presence: &redisx.PresenceStore{Client: rdb, TTL: cfg.PresenceTimeout},
				Every:    cfg.PresenceInterval,
				Log:      logger,
			},
			&scheduler.Reminders{
				Source: orderRepo,
				Marker: &redisx.Marker{Client: rdb, TTL: redisx.TTLReminder},
				Notify: trigger,
				Lead:   cfg.ReminderLead,
				Every:  cfg.ReminderInterval,
				Limit:  cfg.JobBatchLimit,
				Log:    logger,
			},
		},
	}

	go func() {
		if err := runner.Start(ctx); err != nil {
			logger.Error("runner exit", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down scheduler...")
	cancel()
	prod.Close()
	prod.WaitClosed()
}
