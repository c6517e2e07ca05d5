package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/api"
	"github.com/upupup126/quant-trading-platform/collect"
	"github.com/upupup126/quant-trading-platform/controller"
	"github.com/upupup126/quant-trading-platform/market"
	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/refresh"
	"github.com/upupup126/quant-trading-platform/util"
)

func main() {
	configPath := flag.String(`config`, `./config.yml`, `path of the yaml config`)
	flag.Parse()
	_ = godotenv.Load()

	config, err := model.LoadConfig(*configPath)
	if err != nil {
		print(err.Error())
		os.Exit(1)
	}
	logger, err := util.NewLogger(config.Log.Level, config.Log.File)
	if err != nil {
		print(err.Error())
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info(`start application`, zap.String(`port`, config.Server.Port),
		zap.String(`database`, config.Database.Dialect))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := util.OpenDB(ctx, config.Database.Dialect, config.Database.DSN, config.Database.MaxConns)
	if err != nil {
		logger.Fatal(`open database`, zap.Error(err))
	}
	defer closeDB()
	if err = model.AutoMigrate(db); err != nil {
		logger.Fatal(`migrate`, zap.Error(err))
	}

	var cache market.SummaryCache = market.NopCache{}
	if config.Redis.Addr != `` {
		client := redis.NewClient(&redis.Options{Addr: config.Redis.Addr, Password: config.Redis.Password,
			DB: config.Redis.DB})
		defer func() { _ = client.Close() }()
		if err = client.Ping(ctx).Err(); err != nil {
			logger.Warn(`redis unreachable, summaries are not cached`, zap.Error(err))
		} else {
			cache = market.NewRedisCache(client, config.Redis.SummaryTTL, logger)
		}
	}
	publisher := collect.NewPublisher(config.Kafka.Brokers, config.Kafka.Topic, logger)
	defer func() { _ = publisher.Close() }()

	selector := api.NewSelectorFromConfig(config, logger)
	pipeline := collect.NewPipeline(db, selector, config, logger)
	ledger := collect.NewLedger(db, publisher, logger)
	collector := collect.NewCollector(pipeline, ledger, config.Collector.MaxConcurrency, logger)
	store := market.NewStore(db, logger)
	trigger := refresh.NewTrigger(market.NewEngine(db, logger), collector, store, selector, cache,
		config.Refresh.Timeout, logger)

	updater := refresh.NewUpdater(collector, cache, config.Refresh.Symbols, config.Refresh.Interval, logger).
		WithSnapshots(selector, store, config.Refresh.Depth)
	go updater.Maintain(ctx)

	router := controller.NewRouter(config.Server.Mode,
		controller.NewMarketController(store, trigger, collector, ledger, cache, logger), logger)
	server := &http.Server{Addr: `:` + config.Server.Port, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(`http server`, zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info(`shutting down`)
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = server.Shutdown(shutdown); err != nil {
		logger.Error(`http shutdown`, zap.Error(err))
	}
}
