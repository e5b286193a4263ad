package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/config"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/consumer"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/handlers"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/service"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/storage"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/health"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/httpmiddleware"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/logging"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/metrics"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/trace"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	svcMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := pgxpool.New(context.Background(), cfg.DB.DSN())
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool, logger)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	publisher := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DLQ, logger)

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()
	consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DLQ)

	instruments, err := store.ListInstruments(context.Background())
	if err != nil {
		logger.Error("instrument registry load failed", "error", err)
		os.Exit(1)
	}
	codes := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		codes = append(codes, inst.Code)
	}

	eng := engine.NewEngine(codes, store, store, publisher, cfg.Kafka.Topics.Executions, logger, svcMetrics)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	loaded, err := eng.LoadSnapshot(loadCtx)
	loadCancel()
	if err != nil {
		logger.Error("order book snapshot load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("order books rebuilt", "instruments", len(codes), "open_orders", loaded)

	orderSvc := service.NewOrderService(store, eng, publisher, logger, svcMetrics, service.Topics{
		OrdersAccepted:  cfg.Kafka.Topics.OrdersAccepted,
		OrdersCancelled: cfg.Kafka.Topics.OrdersCancelled,
	})

	handler := handlers.New(orderSvc, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	fillConsumer := consumer.NewFillConsumer(eng, logger)
	sweeper := service.NewExpirySweeper(orderSvc, store, cfg.Sweeper.Interval, cfg.Sweeper.OrderMaxAge, logger)

	ready.SetReady(true)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go func() {
		logger.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("fill consumer starting", "topic", cfg.Kafka.Topics.MarketFills)
		if err := consumerGroup.Consume(runCtx, []string{cfg.Kafka.Topics.MarketFills}, fillConsumer); err != nil && runCtx.Err() == nil {
			logger.Error("fill consumer stopped", "error", err)
		}
	}()

	go sweeper.Run(runCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ready.SetReady(false)
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}
