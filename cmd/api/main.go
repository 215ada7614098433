package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatdispatch/internal/app"
	"chatdispatch/internal/awsutil"
	"chatdispatch/internal/config"
	"chatdispatch/internal/fanout"
	"chatdispatch/internal/httpserver"
	"chatdispatch/internal/logging"
	"chatdispatch/internal/observability"
	"chatdispatch/internal/queue"
	"chatdispatch/internal/queue/memqueue"
	sqsqueue "chatdispatch/internal/queue/sqs"
	"chatdispatch/internal/scheduler"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/service"
	"chatdispatch/internal/worker"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := app.OpenStore(ctx, "api", cfg.Common)
	if err != nil {
		slog.Error("api store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	qr, closeQR, err := app.NewQRCache(ctx, cfg.Common)
	if err != nil {
		slog.Error("api redis init failed", "err", err)
		os.Exit(1)
	}
	defer closeQR()

	observability.Register(prometheus.DefaultRegisterer)

	registry := app.NewRegistry(cfg.Common)
	senders := &sender.Manager{Store: st, Registry: registry, QR: qr}

	var (
		enqueuer queue.Enqueuer
		local    *memqueue.Queue
	)
	if cfg.QueueDriver == config.DriverMemory {
		local = memqueue.New(0)
		enqueuer = local
	} else {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("api sqs client init failed", "err", err)
			os.Exit(1)
		}
		enqueuer = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
	}

	campaigns := &service.CampaignService{Store: st, Queue: enqueuer}
	api := &httpserver.API{
		Senders:   senders,
		Campaigns: campaigns,
		Broadcasts: &service.BroadcastService{
			Store:       st,
			Senders:     senders,
			Registry:    registry,
			Broadcaster: &fanout.Broadcaster{GroupDelay: cfg.BroadcastGroupDelay},
		},
		Bulk:      &service.BulkService{Senders: senders, Registry: registry},
		Blocklist: &service.BlocklistService{Store: st},
	}

	s := httpserver.New()
	api.Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, st.Ping))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Handler(),
	}
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	if cfg.RestoreSessions {
		app.RestoreSessions(ctx, senders)
	}

	sched := &scheduler.Scheduler{Starter: campaigns, Spec: cfg.SchedulerSpec}
	if err := sched.Start(ctx); err != nil {
		slog.Error("api scheduler init failed", "err", err, "spec", cfg.SchedulerSpec)
		os.Exit(1)
	}

	// single-process mode: the api also drains its own queue
	poolDone := make(chan struct{})
	if local != nil {
		pool := &worker.Pool{
			Consumer:  local,
			Processor: &worker.Dispatcher{Store: st, Senders: senders, Progress: campaigns, Registry: registry},
			Limiter:   worker.NewLimiter(worker.DefaultJobsPerMinute),
		}
		go func() {
			defer close(poolDone)
			if err := pool.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("api in-process worker failed", "err", err)
			}
		}()
	} else {
		close(poolDone)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		sched.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port, "store", cfg.StoreDriver, "queue", cfg.QueueDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	if local != nil {
		local.Close()
	}
	select {
	case <-poolDone:
	case <-time.After(10 * time.Second):
		slog.Info("api shutdown timeout waiting for in-process worker")
	}
}
