package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatdispatch/internal/app"
	"chatdispatch/internal/awsutil"
	"chatdispatch/internal/config"
	"chatdispatch/internal/httpserver"
	"chatdispatch/internal/logging"
	"chatdispatch/internal/observability"
	sqsqueue "chatdispatch/internal/queue/sqs"
	"chatdispatch/internal/sender"
	"chatdispatch/internal/service"
	"chatdispatch/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat, cfg.LogLevel)

	if cfg.QueueDriver != config.DriverSQS {
		slog.Error("worker needs a shared queue; run the api with QUEUE_DRIVER=memory instead", "queue", cfg.QueueDriver)
		os.Exit(1)
	}

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())

	st, closeStore, err := app.OpenStore(ctx, "worker", cfg.Common)
	if err != nil {
		slog.Error("worker store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	qr, closeQR, err := app.NewQRCache(ctx, cfg.Common)
	if err != nil {
		slog.Error("worker redis init failed", "err", err)
		os.Exit(1)
	}
	defer closeQR()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueReady := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := queueReady(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)

	producer := &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health server (liveness + readiness) and metrics
	healthMux := httpserver.New().Mux
	healthMux.HandleFunc("/healthz", httpserver.Healthz())
	healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, st.Ping, queueReady))

	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(healthMux),
	}
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.Handler(),
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server failed", "err", err)
		}
	}()

	// this process's own bridge sessions; the sender table is shared with the api
	registry := app.NewRegistry(cfg.Common)
	senders := &sender.Manager{Store: st, Registry: registry, QR: qr}
	app.RestoreSessions(ctx, senders)

	pool := &worker.Pool{
		Consumer: consumer,
		Processor: &worker.Dispatcher{
			Store:    st,
			Senders:  senders,
			Progress: &service.CampaignService{Store: st, Queue: producer},
			Registry: registry,
		},
		Concurrency: cfg.WorkerConcurrency,
		Limiter:     worker.NewLimiter(cfg.WorkerJobsPerMinute),
		MaxAttempts: cfg.JobMaxAttempts,
	}

	// start polling
	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSQueueURL,
			"concurrency", cfg.WorkerConcurrency, "jobs_per_minute", cfg.WorkerJobsPerMinute)
		pollErrCh <- pool.Run(ctx)
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("worker poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}
}
