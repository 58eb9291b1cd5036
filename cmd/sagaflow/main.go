package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/commercekit/sagaflow/internal/compensate"
	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/flow"
	"github.com/commercekit/sagaflow/internal/metrics"
	"github.com/commercekit/sagaflow/internal/scheduler"
	"github.com/commercekit/sagaflow/internal/server"
	sqsbackend "github.com/commercekit/sagaflow/internal/sqs"
	"github.com/commercekit/sagaflow/internal/state"
	"github.com/commercekit/sagaflow/internal/steps"
	"github.com/commercekit/sagaflow/internal/tracing"
	"github.com/commercekit/sagaflow/internal/worker"
)

const version = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := server.LoadConfig()

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTELEndpoint, "sagaflow", version)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("aws config failed", "error", err)
		os.Exit(1)
	}

	store := state.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
	if err := store.EnsureTable(ctx); err != nil {
		logger.Error("table setup failed", "table", cfg.DynamoDBTable, "error", err)
		os.Exit(1)
	}

	backend := sqsbackend.New(awssqs.NewFromConfig(awsCfg), store, cfg.SQSQueuePrefix, logger)
	defer backend.Close()

	metrics.Init(version, "sqs")

	policies, err := core.DefaultPolicies(nil)
	if err != nil {
		logger.Error("retry policy setup failed", "error", err)
		os.Exit(1)
	}

	builder := flow.NewBuilder(policies)
	dispatcher := flow.NewDispatcher(backend, logger)
	compensator := compensate.NewTrigger(compensate.DefaultRegistry(), policies, backend, logger)

	router := worker.NewRouter()
	if err := steps.RegisterAll(router, steps.LocalDeps(logger)); err != nil {
		logger.Error("handler registration failed", "error", err)
		os.Exit(1)
	}

	observer := worker.MultiObserver{
		worker.NewLogObserver(logger),
		worker.MetricsObserver{},
	}
	pool, err := worker.New(backend, router, policies, compensator, observer, logger, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPoll,
	})
	if err != nil {
		logger.Error("worker setup failed", "error", err)
		os.Exit(1)
	}
	pool.Start()

	sched := scheduler.New(backend, logger)
	sched.Start()

	if err := registerMaintenanceCrons(ctx, backend, policies); err != nil {
		logger.Error("cron registration failed", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewRouter(backend, store, builder, dispatcher, logger),
	}

	go func() {
		logger.Info("server started", "port", cfg.Port, "queue_prefix", cfg.SQSQueuePrefix)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	sched.Stop()
	pool.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}

func buildAWSConfig(ctx context.Context, cfg server.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}

	// LocalStack needs a custom endpoint and accepts any static credentials.
	if cfg.AWSEndpointURL != "" {
		opts = append(opts,
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: cfg.AWSEndpointURL}, nil
				})),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// registerMaintenanceCrons installs the recurring maintenance jobs. The
// cleanup job carries a fixed ID so re-registration on every boot is a
// no-op.
func registerMaintenanceCrons(ctx context.Context, backend core.Backend, policies *core.PolicyRegistry) error {
	policy, err := policies.Policy(core.StepCleanupNotifications)
	if err != nil {
		return err
	}
	queue, err := core.QueueForStep(core.StepCleanupNotifications)
	if err != nil {
		return err
	}

	options := core.OptionsFor(policy)
	options.JobID = string(core.StepCleanupNotifications)

	regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return backend.RegisterCron(regCtx, "notification-cleanup", "0 3 * * *", &core.JobSpec{
		Name:    core.StepCleanupNotifications,
		Queue:   queue,
		Options: options,
	})
}
