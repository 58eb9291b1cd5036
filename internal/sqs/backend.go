// Package sqs implements the durable queue backend on AWS SQS for
// transport and DynamoDB for job state.
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/commercekit/sagaflow/internal/state"
)

// Backend implements core.Backend using AWS SQS + DynamoDB state store.
//
// SQS carries the available jobs; DynamoDB holds the authoritative job
// records, the flow tree structure (parent/child links), and the due-time
// indexes for delayed and retrying jobs. Parent gating works through the
// state store: child records are written in the pending state and only
// sent to SQS when their parent is acked.
type Backend struct {
	sqsClient   *sqs.Client
	store       state.Store
	queueURLs   map[string]string // cache: queue name -> SQS queue URL
	queueURLsMu sync.RWMutex
	queuePrefix string
	startTime   time.Time
	logger      *slog.Logger
}

// New creates a new Backend.
func New(sqsClient *sqs.Client, store state.Store, queuePrefix string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		sqsClient:   sqsClient,
		store:       store,
		queueURLs:   make(map[string]string),
		queuePrefix: queuePrefix,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// Close closes the backend connection.
func (b *Backend) Close() error {
	return b.store.Close()
}

// Health verifies connectivity to SQS and the state store.
func (b *Backend) Health(ctx context.Context) error {
	_, sqsErr := b.sqsClient.ListQueues(ctx, &sqs.ListQueuesInput{
		MaxResults: aws.Int32(1),
	})
	if sqsErr != nil {
		return fmt.Errorf("sqs unreachable: %w", sqsErr)
	}
	if err := b.store.Ping(ctx); err != nil {
		return fmt.Errorf("state store unreachable: %w", err)
	}
	return nil
}
