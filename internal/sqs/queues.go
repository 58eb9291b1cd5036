package sqs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS queue naming convention:
//   {prefix}-{queue_name}      -- standard queue
//   {prefix}-{queue_name}-dlq  -- dead letter queue

func (b *Backend) sqsQueueName(queue string) string {
	return b.queuePrefix + "-" + sanitizeQueueName(queue)
}

func (b *Backend) sqsDLQName(queue string) string {
	return b.queuePrefix + "-" + sanitizeQueueName(queue) + "-dlq"
}

// sanitizeQueueName converts a queue name to an SQS-compatible name.
// SQS allows alphanumeric, hyphens, and underscores.
func sanitizeQueueName(name string) string {
	return strings.ReplaceAll(name, ".", "-")
}

// getOrCreateQueueURL gets (from cache) or creates an SQS queue and returns its URL.
func (b *Backend) getOrCreateQueueURL(ctx context.Context, queue string) (string, error) {
	b.queueURLsMu.RLock()
	if url, ok := b.queueURLs[queue]; ok {
		b.queueURLsMu.RUnlock()
		return url, nil
	}
	b.queueURLsMu.RUnlock()

	sqsName := b.sqsQueueName(queue)
	result, err := b.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(sqsName),
		Attributes: map[string]string{
			"ReceiveMessageWaitTimeSeconds": "20",      // Long polling
			"VisibilityTimeout":             "30",      // Default 30s
			"MessageRetentionPeriod":        "1209600", // 14 days
		},
	})
	if err != nil {
		return "", fmt.Errorf("create SQS queue %s: %w", sqsName, err)
	}

	url := *result.QueueUrl

	go b.ensureDLQ(context.Background(), queue, url)

	b.queueURLsMu.Lock()
	b.queueURLs[queue] = url
	b.queueURLsMu.Unlock()

	return url, nil
}

// ensureDLQ creates a dead letter queue and configures the redrive policy.
func (b *Backend) ensureDLQ(ctx context.Context, queue, mainQueueURL string) {
	dlqResult, err := b.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(b.sqsDLQName(queue)),
		Attributes: map[string]string{
			"MessageRetentionPeriod": "1209600", // 14 days
		},
	})
	if err != nil {
		return
	}

	dlqAttrs, err := b.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       dlqResult.QueueUrl,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return
	}

	dlqArn, ok := dlqAttrs.Attributes["QueueArn"]
	if !ok {
		return
	}

	redrivePolicy := fmt.Sprintf(`{"deadLetterTargetArn":"%s","maxReceiveCount":"3"}`, dlqArn)
	b.sqsClient.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(mainQueueURL),
		Attributes: map[string]string{
			"RedrivePolicy": redrivePolicy,
		},
	})
}
