package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/commercekit/sagaflow/internal/core"
)

// sendToSQS sends a job as an SQS message.
func (b *Backend) sendToSQS(ctx context.Context, job *core.Job) (string, error) {
	queueURL, err := b.getOrCreateQueueURL(ctx, job.Queue)
	if err != nil {
		return "", err
	}

	body, err := EncodeJob(job)
	if err != nil {
		return "", err
	}

	result, err := b.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: buildMessageAttributes(job),
	})
	if err != nil {
		return "", fmt.Errorf("SQS SendMessage: %w", err)
	}

	return *result.MessageId, nil
}

// buildMessageAttributes exposes routing fields as SQS message attributes
// so queue tooling can filter without decoding the body.
func buildMessageAttributes(job *core.Job) map[string]sqstypes.MessageAttributeValue {
	attrs := map[string]sqstypes.MessageAttributeValue{
		"job_id": {
			DataType:    aws.String("String"),
			StringValue: aws.String(job.ID),
		},
		"step": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(job.Name)),
		},
	}
	if job.FlowID != "" {
		attrs["flow_id"] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(job.FlowID),
		}
	}
	return attrs
}
