package sqs

import (
	"encoding/json"
	"fmt"

	"github.com/commercekit/sagaflow/internal/core"
)

// MaxSQSMessageSize is the maximum SQS message size (256 KB).
const MaxSQSMessageSize = 256 * 1024

// EncodeJob serializes a Job to JSON for the SQS message body.
// Returns an error if the encoded envelope exceeds 256KB.
func EncodeJob(job *core.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	if len(data) > MaxSQSMessageSize {
		return "", core.NewInfrastructureError("encode",
			fmt.Sprintf("job %s payload size (%d bytes) exceeds SQS maximum of %d bytes",
				job.ID, len(data), MaxSQSMessageSize), nil)
	}

	return string(data), nil
}

// DecodeJob deserializes a Job from an SQS message body.
func DecodeJob(body string) (*core.Job, error) {
	var job core.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}
