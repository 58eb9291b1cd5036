package sqs

import (
	"strings"
	"testing"

	"github.com/commercekit/sagaflow/internal/core"
)

func TestEncodeDecodeJob(t *testing.T) {
	job := &core.Job{
		ID:            "flow-1-create-order",
		Name:          core.StepCreateOrder,
		Queue:         core.QueueCheckout,
		State:         core.StateAvailable,
		FlowID:        "flow-1",
		Payload:       []byte(`{"order_id":"ORD-1"}`),
		Attempt:       1,
		MaxAttempts:   3,
		ReceiptHandle: "transport-state",
	}

	body, err := EncodeJob(job)
	if err != nil {
		t.Fatalf("EncodeJob error = %v", err)
	}
	if strings.Contains(body, "transport-state") {
		t.Error("receipt handle leaked into the envelope")
	}

	got, err := DecodeJob(body)
	if err != nil {
		t.Fatalf("DecodeJob error = %v", err)
	}
	if got.ID != job.ID || got.Name != job.Name || got.FlowID != job.FlowID {
		t.Errorf("decoded job = %+v", got)
	}
	if string(got.Payload) != string(job.Payload) {
		t.Errorf("payload = %q", got.Payload)
	}
	if got.ReceiptHandle != "" {
		t.Errorf("receipt handle = %q, want empty after decode", got.ReceiptHandle)
	}
}

func TestEncodeJob_SizeLimit(t *testing.T) {
	job := &core.Job{
		ID:      "flow-1-send-notification",
		Name:    core.StepSendNotification,
		Payload: []byte(`"` + strings.Repeat("x", MaxSQSMessageSize) + `"`),
	}

	_, err := EncodeJob(job)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !core.IsInfrastructureError(err) {
		t.Errorf("error = %v, want InfrastructureError", err)
	}
}

func TestDecodeJob_Invalid(t *testing.T) {
	if _, err := DecodeJob("not json"); err == nil {
		t.Error("expected error for invalid body")
	}
}
