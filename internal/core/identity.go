package core

import (
	"strings"

	"github.com/google/uuid"
)

// Job identifiers are the idempotency mechanism: the queue guarantees
// at-most-one-active-execution per identifier, so the shape of an ID decides
// whether repeated submissions collapse to one logical execution.

// UniqueJobID returns "{step}-{uuidv4}" for fire-once jobs that may
// legitimately run concurrently for different triggers.
func UniqueJobID(step StepName) string {
	return string(step) + "-" + uuid.New().String()
}

// BusinessJobID returns "{step}-{businessKey}" for jobs that must not be
// duplicated for the same business entity, e.g. "confirm-order-ORD123".
// Whitespace in the key is stripped so the ID stays parseable; the key is
// otherwise assumed pre-validated by the caller.
func BusinessJobID(step StepName, businessKey string) string {
	return string(step) + "-" + strings.Join(strings.Fields(businessKey), "")
}

// FlowJobID returns "{flowID}-{step}", the flow-scoped identifier assigned
// to every node of a flow tree so sibling and descendant job IDs are
// derivable from the originating trigger.
func FlowJobID(flowID string, step StepName) string {
	return flowID + "-" + string(step)
}

// NewFlowID generates a time-ordered identifier for one saga instance.
func NewFlowID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}
