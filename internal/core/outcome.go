package core

// OutcomeKind classifies the result of one step execution.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable_failure"
	case OutcomeFatal:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// StepOutcome is the classified result of one step execution. Handlers
// decide the classification themselves: transient infrastructure failures
// are retryable, business-rule violations are fatal. An exhausted retry
// budget is treated by the worker as fatal regardless of classification.
type StepOutcome struct {
	Kind   OutcomeKind
	Result []byte
	Err    error
}

// Success returns a successful outcome carrying an optional result blob.
func Success(result []byte) StepOutcome {
	return StepOutcome{Kind: OutcomeSuccess, Result: result}
}

// Retryable returns a transient-failure outcome the queue should retry.
func Retryable(err error) StepOutcome {
	return StepOutcome{Kind: OutcomeRetryable, Err: err}
}

// FatalOutcome returns a failure that must not be retried.
func FatalOutcome(err error) StepOutcome {
	return StepOutcome{Kind: OutcomeFatal, Err: err}
}

// ClassifyError maps a handler error to an outcome: nil is success, errors
// marked with Fatal are fatal, everything else is retryable.
func ClassifyError(err error) StepOutcome {
	if err == nil {
		return Success(nil)
	}
	if IsFatal(err) {
		return FatalOutcome(err)
	}
	return Retryable(err)
}
