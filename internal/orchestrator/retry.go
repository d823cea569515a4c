package orchestrator

import "time"

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
)

// Result is the outcome of one stage attempt.
type Result struct {
	Attempt   int
	Output    StageOutput
	Err       error
	Permanent bool
	Elapsed   time.Duration
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Decision says whether to retry and after how long.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy allows MaxRetries retries after the initial attempt, waiting
// BaseDelay * 2^retry between them, capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns 3 retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: defaultMaxRetries, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// Next decides from the attempt history alone. It has no side effects.
func (p RetryPolicy) Next(history []Result) Decision {
	if len(history) == 0 {
		return Decision{}
	}
	last := history[len(history)-1]
	if last.OK() || last.Permanent {
		return Decision{}
	}
	retries := len(history) - 1
	if retries >= p.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.delay(retries)}
}

func (p RetryPolicy) delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
