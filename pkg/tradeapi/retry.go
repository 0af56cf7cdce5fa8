package tradeapi

import (
	"net/http"
	"slices"
	"time"
)

// Defaults for RetryPolicy.
const (
	DefaultMaxRetries = 3
	DefaultRetryWait  = 3 * time.Second
)

// DefaultRetryStatusCodes are retried unless the policy overrides them.
var DefaultRetryStatusCodes = []int{http.StatusTooManyRequests, http.StatusGatewayTimeout}

// RetryPolicy governs automatic retry of failed requests. A request that
// keeps failing with a retryable status is attempted MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries  int
	Wait        time.Duration
	StatusCodes []int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		Wait:        DefaultRetryWait,
		StatusCodes: slices.Clone(DefaultRetryStatusCodes),
	}
}

// Validate checks the policy for impossible values.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return &ValidationError{Field: "retry policy", Reason: "max retries must be >= 0"}
	}
	if p.Wait < 0 {
		return &ValidationError{Field: "retry policy", Reason: "wait must be >= 0"}
	}
	return nil
}

// Retryable reports whether status is in the retry set.
func (p RetryPolicy) Retryable(status int) bool {
	return slices.Contains(p.StatusCodes, status)
}

func (p RetryPolicy) clone() RetryPolicy {
	p.StatusCodes = slices.Clone(p.StatusCodes)
	return p
}
