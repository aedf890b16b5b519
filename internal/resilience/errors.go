package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// DefaultErrorChecker treats network and timeout errors as retryable.
type DefaultErrorChecker struct{}

func (c *DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if isTransientNetworkError(err) || isTimeoutError(err) {
		return true
	}
	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return true
}

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH)
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

// HTTPErrorChecker retries on the status codes the tieba upstream is
// expected to return transiently: 5xx, 429, 408. This is the
// Spider's DefaultPolicy checker since every upstream call is HTTP.
type HTTPErrorChecker struct {
	RetryOn5xx bool
	RetryOn429 bool
	RetryOn408 bool
}

func (c *HTTPErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if c.RetryOn5xx {
		for code := 500; code < 600; code++ {
			if strings.Contains(msg, fmt.Sprintf("%d", code)) {
				return true
			}
		}
	}
	if c.RetryOn429 && (strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "rate limit")) {
		return true
	}
	if c.RetryOn408 && (strings.Contains(msg, "408") || strings.Contains(msg, "Request Timeout")) {
		return true
	}

	return (&DefaultErrorChecker{}).IsRetryable(err)
}
