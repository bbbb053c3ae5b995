package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/txexport/internal/core/backoff"
)

// Caller is the subset of a provider needed to issue a call.
type Caller interface {
	GetName() string
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = backoff.Exponential{
	MaxAttempts:  5,
	InitialDelay: 1 * time.Second,
	MaxDelay:     60 * time.Second,
	Multiplier:   2.0,
}

// ErrPermanent marks errors that no retry can fix.
var ErrPermanent = errors.New("permanent rpc failure")

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFailover:
		return "failover"
	case ActionFatal:
		return "fatal"
	}
	return "unknown"
}

// rpcCoder is implemented by JSON-RPC error objects.
type rpcCoder interface {
	error
	RPCCode() int
}

// retryHinter is implemented by errors that carry a server-requested delay.
type retryHinter interface {
	error
	RetryAfter() time.Duration
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry // Should not happen
	}
	if errors.Is(err, ErrPermanent) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionFatal
	}

	var hinted retryHinter
	if errors.As(err, &hinted) {
		return ActionFailover
	}

	var coded rpcCoder
	if errors.As(err, &coded) {
		switch coded.RPCCode() {
		// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
		case -32700, -32600, -32601, -32602:
			return ActionFatal
		}
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	// Fatal (Code or Request issues)
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	// Failover (Provider specific issues)
	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "quota") || strings.Contains(sLower, "plan limit") ||
		strings.Contains(sLower, "unauthorized") ||
		strings.Contains(sLower, "rate limit") ||
		strings.Contains(sLower, "count exceeded") {
		return ActionFailover
	}

	// Default to Retry (Network, 5xx, etc)
	return ActionRetry
}

// CallWithRetry executes an RPC call with exponential backoff.
// Fatal errors return immediately. Rate limits are retried like transient
// errors since there is no second provider to fail over to; the backoff
// gives the provider time to recover.
func CallWithRetry(
	ctx context.Context,
	p Caller,
	method string,
	params []any,
	config backoff.Exponential,
) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := p.Call(ctx, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		action := ClassifyError(err)
		if action == ActionFatal {
			return nil, err // Stop immediately, do not retry
		}
		if config.Exhausted(attempt + 1) {
			break
		}

		delay := retryDelay(config, attempt, err)
		slog.Debug("Retrying RPC call",
			"provider", p.GetName(),
			"method", method,
			"attempt", attempt+1,
			"action", action.String(),
			"delay", delay,
			"error", err,
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// retryDelay honours a server-requested wait when it is longer than the
// backoff, capped at MaxDelay.
func retryDelay(config backoff.Exponential, attempt int, err error) time.Duration {
	delay := config.Delay(attempt)
	var hinted retryHinter
	if !errors.As(err, &hinted) || hinted.RetryAfter() <= delay {
		return delay
	}
	delay = hinted.RetryAfter()
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}
