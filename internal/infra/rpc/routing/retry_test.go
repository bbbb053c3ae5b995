package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionFailover},
		{errors.New("project rate limit exceeded"), ActionFailover},
		{errors.New("quota exceeded"), ActionFailover},
		{errors.New("daily request count exceeded"), ActionFailover},
		{errors.New("403 Forbidden"), ActionFailover},
		{errors.New("Invalid JSON-RPC request -32600"), ActionFatal},
		{errors.New("Method not found -32601"), ActionFatal},
		{errors.New("Parse error -32700"), ActionFatal},
		{&provider.RPCError{Code: -32602, Message: "invalid params"}, ActionFatal},
		{&provider.RPCError{Code: -32000, Message: "header not found"}, ActionRetry},
		{fmt.Errorf("page 3: %w", &provider.ThrottleError{StatusCode: 429, Wait: time.Second}), ActionFailover},
		{context.Canceled, ActionFatal},
		{fmt.Errorf("%w: compute unit budget spent", ErrPermanent), ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{errors.New("500 Internal Server Error"), ActionRetry},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

type scriptedCaller struct {
	errs  []error
	calls int
}

func (c *scriptedCaller) GetName() string { return "scripted" }

func (c *scriptedCaller) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	c.calls++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`"ok"`), nil
}

func TestCallWithRetry(t *testing.T) {
	cfg := backoff.Exponential{InitialDelay: time.Millisecond, MaxAttempts: 3}
	transient := errors.New("connection reset by peer")

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"success", nil, 1, false},
		{"transient then success", []error{transient, transient}, 3, false},
		{"rate limit retried", []error{errors.New("rate limited (429)")}, 2, false},
		{"exhausted", []error{transient, transient, transient}, 3, true},
		{"fatal stops", []error{&provider.RPCError{Code: -32601, Message: "method not found"}}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCaller{errs: tt.errs}
			res, err := CallWithRetry(context.Background(), c, "eth_chainId", nil, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(res) != `"ok"` {
				t.Errorf("result = %s", res)
			}
			if c.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", c.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := backoff.Exponential{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 3}
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"plain error", errors.New("connection reset by peer"), 10 * time.Millisecond},
		{"shorter hint", &provider.ThrottleError{StatusCode: 429, Wait: time.Millisecond}, 10 * time.Millisecond},
		{"longer hint", &provider.ThrottleError{StatusCode: 429, Wait: 200 * time.Millisecond}, 200 * time.Millisecond},
		{"capped hint", &provider.ThrottleError{StatusCode: 403, Wait: 10 * time.Minute}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryDelay(cfg, 0, tt.err); got != tt.want {
				t.Errorf("retryDelay = %s, want %s", got, tt.want)
			}
		})
	}
}
