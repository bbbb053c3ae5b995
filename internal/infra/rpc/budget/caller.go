package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/exporting/metrics"
	"github.com/vietddude/txexport/internal/infra/rpc/routing"
)

// ErrExhausted is returned once the daily compute unit budget is spent.
var ErrExhausted = errors.New("compute unit budget exhausted")

// Caller charges every call against a Tracker before delegating it.
type Caller struct {
	next    routing.Caller
	tracker *Tracker
}

// NewCaller wraps next with budget enforcement.
func NewCaller(next routing.Caller, tracker *Tracker) *Caller {
	return &Caller{next: next, tracker: tracker}
}

// GetName returns the wrapped provider's name.
func (c *Caller) GetName() string {
	return c.next.GetName()
}

// Tracker returns the tracker the caller charges.
func (c *Caller) Tracker() *Tracker {
	return c.tracker
}

// Call waits out the throttle delay, records the call and forwards it.
// An exhausted budget is permanent for the rest of the day.
func (c *Caller) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !c.tracker.CanMakeCall(method) {
		usage := c.tracker.GetUsage()
		return nil, fmt.Errorf("%w: %w (%d/%d units, resets %s)",
			routing.ErrPermanent, ErrExhausted, usage.ComputeUnits, usage.DailyLimit,
			usage.NextResetAt.Format("15:04"))
	}

	if delay := c.tracker.GetThrottleDelay(); delay > 0 {
		slog.Debug("Pacing RPC call", "provider", c.GetName(), "method", method, "delay", delay)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.tracker.RecordCall(method)
	metrics.RPCComputeUnits.WithLabelValues(c.GetName(), method).Add(float64(c.tracker.Cost(method)))
	metrics.RPCBudgetUsage.WithLabelValues(c.GetName()).Set(c.tracker.GetUsage().UsagePercentage)

	return c.next.Call(ctx, method, params)
}
