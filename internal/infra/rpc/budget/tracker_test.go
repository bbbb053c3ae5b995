package budget

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/txexport/internal/infra/rpc/routing"
)

func TestTracker_Concurrency(t *testing.T) {
	tracker := NewTracker(0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordCall("eth_getTransactionReceipt")
			tracker.CanMakeCall("eth_getTransactionReceipt")
			tracker.GetUsage()
		}()
	}
	wg.Wait()

	usage := tracker.GetUsage()
	if usage.TotalCalls != 100 {
		t.Errorf("Expected 100 calls, got %d", usage.TotalCalls)
	}
	if usage.ComputeUnits != 2000 {
		t.Errorf("Expected 2000 units, got %d", usage.ComputeUnits)
	}
	if usage.Methods["eth_getTransactionReceipt"] != 100 {
		t.Errorf("method count = %d", usage.Methods["eth_getTransactionReceipt"])
	}
}

func TestTracker_Limits(t *testing.T) {
	tracker := NewTracker(1000, map[string]int{"a": 10})

	for i := 0; i < 100; i++ {
		if !tracker.CanMakeCall("a") {
			t.Fatalf("Should allow call %d", i)
		}
		tracker.RecordCall("a")
	}

	if tracker.CanMakeCall("a") {
		t.Error("Should deny call 101")
	}
	if usage := tracker.GetUsage(); usage.Remaining != 0 || usage.UsagePercentage != 100 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestTracker_UnknownMethodUsesDefaultWeight(t *testing.T) {
	tracker := NewTracker(0, DefaultWeights())
	tracker.RecordCall("eth_chainId")
	tracker.RecordCall("alchemy_getAssetTransfers")

	if got := tracker.GetUsage().ComputeUnits; got != DefaultWeight+120 {
		t.Errorf("units = %d, want %d", got, DefaultWeight+120)
	}
}

func TestTracker_Throttle(t *testing.T) {
	tracker := NewTracker(1000, map[string]int{"a": 10})

	if delay := tracker.GetThrottleDelay(); delay != 0 {
		t.Error("Expected 0 delay")
	}

	for range 80 {
		tracker.RecordCall("a")
	}

	if delay := tracker.GetThrottleDelay(); delay == 0 {
		t.Error("Expected throttle delay at 80% usage")
	}
	if usage := tracker.GetUsage(); usage.PredictedExhaustionMins <= 0 {
		t.Errorf("expected an exhaustion prediction, got %+v", usage)
	}

	tracker.Reset()
	if delay := tracker.GetThrottleDelay(); delay != 0 {
		t.Error("Expected 0 delay after reset")
	}
}

type countingCaller struct {
	calls int
}

func (c *countingCaller) GetName() string { return "counting" }

func (c *countingCaller) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	c.calls++
	return json.RawMessage(`null`), nil
}

func TestCaller_ChargesAndStops(t *testing.T) {
	next := &countingCaller{}
	// 240 units fit two transfer pages.
	tracker := NewTracker(240, map[string]int{"alchemy_getAssetTransfers": 120})
	caller := NewCaller(next, tracker)

	if _, err := caller.Call(context.Background(), "alchemy_getAssetTransfers", nil); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Usage is 50%, so the second call must pace and observe the cancelled context.
	if _, err := caller.Call(ctx, "alchemy_getAssetTransfers", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("paced call error = %v, want context.Canceled", err)
	}

	tracker.RecordCall("alchemy_getAssetTransfers")
	_, err := caller.Call(context.Background(), "alchemy_getAssetTransfers", nil)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if routing.ClassifyError(err) != routing.ActionFatal {
		t.Error("exhausted budget should not be retried")
	}
	if next.calls != 1 {
		t.Errorf("provider called %d times, want 1", next.calls)
	}
}
