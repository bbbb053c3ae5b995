package provider

import (
	"testing"
	"time"
)

func TestMonitor_RecordRequest(t *testing.T) {
	m := NewProviderMonitor()

	for i := 0; i < 150; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats := m.GetStats()
	if stats.Requests != 150 {
		t.Errorf("Expected 150 requests, got %d", stats.Requests)
	}
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected 50ms average, got %v", stats.AverageLatency)
	}
	if stats.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", stats.Status)
	}
}

func TestMonitor_Throttle(t *testing.T) {
	m := NewProviderMonitor()

	for i := 0; i < 6; i++ {
		m.RecordThrottle(429, "30")
	}
	if got := m.CheckProviderStatus(); got != StatusThrottled {
		t.Errorf("Expected throttled, got %v", got)
	}
	if ra := m.GetRetryAfter(); ra <= 0 || ra > 30*time.Second {
		t.Errorf("Unexpected retry after %v", ra)
	}

	m.RecordThrottle(403, "")
	if got := m.CheckProviderStatus(); got != StatusBlocked {
		t.Errorf("Expected blocked, got %v", got)
	}
}

func TestMonitor_BlockWindow(t *testing.T) {
	m := NewProviderMonitor()
	m.RecordThrottle(403, "")
	if ra := m.GetRetryAfter(); ra <= 9*time.Minute {
		t.Errorf("default block window = %v, want about 10m", ra)
	}

	m = NewProviderMonitor()
	m.RecordThrottle(403, "2")
	if ra := m.GetRetryAfter(); ra <= 0 || ra > 2*time.Second {
		t.Errorf("block window with Retry-After = %v, want at most 2s", ra)
	}
}

func TestMonitor_DetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()
	if !m.DetectThrottlePattern("Your app has exceeded its compute units per second capacity") {
		t.Error("expected CU throttle to be detected")
	}
	if m.DetectThrottlePattern("execution reverted") {
		t.Error("unexpected throttle detection")
	}
}
