// Package budget tracks the compute units spent against the provider's
// daily allowance and paces calls as the allowance runs out.
package budget

import (
	"maps"
	"sync"
	"time"
)

// DefaultWeight is charged for methods without a known cost.
const DefaultWeight = 20

// DefaultWeights returns the compute unit cost of the methods the exporter calls.
func DefaultWeights() map[string]int {
	return map[string]int{
		"alchemy_getAssetTransfers": 120,
		"eth_getTransactionReceipt": 20,
	}
}

// UsageStats holds compute unit usage statistics.
type UsageStats struct {
	TotalCalls              int            `json:"total_calls"`
	ComputeUnits            int            `json:"compute_units"`
	UnitsThisHour           int            `json:"units_this_hour"`
	DailyLimit              int            `json:"daily_limit"` // 0 = unlimited
	Remaining               int            `json:"remaining"`
	UsagePercentage         float64        `json:"usage_percentage"`
	NextResetAt             time.Time      `json:"next_reset_at"`
	PredictedExhaustionMins int            `json:"predicted_exhaustion_mins,omitempty"`
	Methods                 map[string]int `json:"methods,omitempty"`
}

// Tracker counts calls and compute units. It resets at local midnight.
type Tracker struct {
	mu            sync.RWMutex
	weights       map[string]int
	dailyLimit    int
	totalCalls    int
	units         int
	unitsThisHour int
	hourStartTime time.Time
	methodCalls   map[string]int
	resetTime     time.Time
}

// NewTracker creates a tracker. A dailyLimit of 0 disables enforcement.
func NewTracker(dailyLimit int, weights map[string]int) *Tracker {
	if weights == nil {
		weights = DefaultWeights()
	}
	t := &Tracker{
		weights:    weights,
		dailyLimit: dailyLimit,
	}
	t.resetUnsafe()
	return t
}

// Cost returns the compute units charged for method.
func (t *Tracker) Cost(method string) int {
	if w, ok := t.weights[method]; ok {
		return w
	}
	return DefaultWeight
}

// RecordCall records one call of method.
func (t *Tracker) RecordCall(method string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Now().After(t.resetTime) {
		t.resetUnsafe()
	}
	if time.Since(t.hourStartTime) >= time.Hour {
		t.unitsThisHour = 0
		t.hourStartTime = time.Now()
	}

	cost := t.Cost(method)
	t.totalCalls++
	t.units += cost
	t.unitsThisHour += cost
	t.methodCalls[method]++
}

// GetUsage returns the current usage.
func (t *Tracker) GetUsage() UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usageLocked()
}

func (t *Tracker) usageLocked() UsageStats {
	stats := UsageStats{
		TotalCalls:    t.totalCalls,
		ComputeUnits:  t.units,
		UnitsThisHour: t.unitsThisHour,
		DailyLimit:    t.dailyLimit,
		NextResetAt:   t.resetTime,
		Methods:       maps.Clone(t.methodCalls),
	}
	if t.dailyLimit <= 0 {
		return stats
	}

	stats.Remaining = max(t.dailyLimit-t.units, 0)
	stats.UsagePercentage = float64(t.units) / float64(t.dailyLimit) * 100

	// Project the current hour's rate forward.
	if t.unitsThisHour > 0 {
		elapsed := max(time.Since(t.hourStartTime).Minutes(), 1)
		perMinute := float64(t.unitsThisHour) / elapsed
		stats.PredictedExhaustionMins = int(float64(stats.Remaining) / perMinute)
	}
	return stats
}

// CanMakeCall reports whether method still fits in the daily budget.
func (t *Tracker) CanMakeCall(method string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.dailyLimit <= 0 {
		return true
	}
	return t.units+t.Cost(method) <= t.dailyLimit
}

// GetThrottleDelay returns how long to wait before the next call.
func (t *Tracker) GetThrottleDelay() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.dailyLimit <= 0 {
		return 0
	}
	usage := t.usageLocked()

	if usage.UsagePercentage < 50 {
		return 0
	}
	if usage.UsagePercentage < 70 {
		return 1 * time.Second
	}
	if usage.UsagePercentage < 90 {
		return 3 * time.Second
	}
	if usage.UsagePercentage < 100 {
		return 10 * time.Second
	}

	return time.Until(t.resetTime)
}

// Reset resets all usage counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetUnsafe()
}

func (t *Tracker) resetUnsafe() {
	t.totalCalls = 0
	t.units = 0
	t.unitsThisHour = 0
	t.hourStartTime = time.Now()
	t.methodCalls = make(map[string]int)

	now := time.Now()
	t.resetTime = time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
