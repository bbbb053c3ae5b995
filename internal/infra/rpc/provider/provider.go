// Package provider implements the JSON-RPC transport used by chain adapters.
//
// This package contains:
//   - Provider interface: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC 2.0 over HTTP implementation
//   - ProviderMonitor: health and rate tracking
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider defines the interface for a JSON-RPC endpoint.
type Provider interface {
	// GetName returns provider identifier (e.g., "alchemy", "infura")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Call makes a single RPC request and returns the raw result
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// Close cleans up resources
	Close() error
}

// RPCError is an error object returned inside a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ThrottleError is returned when the endpoint rate limits (429) or blocks
// (403) the caller. Wait is how long the provider asked us to back off.
type ThrottleError struct {
	StatusCode int
	Wait       time.Duration
}

func (e *ThrottleError) Error() string {
	if e.StatusCode == 403 {
		return fmt.Sprintf("provider blocked (403), retry after %s", e.Wait)
	}
	return fmt.Sprintf("provider throttled (429), retry after %s", e.Wait)
}

// RetryAfter is the minimum delay before the next attempt.
func (e *ThrottleError) RetryAfter() time.Duration { return e.Wait }

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// RPCCode exposes the JSON-RPC error code for classification.
func (e *RPCError) RPCCode() int { return e.Code }
