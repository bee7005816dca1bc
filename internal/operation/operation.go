// Package operation proxies long-running operations executed by the
// external workflow engine: initiation (optionally with a bounded
// synchronous wait), status polling with differentiated caching for
// terminal versus running records, cancellation, and per-request streaming
// subscriptions. The engine owns operation state; this package observes it
// and never mutates it except via Initiate and Cancel.
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is an operation lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state will never change again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Progress tracks how far a running operation has advanced.
type Progress struct {
	Step       int `json:"step"`
	TotalSteps int `json:"total_steps"`
	Percentage int `json:"percentage"`
}

// Record is an observed snapshot of one operation. Result is populated only
// when the state is terminal.
type Record struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	State     State           `json:"state"`
	Progress  Progress        `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Sentinel errors for engine interactions.
var (
	ErrNotFound = errors.New("operation: not found")

	// ErrEngineUnavailable is returned when the workflow engine cannot be
	// reached.
	ErrEngineUnavailable = errors.New("operation: engine unavailable")

	// ErrEngineTimeout is returned when the engine did not answer within
	// the call deadline.
	ErrEngineTimeout = errors.New("operation: engine timeout")
)

// Engine is the workflow engine surface the proxy depends on. Status
// returns ErrNotFound for unknown operation ids; all methods map transport
// failures onto the engine sentinels.
type Engine interface {
	Initiate(ctx context.Context, opType string, payload json.RawMessage) (*Record, error)
	Status(ctx context.Context, operationID string) (*Record, error)
	Cancel(ctx context.Context, operationID string) error
}
