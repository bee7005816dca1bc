package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/logging"
)

// TTLClass names a cache expiration policy. Every entity type cached by the
// platform maps to exactly one class; handlers never pick raw durations.
type TTLClass string

const (
	// TTLShort covers volatile lists such as tenant memberships.
	TTLShort TTLClass = "short"
	// TTLMedium covers tenant records and tenant contexts.
	TTLMedium TTLClass = "medium"
	// TTLLong covers configuration.
	TTLLong TTLClass = "long"
	// TTLPeriod covers period-scoped analytics snapshots.
	TTLPeriod TTLClass = "period"
	// TTLVolatile covers non-terminal operation status, long enough to
	// absorb a burst of near-simultaneous polls.
	TTLVolatile TTLClass = "volatile"
	// TTLTerminal covers terminal operation records, which are immutable
	// and can outlive every other class.
	TTLTerminal TTLClass = "terminal"
)

// TTLPolicy maps each TTL class to a duration.
type TTLPolicy struct {
	Short    time.Duration `json:"short" yaml:"short"`
	Medium   time.Duration `json:"medium" yaml:"medium"`
	Long     time.Duration `json:"long" yaml:"long"`
	Period   time.Duration `json:"period" yaml:"period"`
	Volatile time.Duration `json:"volatile" yaml:"volatile"`
	Terminal time.Duration `json:"terminal" yaml:"terminal"`
}

// DefaultTTLPolicy returns the platform default expiration policy.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Short:    120 * time.Second,
		Medium:   300 * time.Second,
		Long:     1800 * time.Second,
		Period:   600 * time.Second,
		Volatile: 10 * time.Second,
		Terminal: 3600 * time.Second,
	}
}

// Duration resolves a TTL class to its configured duration.
func (p TTLPolicy) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return p.Short
	case TTLLong:
		return p.Long
	case TTLPeriod:
		return p.Period
	case TTLVolatile:
		return p.Volatile
	case TTLTerminal:
		return p.Terminal
	default:
		return p.Medium
	}
}

// Invalidation is the set of cache keys and key-prefix patterns a mutating
// operation promises to evict. Mutating code paths return one of these and
// the Manager applies it, so invalidation policy stays auditable in one
// place instead of scattered per route.
type Invalidation struct {
	Keys     []string
	Patterns []string
}

// Merge combines two invalidation sets.
func (i Invalidation) Merge(other Invalidation) Invalidation {
	return Invalidation{
		Keys:     append(append([]string{}, i.Keys...), other.Keys...),
		Patterns: append(append([]string{}, i.Patterns...), other.Patterns...),
	}
}

// Empty reports whether the invalidation carries no work.
func (i Invalidation) Empty() bool {
	return len(i.Keys) == 0 && len(i.Patterns) == 0
}

// Manager layers TTL-class policy and JSON encoding over a Cache backend.
// Read failures are absorbed: a broken cache degrades to a miss so callers
// fall back to the authoritative source instead of failing the request.
type Manager struct {
	backend Cache
	policy  TTLPolicy
}

// NewManager creates a cache manager over the given backend.
func NewManager(backend Cache, policy TTLPolicy) *Manager {
	return &Manager{backend: backend, policy: policy}
}

// TTL returns the duration for a TTL class.
func (m *Manager) TTL(class TTLClass) time.Duration {
	return m.policy.Duration(class)
}

// GetJSON reads and decodes a cached JSON value into dest.
// Returns ErrNotFound on miss. Backend failures are logged and reported as
// misses so the caller performs a direct authority read.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := m.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		logging.Op().Warn("cache read failed, treating as miss", "key", key, "error", err)
		return ErrNotFound
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry is unreadable forever; drop it.
		_ = m.backend.Delete(ctx, key)
		return ErrNotFound
	}
	return nil
}

// SetJSON encodes and stores a value under the TTL of the given class.
func (m *Manager) SetJSON(ctx context.Context, key string, value any, class TTLClass) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return m.backend.Set(ctx, key, data, m.policy.Duration(class))
}

// Delete evicts a single key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, key)
}

// Apply performs an invalidation set: all listed keys, then all patterns.
// Errors are joined so one failed eviction does not mask the others.
func (m *Manager) Apply(ctx context.Context, inv Invalidation) error {
	var errs []error
	for _, key := range inv.Keys {
		if err := m.backend.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	for _, pattern := range inv.Patterns {
		if err := m.backend.DeletePattern(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("delete pattern %s: %w", pattern, err))
		}
	}
	return errors.Join(errs...)
}

// Ping verifies backend connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
