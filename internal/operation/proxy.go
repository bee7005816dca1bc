package operation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/metrics"
)

// Config holds proxy timing parameters.
type Config struct {
	// SyncWait bounds how long Initiate blocks when the caller asked for
	// a synchronous result before degrading to an operation handle.
	SyncWait time.Duration `json:"sync_wait" yaml:"sync_wait"`

	// PollInterval is the engine polling cadence for synchronous waits
	// and streaming subscriptions.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// DefaultConfig returns the default proxy timing.
func DefaultConfig() Config {
	return Config{
		SyncWait:     10 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Proxy initiates and observes operations on the workflow engine, caching
// status reads. Terminal records are immutable and long-cached; running
// records are cached just long enough to absorb a burst of simultaneous
// polls without letting streaming staleness grow unbounded.
type Proxy struct {
	engine Engine
	cache  *cache.Manager
	cfg    Config
}

// NewProxy creates an operation proxy.
func NewProxy(engine Engine, cacheMgr *cache.Manager, cfg Config) *Proxy {
	if cfg.SyncWait <= 0 {
		cfg.SyncWait = DefaultConfig().SyncWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Proxy{
		engine: engine,
		cache:  cacheMgr,
		cfg:    cfg,
	}
}

// Initiate starts an operation on the engine. When synchronous is set and
// the engine completes within the bounded wait, the terminal record is
// returned directly; otherwise the caller receives the running record as a
// polling handle.
func (p *Proxy) Initiate(ctx context.Context, opType string, payload json.RawMessage, synchronous bool) (*Record, error) {
	rec, err := p.engine.Initiate(ctx, opType, payload)
	if err != nil {
		return nil, err
	}
	metrics.RecordOperationInitiated(opType)

	if synchronous && !rec.State.Terminal() {
		rec = p.waitBounded(ctx, rec)
	}

	p.cacheStatus(ctx, rec)
	return rec, nil
}

// waitBounded polls the engine until the operation reaches a terminal state
// or the synchronous wait budget is spent, returning the latest snapshot
// either way.
func (p *Proxy) waitBounded(ctx context.Context, rec *Record) *Record {
	deadline := time.Now().Add(p.cfg.SyncWait)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for !rec.State.Terminal() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return rec
		case <-ticker.C:
			latest, err := p.engine.Status(ctx, rec.ID)
			if err != nil {
				return rec
			}
			rec = latest
		}
	}
	return rec
}

// GetStatus returns the operation record, serving cached copies according
// to the terminal/running policy.
func (p *Proxy) GetStatus(ctx context.Context, operationID string) (*Record, error) {
	key := cache.OperationKey(operationID)

	var cached Record
	if err := p.cache.GetJSON(ctx, key, &cached); err == nil {
		metrics.RecordCacheHit("operation")
		return &cached, nil
	}
	metrics.RecordCacheMiss("operation")

	rec, err := p.engine.Status(ctx, operationID)
	if err != nil {
		return nil, err
	}
	p.cacheStatus(ctx, rec)
	return rec, nil
}

// Cancel forwards cancellation to the engine and immediately evicts the
// cached status so the next poll observes the effect rather than a stale
// running record.
func (p *Proxy) Cancel(ctx context.Context, operationID string) error {
	if err := p.engine.Cancel(ctx, operationID); err != nil {
		return err
	}
	metrics.RecordOperationCancelled()
	return p.cache.Delete(ctx, cache.OperationKey(operationID))
}

// cacheStatus stores a record under the TTL class its state demands:
// terminal records never change and get the terminal class, running records
// get the volatile class.
func (p *Proxy) cacheStatus(ctx context.Context, rec *Record) {
	class := cache.TTLVolatile
	if rec.State.Terminal() {
		class = cache.TTLTerminal
	}
	_ = p.cache.SetJSON(ctx, cache.OperationKey(rec.ID), rec, class)
}
