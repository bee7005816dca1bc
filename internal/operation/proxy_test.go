package operation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/cache"
)

// fakeEngine replays a scripted sequence of status snapshots per operation.
type fakeEngine struct {
	mu          sync.Mutex
	sequences   map[string][]*Record
	statusCalls int
	cancelled   map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		sequences: make(map[string][]*Record),
		cancelled: make(map[string]bool),
	}
}

func (e *fakeEngine) script(id string, recs ...*Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequences[id] = recs
}

func (e *fakeEngine) Initiate(ctx context.Context, opType string, payload json.RawMessage) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.sequences["new"]
	if !ok || len(seq) == 0 {
		return nil, ErrEngineUnavailable
	}
	first := seq[0]
	e.sequences[first.ID] = seq
	return e.advanceLocked(first.ID), nil
}

func (e *fakeEngine) Status(ctx context.Context, operationID string) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusCalls++
	if _, ok := e.sequences[operationID]; !ok {
		return nil, ErrNotFound
	}
	return e.advanceLocked(operationID), nil
}

// advanceLocked pops the next snapshot, holding the last one forever.
func (e *fakeEngine) advanceLocked(id string) *Record {
	seq := e.sequences[id]
	rec := seq[0]
	if len(seq) > 1 {
		e.sequences[id] = seq[1:]
	}
	return rec
}

func (e *fakeEngine) Cancel(ctx context.Context, operationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sequences[operationID]; !ok {
		return ErrNotFound
	}
	e.cancelled[operationID] = true
	e.sequences[operationID] = []*Record{{ID: operationID, State: StateCancelled}}
	return nil
}

func (e *fakeEngine) statusCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusCalls
}

func running(id string, pct int) *Record {
	return &Record{ID: id, Type: "provision", State: StateRunning, Progress: Progress{Percentage: pct}}
}

func completed(id string) *Record {
	return &Record{ID: id, Type: "provision", State: StateCompleted, Progress: Progress{Percentage: 100}}
}

// testPolicy expires volatile entries almost immediately so polling tests
// observe engine-side transitions.
func testPolicy() cache.TTLPolicy {
	p := cache.DefaultTTLPolicy()
	p.Volatile = time.Millisecond
	return p
}

func newTestProxy(engine Engine, cfg Config) *Proxy {
	mgr := cache.NewManager(cache.NewInMemoryCache(), testPolicy())
	return NewProxy(engine, mgr, cfg)
}

func TestProxy_TerminalRecordCached(t *testing.T) {
	engine := newFakeEngine()
	engine.script("op1", completed("op1"))
	p := newTestProxy(engine, DefaultConfig())
	ctx := context.Background()

	rec, err := p.GetStatus(ctx, "op1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if rec.State != StateCompleted {
		t.Fatalf("expected completed, got %s", rec.State)
	}

	for i := 0; i < 5; i++ {
		if _, err := p.GetStatus(ctx, "op1"); err != nil {
			t.Fatalf("cached GetStatus failed: %v", err)
		}
	}
	if got := engine.statusCallCount(); got != 1 {
		t.Fatalf("terminal record should be served from cache, engine saw %d calls", got)
	}
}

func TestProxy_NotFound(t *testing.T) {
	p := newTestProxy(newFakeEngine(), DefaultConfig())
	if _, err := p.GetStatus(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProxy_InitiateAsync(t *testing.T) {
	engine := newFakeEngine()
	engine.script("new", running("op1", 0), completed("op1"))
	p := newTestProxy(engine, DefaultConfig())

	rec, err := p.Initiate(context.Background(), "provision", nil, false)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if rec.State != StateRunning {
		t.Fatalf("async initiate should return the running handle, got %s", rec.State)
	}
}

func TestProxy_InitiateSynchronousWait(t *testing.T) {
	engine := newFakeEngine()
	engine.script("new", running("op1", 0), running("op1", 50), completed("op1"))
	p := newTestProxy(engine, Config{SyncWait: time.Second, PollInterval: 5 * time.Millisecond})

	rec, err := p.Initiate(context.Background(), "provision", nil, true)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if rec.State != StateCompleted {
		t.Fatalf("synchronous initiate should wait for the terminal state, got %s", rec.State)
	}
}

func TestProxy_InitiateSynchronousTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.script("new", running("op1", 10))
	p := newTestProxy(engine, Config{SyncWait: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	rec, err := p.Initiate(context.Background(), "provision", nil, true)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if rec.State != StateRunning {
		t.Fatalf("spent wait budget should degrade to the running handle, got %s", rec.State)
	}
}

func TestProxy_CancelEvictsCache(t *testing.T) {
	engine := newFakeEngine()
	engine.script("op1", running("op1", 10), running("op1", 10))
	mgr := cache.NewManager(cache.NewInMemoryCache(), cache.DefaultTTLPolicy())
	p := NewProxy(engine, mgr, DefaultConfig())
	ctx := context.Background()

	// Populate the cache with the running record (default volatile TTL
	// keeps it warm for the whole test).
	if _, err := p.GetStatus(ctx, "op1"); err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}

	if err := p.Cancel(ctx, "op1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	rec, err := p.GetStatus(ctx, "op1")
	if err != nil {
		t.Fatalf("GetStatus after cancel failed: %v", err)
	}
	if rec.State != StateCancelled {
		t.Fatalf("poll after cancel must not serve the stale running record, got %s", rec.State)
	}
}

func TestProxy_CancelUnknown(t *testing.T) {
	p := newTestProxy(newFakeEngine(), DefaultConfig())
	if err := p.Cancel(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateRunning.Terminal() {
		t.Fatal("running is not terminal")
	}
}
