package cache

import (
	"context"
	"testing"
	"time"
)

type tenantFixture struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func TestManager_SetGetJSON(t *testing.T) {
	backend := NewInMemoryCache()
	defer backend.Close()
	m := NewManager(backend, DefaultTTLPolicy())
	ctx := context.Background()

	in := tenantFixture{ID: "t1", Name: "Acme", Status: "active"}
	if err := m.SetJSON(ctx, TenantKey("t1"), in, TTLMedium); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var out tenantFixture
	if err := m.GetJSON(ctx, TenantKey("t1"), &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestManager_GetJSONMiss(t *testing.T) {
	backend := NewInMemoryCache()
	defer backend.Close()
	m := NewManager(backend, DefaultTTLPolicy())

	var out tenantFixture
	if err := m.GetJSON(context.Background(), TenantKey("absent"), &out); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_CorruptEntryDropped(t *testing.T) {
	backend := NewInMemoryCache()
	defer backend.Close()
	m := NewManager(backend, DefaultTTLPolicy())
	ctx := context.Background()

	backend.Set(ctx, "bad", []byte("{not json"), time.Minute)

	var out tenantFixture
	if err := m.GetJSON(ctx, "bad", &out); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for corrupt entry, got %v", err)
	}
	if ok, _ := backend.Exists(ctx, "bad"); ok {
		t.Fatal("corrupt entry should have been deleted")
	}
}

func TestTTLPolicy_ClassMapping(t *testing.T) {
	p := DefaultTTLPolicy()
	cases := []struct {
		class TTLClass
		want  time.Duration
	}{
		{TTLShort, 120 * time.Second},
		{TTLMedium, 300 * time.Second},
		{TTLLong, 1800 * time.Second},
		{TTLPeriod, 600 * time.Second},
		{TTLVolatile, 10 * time.Second},
		{TTLTerminal, 3600 * time.Second},
		{TTLClass("unknown"), 300 * time.Second},
	}
	for _, c := range cases {
		if got := p.Duration(c.class); got != c.want {
			t.Errorf("class %s: expected %v, got %v", c.class, c.want, got)
		}
	}
}

func TestManager_ApplyInvalidation(t *testing.T) {
	backend := NewInMemoryCache()
	defer backend.Close()
	m := NewManager(backend, DefaultTTLPolicy())
	ctx := context.Background()

	m.SetJSON(ctx, TenantKey("t1"), tenantFixture{ID: "t1"}, TTLMedium)
	m.SetJSON(ctx, TenantContextKey("t1", "u1"), tenantFixture{ID: "t1"}, TTLMedium)
	m.SetJSON(ctx, TenantContextKey("t1", "u2"), tenantFixture{ID: "t1"}, TTLMedium)
	m.SetJSON(ctx, TenantContextKey("t2", "u1"), tenantFixture{ID: "t2"}, TTLMedium)

	if err := m.Apply(ctx, TenantInvalidation("t1")); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	var out tenantFixture
	if err := m.GetJSON(ctx, TenantKey("t1"), &out); err != ErrNotFound {
		t.Fatal("tenant record should be evicted")
	}
	if err := m.GetJSON(ctx, TenantContextKey("t1", "u1"), &out); err != ErrNotFound {
		t.Fatal("t1 contexts should be evicted")
	}
	if err := m.GetJSON(ctx, TenantContextKey("t2", "u1"), &out); err != nil {
		t.Fatalf("t2 context should survive, got %v", err)
	}
}

func TestInvalidation_Merge(t *testing.T) {
	a := Invalidation{Keys: []string{"k1"}, Patterns: []string{"p1:*"}}
	b := Invalidation{Keys: []string{"k2"}}

	merged := a.Merge(b)
	if len(merged.Keys) != 2 || len(merged.Patterns) != 1 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
	if merged.Empty() {
		t.Fatal("merged set should not be empty")
	}
	if !(Invalidation{}).Empty() {
		t.Fatal("zero invalidation should be empty")
	}
}
