package memory

import (
	"context"
	"errors"
	"testing"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

func TestFactorDefinitionStore_InsertAndGet(t *testing.T) {
	store := NewFactorDefinitionStore()
	ctx := context.Background()

	defs := []*domain.FactorDefinition{
		{Name: "MA5", Formula: "Mean($close, 5)/$close", Group: "rolling"},
		{Name: "KMID", Formula: "($close-$open)/$open", Group: "kbar"},
		{Name: "MA10", Formula: "Mean($close, 10)/$close", Group: "rolling"},
	}
	if err := store.InsertBulk(ctx, defs); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	d, err := store.GetByName(ctx, "KMID")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if d.Formula != "($close-$open)/$open" {
		t.Errorf("Unexpected formula %q", d.Formula)
	}

	rolling, _ := store.GetByGroup(ctx, "rolling")
	if len(rolling) != 2 || rolling[0].Name != "MA10" || rolling[1].Name != "MA5" {
		t.Errorf("Expected MA10, MA5, got %v", rolling)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 3 {
		t.Errorf("Expected 3 definitions, got %d", len(all))
	}

	if _, err := store.GetByName(ctx, "NOPE"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFactorDefinitionStore_Duplicate(t *testing.T) {
	store := NewFactorDefinitionStore()
	ctx := context.Background()

	d := &domain.FactorDefinition{Name: "MA5", Formula: "Mean($close, 5)/$close"}
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, d); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	batch := []*domain.FactorDefinition{
		{Name: "A", Formula: "$close"},
		{Name: "MA5", Formula: "$open"},
	}
	if err := store.InsertBulk(ctx, batch); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.GetByName(ctx, "A"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected failed batch to insert nothing, got %v", err)
	}
	if err := store.Insert(ctx, &domain.FactorDefinition{Name: "B"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestProgressStore(t *testing.T) {
	store := NewProgressStore()
	ctx := context.Background()

	if _, err := store.GetLastProcessed(ctx, rb1m); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	for _, ts := range []int64{1000, 2000} {
		p := &storage.ComputeProgress{Symbol: "rb2405", Interval: "1m", LastTimestampMs: ts}
		if err := store.SetLastProcessed(ctx, p); err != nil {
			t.Fatalf("SetLastProcessed failed: %v", err)
		}
	}

	p, err := store.GetLastProcessed(ctx, rb1m)
	if err != nil {
		t.Fatalf("GetLastProcessed failed: %v", err)
	}
	if p.LastTimestampMs != 2000 {
		t.Errorf("Expected 2000, got %d", p.LastTimestampMs)
	}

	if err := store.SetLastProcessed(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
