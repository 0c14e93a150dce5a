package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
)

func TestCache_CompilesOncePerKey(t *testing.T) {
	cache := NewCache(0)
	key := CacheKey{FlowID: uuid.New(), Version: 1}

	var loads atomic.Int32
	loader := func(ctx context.Context) (*domain.FlowVersion, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &domain.FlowVersion{FlowID: key.FlowID, Version: 1, Definition: *bookFlow()}, nil
	}

	var wg sync.WaitGroup
	results := make([]*CompiledFlow, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cf, err := cache.Get(context.Background(), key, loader)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = cf
		}(i)
	}
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("expected 1 load, got %d", n)
	}
	for _, cf := range results {
		if cf != results[0] {
			t.Fatal("expected the same compiled flow for all callers")
		}
	}
	if results[0].FlowID != key.FlowID || results[0].Version != 1 {
		t.Errorf("unexpected key on compiled flow: %s v%d", results[0].FlowID, results[0].Version)
	}

	// Повторный вызов берётся из кэша
	if _, err := cache.Get(context.Background(), key, loader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := loads.Load(); n != 1 {
		t.Errorf("expected cached result, got %d loads", n)
	}
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	cache := NewCache(0)
	key := CacheKey{FlowID: uuid.New(), Version: 2}
	loadErr := errors.New("db down")

	_, err := cache.Get(context.Background(), key, func(ctx context.Context) (*domain.FlowVersion, error) {
		return nil, loadErr
	})
	if !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}

	cf, err := cache.Get(context.Background(), key, func(ctx context.Context) (*domain.FlowVersion, error) {
		return &domain.FlowVersion{FlowID: key.FlowID, Version: 2, Definition: *bookFlow()}, nil
	})
	if err != nil || cf == nil {
		t.Fatalf("expected successful retry, got %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", cache.Len())
	}
}

func TestCache_InvalidAndEviction(t *testing.T) {
	cache := NewCache(2)
	flowID := uuid.New()

	load := func(v int) Loader {
		return func(ctx context.Context) (*domain.FlowVersion, error) {
			return &domain.FlowVersion{FlowID: flowID, Version: v, Definition: *bookFlow()}, nil
		}
	}

	for v := 1; v <= 3; v++ {
		if _, err := cache.Get(context.Background(), CacheKey{FlowID: flowID, Version: v}, load(v)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cache.Len() != 2 {
		t.Errorf("expected eviction down to 2 entries, got %d", cache.Len())
	}

	cache.Invalidate(flowID)
	if cache.Len() != 0 {
		t.Errorf("expected empty cache after invalidate, got %d", cache.Len())
	}

	// Невалидный flow не попадает в кэш
	_, err := cache.Get(context.Background(), CacheKey{FlowID: flowID, Version: 9}, func(ctx context.Context) (*domain.FlowVersion, error) {
		return &domain.FlowVersion{FlowID: flowID, Version: 9}, nil
	})
	if !errors.Is(err, ErrEmptyNodes) {
		t.Errorf("expected ErrEmptyNodes, got %v", err)
	}
}
