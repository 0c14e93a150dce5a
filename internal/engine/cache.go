package engine

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/shaiso/flowbot/internal/domain"
)

// defaultCacheSize — максимальное число скомпилированных flow в кэше.
const defaultCacheSize = 256

// CacheKey — ключ кэша: версия flow неизменна, поэтому (flowID, version) однозначна.
type CacheKey struct {
	FlowID  uuid.UUID
	Version int
}

func (k CacheKey) String() string {
	return k.FlowID.String() + ":" + strconv.Itoa(k.Version)
}

// Loader загружает версию flow для компиляции.
type Loader func(ctx context.Context) (*domain.FlowVersion, error)

// Cache — кэш скомпилированных flow.
//
// Одновременные промахи по одному ключу выполняют одну компиляцию.
type Cache struct {
	mu    sync.RWMutex
	items map[CacheKey]*CompiledFlow
	max   int
	group singleflight.Group
}

// NewCache создаёт кэш. size <= 0 — размер по умолчанию.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{
		items: make(map[CacheKey]*CompiledFlow),
		max:   size,
	}
}

// Get возвращает скомпилированный flow, загружая и компилируя его при промахе.
func (c *Cache) Get(ctx context.Context, key CacheKey, load Loader) (*CompiledFlow, error) {
	c.mu.RLock()
	cf, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return cf, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.RLock()
		cached, ok := c.items[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		version, err := load(ctx)
		if err != nil {
			return nil, err
		}
		compiled, err := Compile(version)
		if err != nil {
			return nil, err
		}

		c.put(key, compiled)
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledFlow), nil
}

func (c *Cache) put(key CacheKey, cf *CompiledFlow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.max {
		// Вытесняем произвольную запись
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	c.items[key] = cf
}

// Invalidate удаляет из кэша все версии flow.
func (c *Cache) Invalidate(flowID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.items {
		if k.FlowID == flowID {
			delete(c.items, k)
		}
	}
}

// Len возвращает количество записей в кэше.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
