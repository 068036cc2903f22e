package cache

import (
	"context"
	"sync"
)

// MapStore keeps tiles in process memory for the lifetime of the viewer.
type MapStore struct {
	m *typedSyncMap
}

type typedSyncMap struct {
	m sync.Map
}

func (c *typedSyncMap) Load(k TileKey) ([]byte, bool) {
	v, exists := c.m.Load(k)
	if !exists {
		return nil, false
	}
	return v.([]byte), true
}

func (c *typedSyncMap) Store(k TileKey, v []byte) {
	c.m.Store(k, v)
}

func NewMapStore() *MapStore {
	return &MapStore{
		m: &typedSyncMap{},
	}
}

var _ TileStore = (*MapStore)(nil)

func (c *MapStore) Get(_ context.Context, k TileKey) ([]byte, bool, error) {
	v, exists := c.m.Load(k)
	return v, exists, nil
}

func (c *MapStore) Set(_ context.Context, k TileKey, v []byte) error {
	c.m.Store(k, v)
	return nil
}

func (c *MapStore) Close() error {
	return nil
}
