package cache

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

const (
	smallTileSize  = 1024      // 1KB
	mediumTileSize = 10 * 1024 // 10KB
	largeTileSize  = 50 * 1024 // 50KB
)

func generateTileData(size int) []byte {
	data := make([]byte, size)
	rand.Read(data)
	return data
}

func benchKey(i, mod int) TileKey {
	return TileKey{Dataset: "osm", X: uint32(i % mod), Y: uint32(i % mod), Z: uint32(i % 20)}
}

func benchStores(b *testing.B) map[string]TileStore {
	b.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(b.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		b.Fatalf("Failed to create SQLite store: %v", err)
	}
	fsStore, err := NewFilesystemStore(b.TempDir())
	if err != nil {
		b.Fatalf("Failed to create filesystem store: %v", err)
	}
	b.Cleanup(func() {
		sqlite.Close()
	})

	return map[string]TileStore{
		"SQLite":     sqlite,
		"Map":        NewMapStore(),
		"Filesystem": fsStore,
	}
}

func BenchmarkSet(b *testing.B) {
	ctx := context.Background()
	for _, size := range []struct {
		name string
		n    int
	}{{"Small", smallTileSize}, {"Large", largeTileSize}} {
		for name, s := range benchStores(b) {
			b.Run(name+"_"+size.name, func(b *testing.B) {
				data := generateTileData(size.n)
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := s.Set(ctx, benchKey(i, 1000), data); err != nil {
						b.Fatalf("Set failed: %v", err)
					}
				}
			})
		}
	}
}

func BenchmarkGet(b *testing.B) {
	ctx := context.Background()
	for _, size := range []struct {
		name string
		n    int
	}{{"Small", smallTileSize}, {"Large", largeTileSize}} {
		for name, s := range benchStores(b) {
			b.Run(name+"_"+size.name, func(b *testing.B) {
				data := generateTileData(size.n)
				for i := 0; i < 100; i++ {
					s.Set(ctx, benchKey(i, 100), data)
				}

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, _, err := s.Get(ctx, benchKey(i, 100)); err != nil {
						b.Fatalf("Get failed: %v", err)
					}
				}
			})
		}
	}
}

// 80% reads, 20% writes
func BenchmarkMixed(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			data := generateTileData(mediumTileSize)
			for i := 0; i < 50; i++ {
				s.Set(ctx, benchKey(i, 100), data)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if i%5 == 0 {
					s.Set(ctx, benchKey(i, 100), data)
				} else {
					s.Get(ctx, benchKey(i, 100))
				}
			}
		})
	}
}

func BenchmarkConcurrent(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			data := generateTileData(mediumTileSize)
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					if i%5 == 0 {
						s.Set(ctx, benchKey(i, 100), data)
					} else {
						s.Get(ctx, benchKey(i, 100))
					}
					i++
				}
			})
		})
	}
}

func BenchmarkRequestCache(b *testing.B) {
	c, _ := newTestCache(256, 0)
	data := generateTileData(smallTileSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := benchKey(i, 1000).String()
		if _, ok := c.Get(k); !ok {
			c.Set(k, data, 0)
		}
	}
}
