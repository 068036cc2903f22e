package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
	"github.com/jaennil/guide_helper/tilestream/pkg/metrics"
)

// TileKey addresses an encoded tile in a persistent store, in the y-down
// scheme of the upstream server.
type TileKey struct {
	Dataset string
	Z       uint32
	X       uint32
	Y       uint32
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Dataset, k.Z, k.X, k.Y)
}

// TileStore keeps encoded upstream tiles across runs. A miss is reported
// with ok == false and a nil error.
type TileStore interface {
	Get(ctx context.Context, k TileKey) (data []byte, ok bool, err error)
	Set(ctx context.Context, k TileKey, data []byte) error
	Close() error
}

// NewTileStore opens the store selected by cfg.Store.Kind.
func NewTileStore(cfg *config.Config, l logger.Logger) (TileStore, error) {
	switch cfg.Store.Kind {
	case "memory", "":
		return NewMapStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Store.SQLitePath, l)
	case "redis":
		return NewRedisStore(cfg.Redis)
	case "filesystem":
		return NewFilesystemStore(cfg.Store.Dir)
	default:
		return nil, fmt.Errorf("unknown tile store kind %q", cfg.Store.Kind)
	}
}

func observe(store, operation string, start time.Time, err error) {
	metrics.StoreOperationDuration.WithLabelValues(store, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(store, operation).Inc()
	}
}
