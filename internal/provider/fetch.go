package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
	"github.com/jaennil/guide_helper/tilestream/pkg/metrics"
)

// fetcher downloads encoded tiles from a {z}/{x}/{y} server, reading
// through and writing back to a persistent store.
type fetcher struct {
	protocol   string
	userAgent  string
	referer    string
	httpClient *http.Client
	store      cache.TileStore
	logger     logger.Logger
}

func newFetcher(protocol string, cfg config.Upstream, store cache.TileStore, l logger.Logger) *fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &fetcher{
		protocol:  protocol,
		userAgent: cfg.UserAgent,
		referer:   cfg.Referer,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		store:  store,
		logger: l.With("protocol", protocol),
	}
}

// expandURL fills a tile URL template. The tree counts rows northwards,
// XYZ servers southwards.
func expandURL(template string, c tile.Coordinate) string {
	xyz := c.FlipY()
	return strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(xyz.Level), 10),
		"{x}", strconv.FormatUint(uint64(xyz.X), 10),
		"{y}", strconv.FormatUint(uint64(xyz.Y), 10),
	).Replace(template)
}

func (f *fetcher) fetch(ctx context.Context, src *Source, c tile.Coordinate) ([]byte, error) {
	xyz := c.FlipY()
	key := cache.TileKey{Dataset: src.ID, Z: xyz.Level, X: xyz.X, Y: xyz.Y}

	if f.store != nil {
		data, ok, err := f.store.Get(ctx, key)
		if err != nil {
			f.logger.Warn("failed to check tile store, will fetch from upstream", "tile", key.String(), "error", err)
		} else if ok {
			f.logger.Debug("tile store hit", "tile", key.String(), "size", len(data))
			return data, nil
		}
	}

	upstreamURL := expandURL(src.URL, c)
	f.logger.Debug("fetching from upstream", "url", upstreamURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Required by the OpenStreetMap tile usage policy
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}

	metrics.UpstreamRequests.WithLabelValues(f.protocol).Inc()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile from upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d for %s", ErrUpstreamStatus, resp.StatusCode, upstreamURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}

	if f.store != nil {
		if err := f.store.Set(context.WithoutCancel(ctx), key, data); err != nil {
			f.logger.Warn("failed to store tile", "tile", key.String(), "error", err)
		}
	}
	return data, nil
}
