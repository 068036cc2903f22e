package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cogentcore.org/core/math32"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	v1 "github.com/jaennil/guide_helper/tilestream/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/tilestream/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/tilestream/internal/layer"
	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/internal/view"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/http_server"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
	"github.com/jaennil/guide_helper/tilestream/pkg/telemetry"
)

// webMercatorBound is the half width of the EPSG:3857 square in meters.
const webMercatorBound = 20037508.342789244

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	l.Info("app config", "cfg", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, l)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
		l.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
	}

	store, err := cache.NewTileStore(cfg, l)
	if err != nil {
		l.Fatal("failed to initialize tile store", "kind", cfg.Store.Kind, "error", err)
	}
	defer store.Close()

	validate := validator.New()
	sched := scheduler.New(cfg.Scheduler, l)
	requests := cache.New(cfg.Cache)

	cam := lod.NewPerspectiveCamera(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FOV)
	cam.LookAt(math32.Vec3(0, 0, webMercatorBound), math32.Vec3(0, 0, 0), math32.Vec3(0, 1, 0))

	vw := view.New(cam, sched, validate, l)
	if err := registerProviders(vw, cfg, store, l); err != nil {
		l.Fatal("failed to register providers", "error", err)
	}
	if err := addLayers(ctx, vw, cfg); err != nil {
		l.Fatal("failed to add layers", "error", err)
	}

	metric, err := lod.NewMetric(cfg.LOD.Metric)
	if err != nil {
		l.Fatal("failed to select error metric", "error", err)
	}
	engine, err := lod.NewEngine(cfg.LOD, metric, l)
	if err != nil {
		l.Fatal("failed to create refinement engine", "error", err)
	}

	loop := view.NewMainLoop(vw, engine, requests, sched, view.NewBus(), view.Options{
		Frame:      cfg.Frame,
		CacheTTL:   cfg.Cache.TTL,
		MaxRetries: cfg.Scheduler.MaxRetries,
	}, l)
	loop.NotifyChange(lod.CameraChanged{}, true)

	h := handler.NewHandler(validate, loop, l)
	router := v1.NewRouter(h, l, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)
	httpServer := http_server.NewServer(ctx, cfg.HTTP.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		l.Info("starting http server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		l.Info("http server stopped", "address", httpServer.Addr)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info("received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		l.Info("shutting down http server...", "address", httpServer.Addr)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			l.Error("http server shutdown failed", "error", err)
			return err
		}
		l.Info("http_server shutdown completed")
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("application stopped with error", "error", err)
		os.Exit(1)
	}
	l.Info("application shutdown completed")
}

func registerProviders(vw *view.View, cfg *config.Config, store cache.TileStore, l logger.Logger) error {
	providers := map[string]provider.Provider{
		provider.ProtocolXYZ:        provider.NewXYZ(cfg.Upstream, store, l),
		provider.ProtocolTerrarium:  provider.NewTerrarium(cfg.Upstream, store, l),
		provider.ProtocolProcedural: provider.NewProcedural(0, l),
	}
	for _, protocol := range []string{provider.ProtocolProcedural, provider.ProtocolXYZ, provider.ProtocolTerrarium} {
		if err := vw.RegisterProvider(protocol, providers[protocol]); err != nil {
			return err
		}
	}
	return nil
}

// addLayers sets up the default scene: a Web Mercator terrain draped with
// the configured imagery, displaced by elevation when a source is set.
func addLayers(ctx context.Context, vw *view.View, cfg *config.Config) error {
	world := tile.NewExtent(tile.CRSWebMercator, -webMercatorBound, -webMercatorBound, webMercatorBound, webMercatorBound)

	terrain := layer.NewGeometryLayer(layer.GeometryOptions{
		Options: layer.Options{
			ID: "terrain",
			Source: provider.Source{
				ID:       "terrain",
				Protocol: provider.ProtocolProcedural,
				Extent:   world,
				MaxZoom:  cfg.Upstream.MaxZoom,
			},
		},
		GeometricError: float32(webMercatorBound) / 8,
		MinHeight:      -500,
		MaxHeight:      9000,
		CleanupDelay:   cfg.Frame.CleanupDelay,
	})
	if err := vw.AddLayer(ctx, terrain); err != nil {
		return err
	}

	imagery := layer.NewColorLayer(layer.Options{
		ID: "imagery",
		Source: provider.Source{
			ID:       "osm",
			Protocol: provider.ProtocolXYZ,
			URL:      cfg.Upstream.ImageryURL,
			MaxZoom:  cfg.Upstream.MaxZoom,
		},
		AttachTo: terrain.ID(),
	})
	if err := vw.AddLayer(ctx, imagery); err != nil {
		return err
	}

	if cfg.Upstream.ElevationURL == "" {
		return nil
	}
	elevation := layer.NewElevationLayer(layer.Options{
		ID: "elevation",
		Source: provider.Source{
			ID:       "terrarium",
			Protocol: provider.ProtocolTerrarium,
			URL:      cfg.Upstream.ElevationURL,
			MaxZoom:  15,
		},
		AttachTo: terrain.ID(),
	})
	return vw.AddLayer(ctx, elevation)
}
