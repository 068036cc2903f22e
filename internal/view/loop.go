package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/layer"
	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
	"github.com/jaennil/guide_helper/tilestream/pkg/metrics"
)

var ErrFixedCamera = errors.New("camera cannot be moved")

type State int32

const (
	StatePaused State = iota
	StateScheduled
)

func (s State) String() string {
	if s == StateScheduled {
		return "scheduled"
	}
	return "paused"
}

// Diagnostics is a snapshot readable from any goroutine.
type Diagnostics struct {
	State       string         `json:"state"`
	Pending     int            `json:"pending"`
	Running     int            `json:"running"`
	CacheCount  int            `json:"cache_count"`
	CacheSize   int64          `json:"cache_size"`
	Passes      uint64         `json:"passes"`
	Near        float32        `json:"near"`
	Far         float32        `json:"far"`
	TilesLive   map[string]int `json:"tiles_live"`
	TilesShown  map[string]int `json:"tiles_displayed"`
	LastPassAt  time.Time      `json:"last_pass_at"`
	LastPassDur time.Duration  `json:"last_pass_duration"`
}

type Options struct {
	Frame      config.Frame
	CacheTTL   time.Duration
	MaxRetries int
	Renderer   Renderer
}

// MainLoop drives update passes. A pass only happens on a refresh tick
// after something called NotifyChange; all tree, cache and queue mutations
// happen on the goroutine running Run (or calling Step in tests).
type MainLoop struct {
	view      *View
	engine    *lod.Engine
	cache     *cache.Cache
	scheduler *scheduler.Scheduler
	bus       *Bus
	opts      Options
	logger    logger.Logger

	mu          sync.Mutex
	state       State
	needsRedraw bool
	changes     *lod.ChangeSources
	diag        Diagnostics

	posted        chan func()
	busy          bool
	lastCompacted time.Time
}

func NewMainLoop(v *View, engine *lod.Engine, c *cache.Cache, s *scheduler.Scheduler, bus *Bus, opts Options, l logger.Logger) *MainLoop {
	return &MainLoop{
		view:      v,
		engine:    engine,
		cache:     c,
		scheduler: s,
		bus:       bus,
		opts:      opts,
		logger:    l,
		changes:   lod.NewChangeSources(),
		posted:    make(chan func(), 64),
	}
}

func (m *MainLoop) View() *View {
	return m.view
}

func (m *MainLoop) Bus() *Bus {
	return m.bus
}

func (m *MainLoop) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// NotifyChange records src and schedules a pass on the next tick. redraw
// is sticky until the next pass. Safe to call from any goroutine.
func (m *MainLoop) NotifyChange(src lod.Source, redraw bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src != nil {
		m.changes.Add(src)
	}
	m.needsRedraw = m.needsRedraw || redraw
	m.state = StateScheduled
}

// Post queues fn to run on the loop goroutine.
func (m *MainLoop) Post(ctx context.Context, fn func()) error {
	select {
	case m.posted <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop goroutine and waits for it.
func (m *MainLoop) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := m.Post(ctx, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the loop until ctx is done: refresh ticks run scheduled
// passes, completions are applied as they arrive and posted work runs in
// between.
func (m *MainLoop) Run(ctx context.Context) error {
	interval := m.opts.Frame.RefreshInterval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("main loop started", "refresh_interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("main loop stopped")
			return nil
		case fn := <-m.posted:
			fn()
		case <-m.scheduler.Completions():
			m.scheduler.Poll()
			m.checkIdle(time.Now())
			m.scheduler.Dispatch(ctx)
		case now := <-ticker.C:
			if m.State() == StateScheduled {
				m.Step(ctx, now)
			}
		}
	}
}

// Step runs one update pass.
func (m *MainLoop) Step(ctx context.Context, now time.Time) {
	start := time.Now()

	m.mu.Lock()
	changes := m.changes
	m.changes = lod.NewChangeSources()
	redraw := m.needsRedraw
	m.needsRedraw = false
	// changes notified during the pass schedule the next one
	m.state = StatePaused
	m.mu.Unlock()

	m.bus.Commit()
	m.bus.Emit(Event{Phase: PhaseUpdateStart, Time: now})

	cam := m.view.Camera()
	m.bus.Emit(Event{Phase: PhaseBeforeCameraUpdate, Time: now})
	cam.SetNearFar(m.opts.Frame.MinNear, m.opts.Frame.MaxFar)
	m.bus.Emit(Event{Phase: PhaseAfterCameraUpdate, Time: now})

	distMin, distMax := math32.Inf(1), float32(0)
	live := make(map[string]int)
	shown := make(map[string]int)
	for _, g := range m.view.GeometryLayers() {
		if scope, update := changes.Scope(g.ID()); update {
			m.bus.Emit(Event{Phase: PhaseBeforeLayerUpdate, Time: now, Layer: g.ID()})
			res := m.engine.Update(g, cam, scope, now)
			m.updateData(g, res)
			redraw = redraw || res.Changed
			m.bus.Emit(Event{Phase: PhaseAfterLayerUpdate, Time: now, Layer: g.ID()})
		}

		// scoped and skipped layers still draw the tiles they did not visit
		span := lod.DisplayedSpan(g.Tree())
		distMin = math32.Min(distMin, span.DistanceMin)
		distMax = math32.Max(distMax, span.DistanceMax)

		live[g.ID()] = g.Tree().Len()
		shown[g.ID()] = span.Displayed
		metrics.TilesLive.WithLabelValues(g.ID()).Set(float64(live[g.ID()]))
		metrics.TilesDisplayed.WithLabelValues(g.ID()).Set(float64(span.Displayed))
	}

	near, far := m.tighten(cam, distMin, distMax)

	if redraw && m.opts.Renderer != nil {
		m.bus.Emit(Event{Phase: PhaseBeforeRender, Time: now})
		m.opts.Renderer.Render(m.view)
		metrics.FrameRenders.Inc()
		m.bus.Emit(Event{Phase: PhaseAfterRender, Time: now})
	}

	m.cache.Purge()
	m.compact(now)
	m.checkIdle(now)
	m.scheduler.Dispatch(ctx)

	m.bus.Emit(Event{Phase: PhaseUpdateEnd, Time: now})

	elapsed := time.Since(start)
	metrics.FramePasses.Inc()
	metrics.FrameDuration.Observe(elapsed.Seconds())
	m.publish(func(d *Diagnostics) {
		d.Passes++
		d.Near, d.Far = near, far
		d.TilesLive = live
		d.TilesShown = shown
		d.LastPassAt = now
		d.LastPassDur = elapsed
	})
}

// updateData runs the data updates of the nodes refinement selected.
func (m *MainLoop) updateData(g *layer.GeometryLayer, res lod.Result) {
	tree := g.Tree()
	uc := &layer.UpdateContext{
		Geometry:   g.ID(),
		Tree:       tree,
		Scheduler:  m.scheduler,
		Cache:      m.cache,
		Providers:  m.view.Providers(),
		TTL:        m.opts.CacheTTL,
		MaxRetries: m.opts.MaxRetries,
		Notify:     m.NotifyChange,
		Logger:     m.logger,
	}
	for _, h := range res.Updated {
		if n, ok := tree.Get(h); ok {
			g.Update(uc, h, n)
		}
	}
}

// tighten fits the clip planes to the distance range of the drawn tiles,
// within the configured bounds. Nothing drawn keeps the generous defaults.
func (m *MainLoop) tighten(cam lod.Camera, distMin, distMax float32) (float32, float32) {
	minNear, maxFar := m.opts.Frame.MinNear, m.opts.Frame.MaxFar
	if math32.IsInf(distMin, 1) {
		return cam.NearFar()
	}
	near := math32.Max(minNear, distMin)
	far := math32.Min(maxFar, math32.Max(distMax, near))
	if far <= near {
		far = math32.Min(maxFar, near*2)
	}
	cam.SetNearFar(near, far)
	return near, far
}

func (m *MainLoop) compact(now time.Time) {
	interval := m.opts.Frame.CompactionInterval
	if interval <= 0 || now.Sub(m.lastCompacted) < interval {
		return
	}
	m.lastCompacted = now
	dropped := 0
	for _, g := range m.view.GeometryLayers() {
		dropped += g.Tree().Index().Compact()
	}
	if dropped > 0 {
		m.logger.Debug("tile index compacted", "dropped", dropped)
	}
}

// checkIdle emits PhaseIdle when the scheduler just ran out of work.
func (m *MainLoop) checkIdle(now time.Time) {
	busy := m.scheduler.PendingCount()+m.scheduler.RunningCount() > 0
	if m.busy && !busy {
		m.logger.Debug("all tile data loaded")
		m.bus.Emit(Event{Phase: PhaseIdle, Time: now})
	}
	m.busy = busy
}

func (m *MainLoop) publish(update func(d *Diagnostics)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	update(&m.diag)
}

// Diagnostics is safe to call from any goroutine.
func (m *MainLoop) Diagnostics() Diagnostics {
	m.mu.Lock()
	d := m.diag
	d.State = m.state.String()
	m.mu.Unlock()

	d.Pending = m.scheduler.PendingCount()
	d.Running = m.scheduler.RunningCount()
	d.CacheCount = m.cache.Count()
	d.CacheSize = m.cache.Size()
	return d
}

// MoveCamera points the camera from position at target and schedules a
// full pass.
func (m *MainLoop) MoveCamera(ctx context.Context, position, target math32.Vector3) error {
	return m.Call(ctx, func() error {
		cam, ok := m.view.Camera().(interface {
			LookAt(position, target, up math32.Vector3)
		})
		if !ok {
			return ErrFixedCamera
		}
		cam.LookAt(position, target, math32.Vec3(0, 1, 0))
		m.NotifyChange(lod.CameraChanged{}, true)
		return nil
	})
}

// RefreshLayer clears the definitive errors of a layer so its missing data
// is requested again.
func (m *MainLoop) RefreshLayer(ctx context.Context, id string) (int, error) {
	var reset int
	err := m.Call(ctx, func() error {
		l, ok := m.view.Layer(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
		}
		g := m.view.geometryOf(l)
		if g == nil {
			return fmt.Errorf("%w: %s has no tiles", ErrUnknownLayer, id)
		}
		reset = l.Refresh(g.Tree())
		m.NotifyChange(lod.LayerChanged{Layer: g.ID()}, true)
		return nil
	})
	return reset, err
}
