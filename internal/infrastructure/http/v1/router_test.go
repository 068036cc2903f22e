package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cogentcore.org/core/math32"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaennil/guide_helper/tilestream/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/tilestream/internal/layer"
	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/internal/view"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

type fakeLoop struct {
	v        *view.View
	bus      *view.Bus
	moveErr  error
	position math32.Vector3
	target   math32.Vector3
}

func (f *fakeLoop) Diagnostics() view.Diagnostics {
	return view.Diagnostics{State: "paused", Pending: 3, Running: 1}
}

func (f *fakeLoop) MoveCamera(_ context.Context, position, target math32.Vector3) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.position, f.target = position, target
	return nil
}

func (f *fakeLoop) RefreshLayer(_ context.Context, id string) (int, error) {
	if _, ok := f.v.Layer(id); !ok {
		return 0, view.ErrUnknownLayer
	}
	return 3, nil
}

func (f *fakeLoop) Call(_ context.Context, fn func() error) error {
	return fn()
}

func (f *fakeLoop) View() *view.View {
	return f.v
}

func (f *fakeLoop) Bus() *view.Bus {
	return f.bus
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeLoop) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := scheduler.New(config.Scheduler{MaxConcurrency: 1}, logger.Nop())
	v := view.New(lod.NewPerspectiveCamera(100, 100, 45), s, validator.New(), logger.Nop())
	require.NoError(t, v.RegisterProvider(provider.ProtocolProcedural, provider.NewProcedural(2, logger.Nop())))
	require.NoError(t, v.AddLayer(context.Background(), layer.NewGeometryLayer(layer.GeometryOptions{
		Options: layer.Options{
			ID: "terrain",
			Source: provider.Source{
				ID:       "grid",
				Protocol: provider.ProtocolProcedural,
				Extent:   tile.NewExtent(tile.CRSLocal, 0, 0, 1, 1),
			},
		},
		GeometricError: 1,
	})))

	loop := &fakeLoop{v: v, bus: view.NewBus()}
	h := handler.NewHandler(validator.New(), loop, logger.Nop())
	return NewRouter(h, logger.Nop(), "tilestream-test", false), loop
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/v1/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDiagnostics(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/v1/diagnostics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var d view.Diagnostics
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &d))
	assert.Equal(t, 3, d.Pending)
	assert.Equal(t, 1, d.Running)
	assert.Equal(t, "paused", d.State)
}

func TestMoveCamera(t *testing.T) {
	r, loop := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/camera", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/camera", `{"position":[1,2],"target":[0,0,0]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decode(t, w).Success)

	w = do(r, http.MethodPost, "/api/v1/camera", `{"position":[1,2,3],"target":[4,5,6]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, math32.Vec3(1, 2, 3), loop.position)
	assert.Equal(t, math32.Vec3(4, 5, 6), loop.target)

	loop.moveErr = view.ErrFixedCamera
	w = do(r, http.MethodPost, "/api/v1/camera", `{"position":[1,2,3],"target":[4,5,6]}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRefreshLayer(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/layers/missing/refresh", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v1/layers/terrain/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Layer string `json:"layer"`
		Reset int    `json:"reset"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &resp))
	assert.Equal(t, "terrain", resp.Layer)
	assert.Equal(t, 3, resp.Reset)
}

func TestLayers(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/v1/layers", "")
	require.Equal(t, http.StatusOK, w.Code)

	var layers []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &layers))
	require.Len(t, layers, 1)
	assert.Equal(t, "terrain", layers[0]["id"])
	assert.Equal(t, "geometry", layers[0]["kind"])
	assert.NotContains(t, layers[0], "attach_to")
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("go_goroutines")))
}

func TestEventsStream(t *testing.T) {
	r, loop := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return loop.bus.Count(view.PhaseIdle) == 1
	}, 5*time.Second, 5*time.Millisecond)

	loop.bus.Emit(view.Event{Phase: view.PhaseIdle, Time: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var e view.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, view.PhaseIdle, e.Phase)
}
