package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldmap/internal/config"
	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/filter"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/reconcile"
	"github.com/sells-group/fieldmap/internal/resilience"
	"github.com/sells-group/fieldmap/internal/surface"
)

var testNow = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

const datasetJSON = `{
	"rutas": [{"route_id": 10, "vendedor_id": 5, "vendedor": "Ana", "zona_code": "Z1", "zona_name": "Centro", "clientes": [
		{"cliente_id": 1, "route_detail_id": 101, "nombre": "Kiosco Uno", "visitado": true, "visit_sequence": 1, "latitud": -25.30, "longitud": -57.60},
		{"cliente_id": 2, "route_detail_id": 102, "nombre": "Kiosco Dos", "visitado": true, "visit_sequence": 2, "latitud": -25.31, "longitud": -57.61},
		{"cliente_id": 3, "route_detail_id": 103, "nombre": "Kiosco Tres", "visitado": false, "latitud": -25.32, "longitud": -57.62}
	]}],
	"zonas": [{"id": "Z1", "nombre": "Centro", "color": "#3366ff", "coordinates": [[-57.7,-25.4],[-57.5,-25.4],[-57.5,-25.2],[-57.7,-25.2]]}],
	"estadisticas_mapa": {"total_clientes_visitados": 2}
}`

func salesJSON(id, code string, qty int) string {
	return `{"route_detail_id": ` + id + `, "count": 1, "events": [{"event_id": 1, "invoices": [{"invoice_id": 1, "lines": [
		{"product_code": "` + code + `", "product_name": "Producto ` + code + `", "quantity": ` + strconv.Itoa(qty) + `, "unit_price": 100}
	]}]}]}`
}

type backend struct {
	mu          sync.Mutex
	hits        map[string]int
	datasetFail atomic.Bool
	lastQuery   string
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func newBackend(t *testing.T) (*httptest.Server, *backend) {
	t.Helper()
	b := &backend{hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.URL.Path]++
		b.mu.Unlock()

		writeJSON := func(body string) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
		switch r.URL.Path {
		case "/mapa/rutas":
			if b.datasetFail.Load() {
				http.Error(w, "down", http.StatusForbidden)
				return
			}
			b.mu.Lock()
			b.lastQuery = r.URL.RawQuery
			b.mu.Unlock()
			writeJSON(datasetJSON)
		case "/route_detail/101/ventas":
			writeJSON(salesJSON("101", "P1", 5))
		case "/route_detail/102/ventas":
			writeJSON(salesJSON("102", "P1", 3))
		case "/vendedores/ultima_ubicacion":
			writeJSON(`[{"user_id": 5, "user_full_name": "Ana", "latitude": -25.3, "longitude": -57.6, "tracking_date": "2025-03-12 09:00:00"}]`)
		case "/car.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, b
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API:    config.APIConfig{BaseURL: baseURL, TimeoutSecs: 5, MaxRetries: 1, RateLimit: 1000, RateBurst: 100},
		Fanout: config.FanoutConfig{Concurrency: 4, Retries: 0, BackoffStepMs: 1, TopN: 30},
		Cache:  config.CacheConfig{TTLSecs: 300, MaxEntries: 100},
		Agents: config.AgentsConfig{WindowHours: 48, IconURL: "/car.png", Timezone: "UTC"},
		Map: config.MapConfig{
			Visible:    config.VisibilityConfig{Zones: true, Routes: true, Labels: true, Agents: true, Clients: true},
			FitPadding: 50, FocusPadding: 80, MaxZoom: 15, StopZoom: 14,
		},
		Circuit: config.CircuitConfig{FailureThreshold: 10, ResetTimeoutSecs: 30},
	}
}

func newTestSession(t *testing.T) (*Session, *backend) {
	t.Helper()
	srv, b := newBackend(t)
	s, err := New(testConfig(srv.URL), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, b
}

func loaded(t *testing.T) (*Session, *backend) {
	t.Helper()
	s, b := newTestSession(t)
	_, err := s.Load(context.Background(), filter.Selection{Period: filter.PeriodToday})
	require.NoError(t, err)
	return s, b
}

func TestLoad_DrawsEverySource(t *testing.T) {
	s, b := newTestSession(t)

	stats, err := s.Load(context.Background(), filter.Selection{Period: filter.PeriodToday})
	require.NoError(t, err)
	assert.Zero(t, stats.Failures)
	assert.ElementsMatch(t, reconcile.KnownSources(), s.Map.SourceIDs())
	assert.True(t, s.Map.HasImage(reconcile.CarImage))

	agents, ok := s.Map.Source(reconcile.SourceAgents)
	require.True(t, ok)
	assert.Len(t, agents.Features, 1)

	assert.Equal(t, "2025-03-12", s.Query().From)
	assert.Contains(t, b.lastQuery, "fecha_inicio=2025-03-12")
	assert.True(t, s.Stats().Loaded)
}

func TestLoad_SecondPassHasNoChurn(t *testing.T) {
	s, b := loaded(t)
	s.Map.ResetCalls()

	stats, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.Structural())
	assert.Zero(t, s.Map.Calls(surface.OpAddLayer))
	assert.Equal(t, 1, b.count("/vendedores/ultima_ubicacion"), "agents are fetched once per session")
}

func TestLoad_FailureKeepsDataset(t *testing.T) {
	s, b := loaded(t)
	before := s.Dataset()

	b.datasetFail.Store(true)
	_, err := s.Reload(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrNetworkFailure)
	assert.Same(t, before, s.Dataset())
}

func TestLoad_InvalidSelection(t *testing.T) {
	s, b := newTestSession(t)
	_, err := s.Load(context.Background(), filter.Selection{Period: filter.PeriodDay, Date: "12/03/2025"})
	require.Error(t, err)
	assert.Zero(t, b.count("/mapa/rutas"))
}

func TestZoneClick_PublishesTopProducts(t *testing.T) {
	s, _ := loaded(t)

	var got []events.TopProductsReady
	events.On(s.Bus, func(_ context.Context, e events.TopProductsReady) error {
		got = append(got, e)
		return nil
	})

	f := geojson.NewPolygonFeature([][][]float64{{{-57.7, -25.4}, {-57.5, -25.4}, {-57.5, -25.2}, {-57.7, -25.4}}})
	f.SetProperty("id", "Z1")
	f.SetProperty("nombre", "Centro")
	require.Equal(t, 1, s.Map.Emit(context.Background(), reconcile.LayerZonesFill, surface.EventClick, f))

	require.Len(t, got, 1)
	assert.Equal(t, events.ScopeZone, got[0].Scope)
	assert.Equal(t, model.ID("Z1"), got[0].ScopeID)
	assert.Equal(t, 3, got[0].Result.Requested)
	assert.Equal(t, 1, got[0].Result.Failed)
	require.Len(t, got[0].Result.Products, 1)
	assert.Equal(t, "P1", got[0].Result.Products[0].Key)
	assert.InDelta(t, 8.0, got[0].Result.Products[0].Quantity, 1e-9)

	last, ok := s.TopProducts(events.ScopeZone)
	require.True(t, ok)
	assert.Equal(t, got[0].Result, last.Result)
}

func TestZoneProducts_Memoized(t *testing.T) {
	s, b := loaded(t)

	_, err := s.ZoneProducts(context.Background(), "Z1", "")
	require.NoError(t, err)
	_, err = s.ZoneProducts(context.Background(), "", "Centro")
	require.NoError(t, err)
	assert.Equal(t, 1, b.count("/route_detail/103/ventas"), "failed stops are not refetched for a memoized zone")

	_, err = s.ZoneProducts(context.Background(), "nope", "")
	assert.ErrorIs(t, err, resilience.ErrDataAbsent)
}

func TestRouteClick_PrefetchesAndRanks(t *testing.T) {
	s, b := loaded(t)

	f := geojson.NewLineStringFeature([][]float64{{-57.60, -25.30}, {-57.61, -25.31}})
	f.SetProperty("route_id", "10")
	s.Map.Emit(context.Background(), reconcile.LayerRoutesLines, surface.EventClick, f)

	top, ok := s.TopProducts(events.ScopeRoute)
	require.True(t, ok)
	assert.Equal(t, model.ID("10"), top.ScopeID)
	assert.Equal(t, "Ana", top.Label)
	assert.Equal(t, 3, top.Result.Requested)
	assert.Equal(t, 1, b.count("/route_detail/101/ventas"), "prefetch and aggregation share one fetch")
}

func TestOpenRoute(t *testing.T) {
	s, _ := loaded(t)

	v, err := s.OpenRoute(context.Background(), "10")
	require.NoError(t, err)
	assert.True(t, v.Open)
	assert.Equal(t, 2, v.Total)
	require.NotNil(t, v.Stop)
	assert.Equal(t, model.ID("101"), v.Stop.DetailID)
	assert.NotNil(t, v.Stop.Document)

	_, err = s.OpenRoute(context.Background(), "99")
	assert.ErrorIs(t, err, resilience.ErrDataAbsent)
}

func TestClientDetail_UsesDatasetAndCache(t *testing.T) {
	s, _ := loaded(t)

	p, err := s.ClientDetail(context.Background(), "102")
	require.NoError(t, err)
	assert.True(t, p.Resolved())
	assert.Equal(t, "Kiosco Dos", p.Title)
	assert.True(t, p.Visited)
	assert.True(t, s.Cache.Has("102"))
}

func TestSetVisibility_HidesLayers(t *testing.T) {
	s, _ := loaded(t)

	vis := s.Visibility()
	vis.Zones = false
	s.SetVisibility(context.Background(), vis)

	l, ok := s.Map.Layer(reconcile.LayerZonesFill)
	require.True(t, ok)
	assert.Equal(t, surface.Hidden, l.Layout[surface.PropVisibility])
	assert.False(t, s.Visibility().Zones)
}

func TestRefreshAgents_Refetches(t *testing.T) {
	s, b := loaded(t)
	require.NoError(t, s.RefreshAgents(context.Background()))
	assert.Equal(t, 2, b.count("/vendedores/ultima_ubicacion"))
}

func TestReset_ClearsMap(t *testing.T) {
	s, _ := loaded(t)
	_, _ = s.OpenRoute(context.Background(), "10")

	stats := s.Reset()
	assert.Positive(t, stats.LayersRemoved)
	assert.Empty(t, s.Map.LayerIDs())
	assert.Nil(t, s.Dataset())
	assert.False(t, s.Playback.View().Open)
}

func TestNoDataset(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.ZoneProducts(context.Background(), "Z1", "")
	assert.ErrorIs(t, err, ErrNoDataset)
	_, err = s.RouteProducts(context.Background(), "10")
	assert.ErrorIs(t, err, ErrNoDataset)
	_, err = s.OpenRoute(context.Background(), "10")
	assert.ErrorIs(t, err, ErrNoDataset)
	assert.Equal(t, reconcile.PassStats{}, s.SetVisibility(context.Background(), s.Visibility()))
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"http://api.local/v1", "/car.png", "http://api.local/car.png"},
		{"http://api.local/v1/", "car.png", "http://api.local/v1/car.png"},
		{"http://api.local", "https://cdn.local/car.png", "https://cdn.local/car.png"},
		{"http://api.local", "", ""},
	}
	for _, tt := range tests {
		got, err := resolveURL(tt.base, tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.ref)
	}
}
