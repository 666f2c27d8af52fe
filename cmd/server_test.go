package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldmap/internal/config"
	"github.com/sells-group/fieldmap/internal/reconcile"
	"github.com/sells-group/fieldmap/internal/resilience"
	"github.com/sells-group/fieldmap/internal/session"
)

const testDataset = `{
	"rutas": [{"route_id": 10, "vendedor_id": 5, "vendedor": "Ana", "zona_code": "Z1", "clientes": [
		{"cliente_id": 1, "route_detail_id": 101, "nombre": "Kiosco Uno", "visitado": true, "visit_sequence": 1, "latitud": -25.30, "longitud": -57.60},
		{"cliente_id": 2, "route_detail_id": 102, "nombre": "Kiosco Dos", "visitado": true, "visit_sequence": 2, "latitud": -25.31, "longitud": -57.61}
	]}],
	"zonas": [{"id": "Z1", "nombre": "Centro", "coordinates": [[-57.7,-25.4],[-57.5,-25.4],[-57.5,-25.2]]}],
	"estadisticas_mapa": {"total_clientes_visitados": 2}
}`

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/mapa/rutas":
			_, _ = w.Write([]byte(testDataset))
		case strings.HasPrefix(r.URL.Path, "/route_detail/"):
			_, _ = w.Write([]byte(`{"count": 1, "events": [{"event_id": 1, "invoices": [{"invoice_id": 1, "lines": [
				{"product_code": "P1", "product_name": "Yerba", "quantity": 2, "unit_price": 1000}
			]}]}]}`))
		case r.URL.Path == "/vendedores":
			_, _ = w.Write([]byte(`{"count": 1, "vendedores": [{"id": 5, "full_name": "Ana"}]}`))
		case r.URL.Path == "/vendedores/ultima_ubicacion":
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Path == "/clientes_no_visitados":
			_, _ = w.Write([]byte(`{"clientes": [{"codigo": "C9", "nombre": "Kiosco"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T) (http.Handler, *session.Session) {
	t.Helper()
	backend := newTestBackend(t)
	c := &config.Config{
		API:     config.APIConfig{BaseURL: backend.URL, TimeoutSecs: 5, MaxRetries: 1, RateLimit: 1000},
		Fanout:  config.FanoutConfig{Concurrency: 2, TopN: 30},
		Cache:   config.CacheConfig{TTLSecs: 300, MaxEntries: 100},
		Agents:  config.AgentsConfig{WindowHours: 48, Timezone: "UTC"},
		Map:     config.MapConfig{Visible: config.VisibilityConfig{Zones: true, Routes: true, Labels: true, Agents: true, Clients: true}},
		Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
	}
	s, err := session.New(c)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return newRouter(s, []string{"*"}), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode(t, rr)["status"])
}

func TestLoadAndSnapshot(t *testing.T) {
	h, s := newTestRouter(t)

	rr := do(t, h, http.MethodPost, "/map/load", `{"periodo": "hoy"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotZero(t, decode(t, rr)["layers_added"])
	require.NotNil(t, s.Dataset())

	rr = do(t, h, http.MethodGet, "/map", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode(t, rr)
	counts := snap["feature_counts"].(map[string]any)
	assert.EqualValues(t, 1, counts[reconcile.SourceZones])
	assert.EqualValues(t, 2, counts[reconcile.SourceClients])
	assert.Empty(t, snap["sources"])

	rr = do(t, h, http.MethodGet, "/map?sources=true", "")
	assert.NotEmpty(t, decode(t, rr)["sources"])
}

func TestLoad_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodPost, "/map/load", "not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")

	rr = do(t, h, http.MethodPost, "/map/load", `{"periodo": "fecha_especifica", "fecha": "ayer"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTopProductsEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodGet, "/zones/Z1/top-products", "")
	assert.Equal(t, http.StatusConflict, rr.Code, "no dataset yet")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/map/load", `{}`).Code)

	rr = do(t, h, http.MethodGet, "/zones/Z1/top-products", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode(t, rr)["result"].(map[string]any)
	assert.EqualValues(t, 2, res["requested"])
	products := res["products"].([]any)
	require.Len(t, products, 1)
	assert.EqualValues(t, 4, products[0].(map[string]any)["qty"])

	rr = do(t, h, http.MethodGet, "/routes/10/top-products", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Ana", decode(t, rr)["label"])

	rr = do(t, h, http.MethodGet, "/top-products/zone", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/routes/99/top-products", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPlaybackEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/map/load", `{}`).Code)

	rr := do(t, h, http.MethodPost, "/playback/10", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v := decode(t, rr)
	assert.Equal(t, true, v["open"])
	assert.EqualValues(t, 2, v["total"])

	rr = do(t, h, http.MethodPost, "/playback/next", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["step"])

	rr = do(t, h, http.MethodPost, "/playback/prev", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, decode(t, rr)["step"])

	rr = do(t, h, http.MethodPut, "/playback/step/9", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["step"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/playback/step/x", "").Code)

	rr = do(t, h, http.MethodDelete, "/playback", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode(t, rr)["open"])

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/playback/next", "").Code)
}

func TestClientEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/map/load", `{}`).Code)

	rr := do(t, h, http.MethodGet, "/clients/101", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Kiosco Uno", body["title"])
	assert.Contains(t, body["lines"], "Estado: Visitado")
}

func TestVisibilityEndpoint(t *testing.T) {
	h, s := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/map/load", `{}`).Code)

	rr := do(t, h, http.MethodPut, "/map/visibility", `{"rutas": false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	vis := decode(t, rr)["visibility"].(map[string]any)
	assert.Equal(t, false, vis["rutas"])
	assert.Equal(t, true, vis["zonas"])
	assert.False(t, s.Visibility().Routes)
}

func TestAgentsAndUnvisitedEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodGet, "/agents/roster", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["count"])

	rr = do(t, h, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, decode(t, rr)["count"])

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/agents/refresh", "").Code)

	rr = do(t, h, http.MethodGet, "/unvisited?fecha_inicio=2025-03-01&fecha_fin=2025-03-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["count"])
}

func TestResetAndStats(t *testing.T) {
	h, s := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/map/load", `{}`).Code)

	rr := do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["loaded"])

	rr = do(t, h, http.MethodDelete, "/map", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, s.Dataset())
	assert.Empty(t, s.Map.LayerIDs())
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/map/load", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(session.ErrNoDataset))
	assert.Equal(t, http.StatusNotFound, statusFor(resilience.ErrDataAbsent))
	assert.Equal(t, http.StatusBadGateway, statusFor(resilience.ErrFormatMismatch))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(resilience.ErrCircuitOpen))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
