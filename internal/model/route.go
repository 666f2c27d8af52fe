package model

import (
	"math"
	"sort"
)

// UnplannedSequence is the first sequence number the field app assigns to
// stops that were not on the planned route.
const UnplannedSequence = 1000

// StatusVisitedSuccess is the estado of a visit that produced a sale.
const StatusVisitedSuccess = "visitado_exitoso"

// ClientKPIs are per-client comparative metrics computed by the backend.
type ClientKPIs struct {
	PriorSale     *float64 `json:"venta_anterior,omitempty"`
	ClientAverage *float64 `json:"promedio_cliente,omitempty"`
	VsAverage     *float64 `json:"vs_promedio,omitempty"`
	VsPrior       *float64 `json:"vs_anterior,omitempty"`
	VisitsMonth   int      `json:"visitas_mes,omitempty"`
	Trend         string   `json:"tendencia,omitempty"`
}

// Client is one planned or realized stop of a route (a route detail).
type Client struct {
	ClientID      ID          `json:"cliente_id,omitempty"`
	RouteDetailID ID          `json:"route_detail_id,omitempty"`
	LegacyID      ID          `json:"id,omitempty"`
	Code          string      `json:"codigo,omitempty"`
	Name          string      `json:"nombre,omitempty"`
	Lat           *float64    `json:"latitud,omitempty"`
	Lng           *float64    `json:"longitud,omitempty"`
	Sequence      int         `json:"sequence,omitempty"`
	VisitSequence *int        `json:"visit_sequence,omitempty"`
	Visited       bool        `json:"visitado"`
	Planned       bool        `json:"planificado,omitempty"`
	PositiveVisit bool        `json:"visita_positiva,omitempty"`
	Sales         float64     `json:"ventas,omitempty"`
	Orders        float64     `json:"pedidos,omitempty"`
	Receipts      float64     `json:"recibos,omitempty"`
	Status        string      `json:"estado,omitempty"`
	KPIs          *ClientKPIs `json:"kpis,omitempty"`
}

// DetailID returns the id used to fetch sales detail: route_detail_id,
// falling back to cliente_id.
func (c Client) DetailID() ID {
	return FirstID(c.RouteDetailID, c.ClientID)
}

// DisplayName returns the client name, falling back to its code.
func (c Client) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Code
}

// IsVisited reports whether the stop counts as visited on the map.
func (c Client) IsVisited() bool {
	return c.Visited || c.Status == StatusVisitedSuccess
}

// Unplanned reports whether the stop was added outside the planned route.
func (c Client) Unplanned() bool {
	if c.Sequence >= UnplannedSequence {
		return true
	}
	return c.VisitSequence != nil && *c.VisitSequence >= UnplannedSequence
}

// VisitOrder returns the realized visit sequence when it is positive.
func (c Client) VisitOrder() (int, bool) {
	if c.VisitSequence == nil || *c.VisitSequence <= 0 {
		return 0, false
	}
	return *c.VisitSequence, true
}

// Position returns [lng, lat] when both coordinates are present and finite.
func (c Client) Position() ([]float64, bool) {
	if c.Lat == nil || c.Lng == nil {
		return nil, false
	}
	lat, lng := *c.Lat, *c.Lng
	if !finite(lat) || !finite(lng) {
		return nil, false
	}
	return []float64{lng, lat}, true
}

// Route is one agent's planned and realized sequence of client visits.
type Route struct {
	ID        ID       `json:"route_id"`
	AgentID   ID       `json:"vendedor_id,omitempty"`
	Agent     string   `json:"vendedor,omitempty"`
	Date      string   `json:"fecha,omitempty"`
	Weekday   string   `json:"dia_semana,omitempty"`
	Color     string   `json:"color,omitempty"`
	Status    string   `json:"status,omitempty"`
	ZoneCode  string   `json:"zona_code,omitempty"`
	ZoneName  string   `json:"zona_name,omitempty"`
	ZoneColor string   `json:"zona_color,omitempty"`
	Clients   []Client `json:"clientes"`
}

// VisitedStops returns the visited clients with a positive visit sequence,
// ordered by that sequence.
func (r Route) VisitedStops() []Client {
	var out []Client
	for _, c := range r.Clients {
		if _, ok := c.VisitOrder(); ok && c.Visited {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].VisitSequence < *out[j].VisitSequence
	})
	return out
}

// Polyline returns the ordered [lng, lat] path through the visited stops,
// or nil when fewer than two stops have usable coordinates.
func (r Route) Polyline() [][]float64 {
	var coords [][]float64
	for _, c := range r.VisitedStops() {
		if p, ok := c.Position(); ok {
			coords = append(coords, p)
		}
	}
	if len(coords) < 2 {
		return nil
	}
	return coords
}

// Positions returns the coordinates of every client with a usable position.
func (r Route) Positions() [][]float64 {
	var coords [][]float64
	for _, c := range r.Clients {
		if p, ok := c.Position(); ok {
			coords = append(coords, p)
		}
	}
	return coords
}

// DetailIDs returns the distinct sales-detail ids of the route's clients in
// first-occurrence order.
func (r Route) DetailIDs() []ID {
	return UniqueDetailIDs(r.Clients)
}

// InZone reports whether the route belongs to the zone with the given key or
// name.
func (r Route) InZone(key ID, name string) bool {
	if !key.IsZero() && r.ZoneCode == key.String() {
		return true
	}
	return name != "" && r.ZoneName == name
}

// UniqueDetailIDs collects distinct non-empty detail ids preserving order.
func UniqueDetailIDs(clients []Client) []ID {
	seen := make(map[ID]struct{}, len(clients))
	var out []ID
	for _, c := range clients {
		id := c.DetailID()
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
