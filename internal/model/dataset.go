package model

import "sort"

// MapStats are the dataset-level counters shown in the dashboard header.
type MapStats struct {
	VisitedClients   int     `json:"total_clientes_visitados"`
	UnvisitedTotal   int     `json:"total_clientes_no_visitados"`
	UnvisitedClients int     `json:"clientes_no_visitados"`
	TotalSales       float64 `json:"ventas_totales"`
	ActiveZones      int     `json:"zonas_activas"`
}

// Dataset is the full map payload from GET /mapa/rutas.
type Dataset struct {
	Routes []Route  `json:"rutas"`
	Zones  []Zone   `json:"zonas"`
	Stats  MapStats `json:"estadisticas_mapa"`
}

// Route returns the route with the given id.
func (d *Dataset) Route(id ID) (Route, bool) {
	if d == nil {
		return Route{}, false
	}
	for _, r := range d.Routes {
		if r.ID == id {
			return r, true
		}
	}
	return Route{}, false
}

// Zone returns the zone whose key or name matches.
func (d *Dataset) Zone(key ID, name string) (Zone, bool) {
	if d == nil {
		return Zone{}, false
	}
	for _, z := range d.Zones {
		if (!key.IsZero() && z.Key() == key) || (name != "" && z.Name == name) {
			return z, true
		}
	}
	return Zone{}, false
}

// ZoneDetailIDs returns the distinct detail ids across every route in the
// zone, in first-occurrence order.
func (d *Dataset) ZoneDetailIDs(key ID, name string) []ID {
	if d == nil {
		return nil
	}
	var clients []Client
	for _, r := range d.Routes {
		if r.InZone(key, name) {
			clients = append(clients, r.Clients...)
		}
	}
	return UniqueDetailIDs(clients)
}

// AgentNames returns the sorted distinct agent names present in the dataset.
func (d *Dataset) AgentNames() []string {
	if d == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	for _, r := range d.Routes {
		if r.Agent == "" {
			continue
		}
		if _, ok := seen[r.Agent]; ok {
			continue
		}
		seen[r.Agent] = struct{}{}
		names = append(names, r.Agent)
	}
	sort.Strings(names)
	return names
}

// UnvisitedClient is a planned client that has not been visited in the range.
type UnvisitedClient struct {
	Code           string   `json:"codigo"`
	Name           string   `json:"nombre"`
	Lat            *float64 `json:"latitud"`
	Lng            *float64 `json:"longitud"`
	FirstPlanned   *string  `json:"primera_planificacion"`
	LastVisit      *string  `json:"ultima_visita"`
	VisitsWithSale int      `json:"visitas_con_venta"`
	TimesPlanned   int      `json:"veces_planificado"`
}
