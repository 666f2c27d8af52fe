package model

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// Zone performance labels reported by the backend.
const (
	PerformanceExcellent = "excelente"
	PerformanceGood      = "bueno"
	PerformanceAverage   = "promedio"
	PerformanceLow       = "bajo"
)

// DefaultZoneColor is used when a zone has neither a color nor KPIs.
const DefaultZoneColor = "#888"

// Ring is a polygon boundary as [lng, lat] pairs. The backend sends either a
// flat ring or a polygon (list of rings); only the outer ring is kept.
type Ring [][]float64

// UnmarshalJSON accepts both [[lng,lat],...] and [[[lng,lat],...],...].
func (r *Ring) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode ring")
	}
	if len(raw) == 0 {
		*r = nil
		return nil
	}

	var flat [][]float64
	if err := json.Unmarshal(data, &flat); err == nil {
		*r = flat
		return nil
	}

	var nested [][][]float64
	if err := json.Unmarshal(data, &nested); err != nil {
		return eris.Wrap(err, "model: decode polygon ring")
	}
	if len(nested) > 0 {
		*r = nested[0]
	}
	return nil
}

// Closed returns a copy of the ring whose last point equals its first.
func (r Ring) Closed() Ring {
	if len(r) == 0 {
		return nil
	}
	out := make(Ring, len(r), len(r)+1)
	copy(out, r)
	first, last := r[0], r[len(r)-1]
	if len(first) < 2 || len(last) < 2 {
		return out
	}
	if first[0] != last[0] || first[1] != last[1] {
		out = append(out, []float64{first[0], first[1]})
	}
	return out
}

// ZoneKPIs holds the backend's per-zone performance metrics.
type ZoneKPIs struct {
	CurrentSales       float64 `json:"ventas_actuales"`
	PriorPeriodSales   float64 `json:"ventas_periodo_anterior"`
	CurrentClients     int     `json:"clientes_actuales"`
	GrowthPct          float64 `json:"crecimiento_porcentual"`
	Performance        string  `json:"rendimiento_vs_promedio,omitempty"`
	Ranking            int     `json:"ranking_zona,omitempty"`
	AvgSalePerClient   float64 `json:"promedio_venta_cliente,omitempty"`
	OverallAverage     float64 `json:"promedio_general,omitempty"`
	PerformanceColor   string  `json:"color_rendimiento,omitempty"`
	MonthlyAverage     float64 `json:"promedio_mensual,omitempty"`
	VsMonthlyAverage   float64 `json:"vs_promedio_mensual,omitempty"`
	ActiveDaysMonth    int     `json:"dias_activos_mes,omitempty"`
	UniqueClientsMonth int     `json:"clientes_unicos_mes,omitempty"`
	DailyEfficiency    float64 `json:"eficiencia_diaria,omitempty"`
}

// Zone is a sales territory polygon with its performance metrics.
type Zone struct {
	ID                ID        `json:"id,omitempty"`
	ZoneID            ID        `json:"zona_id,omitempty"`
	Name              string    `json:"nombre"`
	Color             string    `json:"color,omitempty"`
	Coordinates       Ring      `json:"coordinates,omitempty"`
	LegacyCoordinates Ring      `json:"coordenadas,omitempty"`
	CenterLng         *float64  `json:"centro_lng,omitempty"`
	CenterLat         *float64  `json:"centro_lat,omitempty"`
	TotalRoutes       int       `json:"total_rutas,omitempty"`
	TotalSales        float64   `json:"total_ventas,omitempty"`
	TotalVisited      int       `json:"total_clientes_visitados,omitempty"`
	KPIs              *ZoneKPIs `json:"kpis,omitempty"`
}

// Key returns the zone identifier, preferring id over zona_id.
func (z Zone) Key() ID {
	return FirstID(z.ID, z.ZoneID)
}

// Code returns the identifier routes reference through zona_code,
// preferring zona_id over id.
func (z Zone) Code() ID {
	return FirstID(z.ZoneID, z.ID)
}

// Boundary returns the closed outer ring, or nil when the zone has no shape.
func (z Zone) Boundary() Ring {
	if len(z.Coordinates) > 0 {
		return z.Coordinates.Closed()
	}
	return z.LegacyCoordinates.Closed()
}

// CurrentSales returns the zone's current-period sales, zero when unknown.
func (z Zone) CurrentSales() float64 {
	if z.KPIs == nil {
		return 0
	}
	return z.KPIs.CurrentSales
}

// Intensity maps current sales onto [0, 1] for fill shading.
func (z Zone) Intensity() float64 {
	sales := z.CurrentSales()
	if sales == 0 {
		return 0.3
	}
	return math.Min(1, sales/1_000_000)
}

// ExtrusionHeight is the 3D extrusion height in meters.
func (z Zone) ExtrusionHeight() float64 {
	return math.Max(z.CurrentSales()/100_000, 100)
}

// Growth returns the growth percentage, zero when unknown.
func (z Zone) Growth() float64 {
	if z.KPIs == nil {
		return 0
	}
	return z.KPIs.GrowthPct
}

// PerformanceLabel returns the backend label, "bajo" when missing.
func (z Zone) PerformanceLabel() string {
	if z.KPIs == nil || z.KPIs.Performance == "" {
		return PerformanceLow
	}
	return z.KPIs.Performance
}

// DisplayColor returns the configured color, or one derived from KPIs.
func (z Zone) DisplayColor() string {
	if z.Color != "" {
		return z.Color
	}
	if z.KPIs == nil {
		return DefaultZoneColor
	}
	return PerformanceColor(z.KPIs.Performance, z.KPIs.GrowthPct)
}

// PerformanceColor maps a performance label and growth percentage to a color.
func PerformanceColor(label string, growth float64) string {
	switch {
	case label == PerformanceExcellent || growth > 20:
		return "#10b981"
	case label == PerformanceGood || growth > 10:
		return "#06d6a0"
	case label == PerformanceAverage || growth >= 0:
		return "#f59e0b"
	case label == PerformanceLow || growth > -10:
		return "#f97316"
	default:
		return "#ef4444"
	}
}
