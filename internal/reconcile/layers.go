package reconcile

import (
	"github.com/sells-group/fieldmap/internal/surface"
)

// Source ids.
const (
	SourceZones   = "zonas"
	SourceRoutes  = "rutas"
	SourceClients = "clientes"
	SourceAgents  = "vendedores-last"
)

// Layer ids.
const (
	LayerZonesFill    = "zonas-fill"
	LayerZones3D      = "zonas-3d"
	LayerZonesLine    = "zonas-line"
	LayerZonesLabels  = "zonas-labels"
	LayerRoutesLines  = "rutas-lines"
	LayerClientsTodo  = "clientes-no-visitados"
	LayerClientsTodoU = "clientes-no-visitados-unplanned"
	LayerClientsDone  = "clientes-visitados"
	LayerClientsDoneU = "clientes-visitados-unplanned"
	LayerClientsSeq   = "clientes-visitados-numeros"
	LayerAgentsToday  = "vendedores-last-aura-today"
	LayerAgentsYday   = "vendedores-last-aura-yesterday"
	LayerAgentsIcon   = "vendedores-last-icon"
	LayerAgentsLabels = "vendedores-last-labels"
)

// CarImage is the icon registered for agent markers.
const CarImage = "vendedor-car-image"

// carGlyph replaces the icon when the image cannot be registered.
const carGlyph = "🚗"

// Colors.
const (
	colorRoute     = "#3b82f6"
	colorPending   = "#ef4444"
	colorVisited   = "#10b981"
	colorUnplanned = "#7c3aed"
	colorAgentName = "#FFD700"
)

// legacyLayers were created by earlier builds of the map and are removed on
// first initialization along with the current ones.
var legacyLayers = []string{
	"rutas-highlight", "rutas-arrows", "rutas-debug", "rutas-fallback-lines",
	"vendedores-last-aura",
}

// Layer ids per visibility category, in drawing order.
var (
	zoneLayers   = []string{LayerZonesFill, LayerZones3D, LayerZonesLine}
	labelLayers  = []string{LayerZonesLabels}
	routeLayers  = []string{LayerRoutesLines}
	clientLayers = []string{LayerClientsTodo, LayerClientsTodoU, LayerClientsDone, LayerClientsDoneU, LayerClientsSeq}
	agentLayers  = []string{LayerAgentsToday, LayerAgentsYday, LayerAgentsIcon, LayerAgentsLabels}
)

// KnownLayers returns every layer id the reconciler may own, legacy ids
// included.
func KnownLayers() []string {
	var ids []string
	for _, group := range [][]string{zoneLayers, labelLayers, routeLayers, clientLayers, agentLayers, legacyLayers} {
		ids = append(ids, group...)
	}
	return ids
}

// KnownSources returns every source id the reconciler owns.
func KnownSources() []string {
	return []string{SourceZones, SourceRoutes, SourceClients, SourceAgents}
}

func zoomRamp(stops ...float64) []any {
	expr := []any{"interpolate", []any{"linear"}, []any{"zoom"}}
	for _, s := range stops {
		expr = append(expr, s)
	}
	return expr
}

func get(prop string) []any { return []any{"get", prop} }

func isTrue(prop string) []any { return []any{"==", get(prop), true} }

func not(expr any) []any { return []any{"!", expr} }

func layout(visible bool, kv ...any) map[string]any {
	m := map[string]any{surface.PropVisibility: surface.Visibility(visible)}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func zoneLayerDefs(zones, labels bool) []surface.Layer {
	return []surface.Layer{
		{
			ID: LayerZonesFill, Type: surface.LayerFill, Source: SourceZones,
			Layout: layout(zones),
			Paint:  map[string]any{"fill-color": get("color"), "fill-opacity": 0.12},
		},
		{
			ID: LayerZones3D, Type: surface.LayerFillExtrusion, Source: SourceZones,
			Layout: layout(zones),
			Paint: map[string]any{
				"fill-extrusion-color":   get("color"),
				"fill-extrusion-height":  get("height"),
				"fill-extrusion-opacity": 0.35,
			},
		},
		{
			ID: LayerZonesLine, Type: surface.LayerLine, Source: SourceZones,
			Layout: layout(zones),
			Paint:  map[string]any{"line-color": get("color"), "line-width": 3},
		},
		{
			ID: LayerZonesLabels, Type: surface.LayerSymbol, Source: SourceZones,
			Layout: layout(labels, "text-field", get("nombre"), "text-size", 11),
			Paint:  map[string]any{"text-color": "#fff", "text-halo-color": "#000", "text-halo-width": 2},
		},
	}
}

func routeLayerDefs(visible bool) []surface.Layer {
	return []surface.Layer{{
		ID: LayerRoutesLines, Type: surface.LayerLine, Source: SourceRoutes,
		Layout: layout(visible, "line-join", "round", "line-cap", "round"),
		Paint: map[string]any{
			"line-color":   colorRoute,
			"line-width":   zoomRamp(6, 2, 12, 4, 15, 6),
			"line-opacity": 0.9,
		},
	}}
}

func clientCircle(id string, visited, unplanned bool, radius []any, color string, stroke int, visible bool) surface.Layer {
	state := not(get("visitado"))
	if visited {
		state = isTrue("visitado")
	}
	kind := not(isTrue("unplanned"))
	if unplanned {
		kind = isTrue("unplanned")
	}
	return surface.Layer{
		ID: id, Type: surface.LayerCircle, Source: SourceClients,
		Filter: []any{"all", state, kind},
		Layout: layout(visible),
		Paint: map[string]any{
			"circle-radius":       radius,
			"circle-color":        color,
			"circle-stroke-color": "#ffffff",
			"circle-stroke-width": stroke,
		},
	}
}

func clientLayerDefs(visible bool) []surface.Layer {
	return []surface.Layer{
		clientCircle(LayerClientsTodo, false, false, zoomRamp(6, 4, 12, 6, 15, 8), colorPending, 1, visible),
		clientCircle(LayerClientsTodoU, false, true, zoomRamp(6, 5, 12, 7, 15, 9), colorUnplanned, 1, visible),
		clientCircle(LayerClientsDone, true, false, zoomRamp(6, 6, 12, 8, 15, 10), colorVisited, 2, visible),
		clientCircle(LayerClientsDoneU, true, true, zoomRamp(6, 6, 12, 8, 15, 10), colorUnplanned, 2, visible),
		{
			ID: LayerClientsSeq, Type: surface.LayerSymbol, Source: SourceClients,
			Filter: []any{"all", isTrue("visitado"), []any{"!=", get("visit_sequence"), nil}},
			Layout: layout(visible,
				"text-field", []any{"to-string", get("visit_sequence")},
				"text-font", []any{"Open Sans Bold", "Arial Unicode MS Bold"},
				"text-size", zoomRamp(6, 10, 12, 12, 15, 14),
				"text-anchor", "center",
				"text-allow-overlap", true,
				"text-ignore-placement", true,
			),
			Paint: map[string]any{
				"text-color":      "#ffffff",
				"text-halo-color": []any{"case", isTrue("unplanned"), colorUnplanned, colorVisited},
				"text-halo-width": 2,
			},
		},
	}
}

func agentAura(id, when, color string, visible bool) surface.Layer {
	return surface.Layer{
		ID: id, Type: surface.LayerCircle, Source: SourceAgents,
		Filter: []any{"==", get("when"), when},
		Layout: layout(visible),
		Paint: map[string]any{
			"circle-color":   color,
			"circle-radius":  zoomRamp(6, 12, 12, 18, 18, 28),
			"circle-opacity": 0.35,
			"circle-blur":    0.5,
		},
	}
}

// agentIconDef draws the car image, or the car glyph when withImage is false.
func agentIconDef(visible, withImage bool) surface.Layer {
	l := surface.Layer{ID: LayerAgentsIcon, Type: surface.LayerSymbol, Source: SourceAgents}
	if withImage {
		l.Layout = layout(visible,
			"icon-image", CarImage,
			"icon-size", zoomRamp(0, 0.03, 6, 0.035, 12, 0.06, 16, 0.09, 22, 0.12),
			"icon-allow-overlap", true,
		)
		return l
	}
	l.Layout = layout(visible,
		"text-field", carGlyph,
		"text-size", zoomRamp(6, 20, 12, 32, 18, 48),
		"text-allow-overlap", true,
		"text-ignore-placement", true,
	)
	return l
}

func agentLabelDef(visible bool) surface.Layer {
	return surface.Layer{
		ID: LayerAgentsLabels, Type: surface.LayerSymbol, Source: SourceAgents,
		Layout: layout(visible,
			"text-field", get("user_full_name"),
			"text-size", zoomRamp(6, 13, 12, 16, 18, 22),
			"text-offset", []any{0, 2.5},
			"text-anchor", "top",
			"text-allow-overlap", true,
			"text-ignore-placement", true,
		),
		Paint: map[string]any{"text-color": colorAgentName, "text-halo-color": "#000", "text-halo-width": 3},
	}
}
