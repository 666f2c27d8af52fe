package events

import (
	"github.com/sells-group/fieldmap/internal/aggregate"
	"github.com/sells-group/fieldmap/internal/model"
)

// ZoneClicked is published when the operator clicks a zone polygon.
type ZoneClicked struct {
	BaseEvent
	ZoneID     model.ID       `json:"zone_id"`
	Name       string         `json:"nombre"`
	Properties map[string]any `json:"properties"`
}

func (e ZoneClicked) EventName() string { return "map.zone.clicked" }

// RouteClicked is published when the operator clicks a route line.
type RouteClicked struct {
	BaseEvent
	Route model.Route `json:"route"`
}

func (e RouteClicked) EventName() string { return "map.route.clicked" }

// RouteOpenRequested asks the playback machine to open a route.
type RouteOpenRequested struct {
	BaseEvent
	RouteID model.ID `json:"route_id"`
}

func (e RouteOpenRequested) EventName() string { return "playback.route.open_requested" }

// AgentRosterRefreshRequested forces the agent positions to be refetched.
type AgentRosterRefreshRequested struct {
	BaseEvent
}

func (e AgentRosterRefreshRequested) EventName() string { return "map.agents.refresh_requested" }

// SalesDetailReceived carries a client's sales document once an identifier
// resolved.
type SalesDetailReceived struct {
	BaseEvent
	ClientID model.ID             `json:"cliente"`
	Tried    []model.ID           `json:"tried,omitempty"`
	Document *model.SalesDocument `json:"payload"`
}

func (e SalesDetailReceived) EventName() string { return "client.sales.received" }

// Aggregation scopes.
const (
	ScopeZone  = "zone"
	ScopeRoute = "route"
)

// TopProductsReady carries a ranked product list to the presentation layer.
type TopProductsReady struct {
	BaseEvent
	Scope   string           `json:"scope"`
	ScopeID model.ID         `json:"scope_id"`
	Label   string           `json:"label,omitempty"`
	Result  aggregate.Result `json:"result"`
}

func (e TopProductsReady) EventName() string { return "sidebar.top_products.ready" }
