// Package reconcile keeps a map surface in step with the field-sales dataset.
// Passes are idempotent: after the first one, an unchanged dataset produces
// no layer or source churn, only in-place data updates.
package reconcile

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/fieldmap/internal/config"
	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/geo"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/surface"
)

// Visibility toggles each layer category.
type Visibility = config.VisibilityConfig

// AgentSource returns the latest tracked position of every agent.
type AgentSource interface {
	AgentPositions(ctx context.Context) ([]model.AgentPosition, error)
}

// IconSource downloads icon images.
type IconSource interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// StopPrefetcher warms the sales document of one stop.
type StopPrefetcher interface {
	Prefetch(ctx context.Context, id model.ID) bool
}

// ClientPopup opens the detail view for a clicked client feature.
type ClientPopup interface {
	OpenFeature(ctx context.Context, f *geojson.Feature) error
}

// Options tune camera fitting and the agent layer.
type Options struct {
	FitPadding  float64
	MaxZoom     float64
	AgentWindow time.Duration
	IconURL     string
}

func (o Options) withDefaults() Options {
	if o.FitPadding <= 0 {
		o.FitPadding = 50
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = 15
	}
	if o.AgentWindow <= 0 {
		o.AgentWindow = 48 * time.Hour
	}
	if o.IconURL == "" {
		o.IconURL = "/car.png"
	}
	return o
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithAgents sets the agent position source. Without one the agent layers
// are never drawn.
func WithAgents(src AgentSource) Option { return func(r *Reconciler) { r.agents = src } }

// WithIcons sets where the car icon is downloaded from.
func WithIcons(src IconSource) Option { return func(r *Reconciler) { r.icons = src } }

// WithPrefetcher sets the prefetcher used when a route is clicked.
func WithPrefetcher(p StopPrefetcher) Option { return func(r *Reconciler) { r.prefetch = p } }

// WithClientPopup sets the handler for client clicks.
func WithClientPopup(p ClientPopup) Option { return func(r *Reconciler) { r.popup = p } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

// WithLocation sets the timezone used for agent day buckets.
func WithLocation(loc *time.Location) Option { return func(r *Reconciler) { r.loc = loc } }

// Reconciler owns the map's sources, layers and handlers for one session.
type Reconciler struct {
	surface  surface.Surface
	bus      events.Bus
	opts     Options
	agents   AgentSource
	icons    IconSource
	prefetch StopPrefetcher
	popup    ClientPopup
	now      func() time.Time
	loc      *time.Location

	// mu guards the session record. Backend fetches run outside it and
	// share in-flight calls through flight.
	mu     sync.Mutex
	state  *State
	vis    Visibility
	stats  Stats
	flight singleflight.Group

	dataset  atomic.Pointer[model.Dataset]
	hovering atomic.Bool
	unsub    func()
}

// New creates a Reconciler for s. When bus is non-nil the reconciler
// publishes click events on it and refetches agents on
// AgentRosterRefreshRequested.
func New(s surface.Surface, bus events.Bus, opts Options, with ...Option) *Reconciler {
	r := &Reconciler{
		surface: s,
		bus:     bus,
		opts:    opts.withDefaults(),
		now:     time.Now,
		state:   newState(),
	}
	for _, o := range with {
		o(r)
	}
	if bus != nil {
		r.unsub = events.On(bus, func(ctx context.Context, _ events.AgentRosterRefreshRequested) error {
			return r.RefreshAgents(ctx)
		})
	}
	return r
}

// Close stops listening for refresh requests.
func (r *Reconciler) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *Reconciler) clock() time.Time {
	now := r.now()
	if r.loc != nil {
		now = now.In(r.loc)
	}
	return now
}

func (r *Reconciler) logger() *zap.Logger {
	return zap.L().With(zap.String("session", r.state.SessionID.String()))
}

// Apply reconciles the surface with ds. Surface failures are logged and
// counted; the pass always runs to completion and the next pass repairs
// whatever is missing.
func (r *Reconciler) Apply(ctx context.Context, ds *model.Dataset, vis Visibility) PassStats {
	if ds == nil {
		return PassStats{}
	}

	r.mu.Lock()
	st := r.state
	needAgents := r.agents != nil && !st.AgentsInitialized
	drawAgents := st.HasAgents()
	r.mu.Unlock()

	var fetched *agentFetch
	if needAgents {
		f := r.fetchAgents(ctx)
		fetched = &f
		drawAgents = drawAgents || f.err == nil
	}
	icon := r.loadIcon(ctx, drawAgents)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dataset.Store(ds)
	r.vis = vis
	p := &pass{s: r.surface, log: r.logger()}

	if !r.state.CleanupDone {
		r.cleanup(p)
		r.state.CleanupDone = true
	}

	r.applyZones(p, ds.Zones, vis)
	r.applyRoutes(p, ds.Routes, vis)
	r.applyClients(p, ds.Routes, vis)
	if fetched != nil && r.state == st && !r.state.AgentsInitialized {
		_ = r.storeAgents(*fetched)
	}
	r.applyAgents(p, vis, icon)
	r.fitCamera(p, ds.Zones)
	r.applyVisibility(p, vis)

	r.record(p.stats)
	p.log.Debug("reconcile: pass complete",
		zap.Int("layers_added", p.stats.LayersAdded),
		zap.Int("sources_updated", p.stats.SourcesUpdated),
		zap.Int("failures", p.stats.Failures),
	)
	return p.stats
}

// RefreshAgents refetches agent positions and redraws the agent layers. On
// failure the previous positions stay on the map.
func (r *Reconciler) RefreshAgents(ctx context.Context) error {
	if r.agents == nil {
		return nil
	}

	r.mu.Lock()
	st := r.state
	r.mu.Unlock()

	fetched := r.fetchAgents(ctx)
	icon := r.loadIcon(ctx, fetched.err == nil)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != st {
		zap.L().Debug("reconcile: session torn down during agent refresh")
		return nil
	}
	if err := r.storeAgents(fetched); err != nil {
		return err
	}
	p := &pass{s: r.surface, log: r.logger()}
	r.applyAgents(p, r.vis, icon)
	p.setVisibility(agentLayers, r.vis.Agents)
	r.record(p.stats)
	return nil
}

// Teardown unregisters every handler and removes every layer and source the
// reconciler owns, then starts a new session.
func (r *Reconciler) Teardown() PassStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &pass{s: r.surface, log: r.logger()}
	for _, id := range r.state.HandlerLayers() {
		r.unbind(p, id)
	}
	r.cleanup(p)
	r.record(p.stats)

	r.state = newState()
	r.stats.SessionID = r.state.SessionID
	r.dataset.Store(nil)
	return p.stats
}

// Stats returns the session's pass counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.SessionID = r.state.SessionID
	return st
}

// State returns a copy of the session state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := *r.state
	st.Agents = append([]model.AgentPosition(nil), r.state.Agents...)
	st.handlers = make(map[string][]surface.HandlerID, len(r.state.handlers))
	for k, v := range r.state.handlers {
		st.handlers[k] = append([]surface.HandlerID(nil), v...)
	}
	return st
}

// Hovering reports whether the pointer is over an interactive layer.
func (r *Reconciler) Hovering() bool { return r.hovering.Load() }

func (r *Reconciler) record(p PassStats) {
	r.stats.Passes++
	r.stats.Last = p
	r.stats.Total.add(p)
}

func (r *Reconciler) cleanup(p *pass) {
	for _, id := range KnownLayers() {
		if r.surface.HasLayer(id) {
			p.removeLayer(id)
		}
	}
	for _, id := range KnownSources() {
		if r.surface.HasSource(id) {
			p.removeSource(id)
		}
	}
}

func (r *Reconciler) applyZones(p *pass, zones []model.Zone, vis Visibility) {
	if !p.syncSource(SourceZones, ZoneFeatures(zones)) {
		return
	}
	for _, l := range zoneLayerDefs(vis.Zones, vis.Labels) {
		p.ensureLayer(l)
	}
	r.bind(p, LayerZonesFill, r.zoneClick)
}

func (r *Reconciler) applyRoutes(p *pass, routes []model.Route, vis Visibility) {
	if !p.syncSource(SourceRoutes, RouteFeatures(routes)) {
		return
	}
	for _, l := range routeLayerDefs(vis.Routes) {
		p.ensureLayer(l)
	}
	r.bind(p, LayerRoutesLines, r.routeClick)
}

func (r *Reconciler) applyClients(p *pass, routes []model.Route, vis Visibility) {
	p.upsertSource(SourceClients, ClientFeatures(routes))
	if !r.surface.HasSource(SourceClients) {
		return
	}
	for _, l := range clientLayerDefs(vis.Clients) {
		p.ensureLayer(l)
	}
	for _, id := range clientLayers {
		r.bind(p, id, r.clientClick)
	}
}

type agentFetch struct {
	positions []model.AgentPosition
	at        time.Time
	err       error
}

// fetchAgents calls the agent source without holding r.mu. Concurrent
// callers share one request.
func (r *Reconciler) fetchAgents(ctx context.Context) agentFetch {
	v, _, _ := r.flight.Do("agents", func() (any, error) {
		positions, err := r.agents.AgentPositions(ctx)
		if err != nil {
			zap.L().Warn("reconcile: agent positions unavailable", zap.Error(err))
			return agentFetch{err: eris.Wrap(err, "reconcile: fetch agent positions")}, nil
		}
		return agentFetch{positions: positions, at: r.clock()}, nil
	})
	return v.(agentFetch)
}

// storeAgents records a fetch in the session state. The session counts as
// initialized even when the fetch failed so later passes do not retry.
// Callers hold r.mu.
func (r *Reconciler) storeAgents(f agentFetch) error {
	r.state.AgentsInitialized = true
	if f.err != nil {
		return f.err
	}
	r.state.Agents = f.positions
	r.state.AgentsFetchedAt = f.at
	return nil
}

// loadIcon downloads the car icon when the agent icon layer is about to be
// created and the surface lacks the image. It runs without holding r.mu.
func (r *Reconciler) loadIcon(ctx context.Context, drawAgents bool) *surface.Image {
	if !drawAgents || r.icons == nil || r.surface.HasImage(CarImage) || r.surface.HasLayer(LayerAgentsIcon) {
		return nil
	}
	v, err, _ := r.flight.Do("icon", func() (any, error) {
		return loadImage(ctx, r.icons, r.opts.IconURL)
	})
	if err != nil {
		zap.L().Warn("reconcile: car icon unavailable, using text marker", zap.Error(err))
		return nil
	}
	img := v.(surface.Image)
	return &img
}

func (r *Reconciler) applyAgents(p *pass, vis Visibility, icon *surface.Image) {
	if !r.state.HasAgents() {
		return
	}
	p.upsertSource(SourceAgents, AgentFeatures(r.state.Agents, r.clock(), r.opts.AgentWindow))
	if !r.surface.HasSource(SourceAgents) {
		return
	}
	p.ensureLayer(agentAura(LayerAgentsToday, string(model.BucketToday), colorVisited, vis.Agents))
	p.ensureLayer(agentAura(LayerAgentsYday, string(model.BucketYesterday), colorPending, vis.Agents))
	if !r.surface.HasLayer(LayerAgentsIcon) {
		p.ensureLayer(agentIconDef(vis.Agents, r.ensureImage(p, icon)))
	}
	p.ensureLayer(agentLabelDef(vis.Agents))
}

// ensureImage registers the downloaded car icon and reports whether the
// surface has it.
func (r *Reconciler) ensureImage(p *pass, img *surface.Image) bool {
	if r.surface.HasImage(CarImage) {
		return true
	}
	if img == nil {
		return false
	}
	if err := r.surface.AddImage(CarImage, *img); err != nil {
		p.fail(surface.OpAddImage, CarImage, err)
		return false
	}
	return true
}

func loadImage(ctx context.Context, src IconSource, url string) (surface.Image, error) {
	body, err := src.Download(ctx, url)
	if err != nil {
		return surface.Image{}, eris.Wrapf(err, "download %s", url)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return surface.Image{}, eris.Wrapf(err, "read %s", url)
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return surface.Image{}, eris.Errorf("%s is %s, not an image", url, ct)
	}
	return surface.Image{URL: url, ContentType: ct, Data: data}, nil
}

func (r *Reconciler) fitCamera(p *pass, zones []model.Zone) {
	if r.state.CameraFitted {
		return
	}
	b := geo.ZoneBounds(zones)
	if b.Empty() {
		return
	}
	opts := surface.CameraOptions{Padding: r.opts.FitPadding, MaxZoom: r.opts.MaxZoom}
	if err := r.surface.FitBounds(b.SouthWest(), b.NorthEast(), opts); err != nil {
		p.fail(surface.OpFitBounds, SourceZones, err)
		return
	}
	r.state.CameraFitted = true
}

func (r *Reconciler) applyVisibility(p *pass, vis Visibility) {
	p.setVisibility(zoneLayers, vis.Zones)
	p.setVisibility(labelLayers, vis.Labels)
	p.setVisibility(routeLayers, vis.Routes)
	p.setVisibility(clientLayers, vis.Clients)
	p.setVisibility(agentLayers, vis.Agents)
}

// bind registers click and hover handlers for layerID once. A partial
// registration left by an earlier failure is removed and redone.
func (r *Reconciler) bind(p *pass, layerID string, click surface.FeatureHandler) {
	bindings := []struct {
		event   surface.EventType
		handler surface.FeatureHandler
	}{
		{surface.EventClick, click},
		{surface.EventMouseEnter, func(context.Context, *geojson.Feature) { r.hovering.Store(true) }},
		{surface.EventMouseLeave, func(context.Context, *geojson.Feature) { r.hovering.Store(false) }},
	}
	if ids, ok := r.state.handlers[layerID]; ok && len(ids) == len(bindings) {
		return
	}
	if !r.unbind(p, layerID) {
		return
	}
	var ids []surface.HandlerID
	for _, b := range bindings {
		id, err := r.surface.On(layerID, b.event, b.handler)
		if err != nil {
			p.fail(surface.OpOn, layerID, err)
			continue
		}
		ids = append(ids, id)
		p.stats.HandlersAdded++
	}
	r.state.handlers[layerID] = ids
}

// unbind removes layerID's handlers and reports whether all were removed.
func (r *Reconciler) unbind(p *pass, layerID string) bool {
	var kept []surface.HandlerID
	for _, id := range r.state.handlers[layerID] {
		if err := r.surface.Off(id); err != nil {
			p.fail(surface.OpOff, layerID, err)
			kept = append(kept, id)
			continue
		}
		p.stats.HandlersRemoved++
	}
	if len(kept) > 0 {
		r.state.handlers[layerID] = kept
		return false
	}
	delete(r.state.handlers, layerID)
	return true
}

func (r *Reconciler) publish(ctx context.Context, e events.Event) {
	if r.bus != nil {
		r.bus.Publish(ctx, e)
	}
}

func (r *Reconciler) zoneClick(ctx context.Context, f *geojson.Feature) {
	if f == nil {
		return
	}
	props := make(map[string]any, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	r.publish(ctx, events.ZoneClicked{
		BaseEvent:  events.NewBaseEvent(),
		ZoneID:     model.ID(propString(f, "id")),
		Name:       propString(f, "nombre"),
		Properties: props,
	})
}

func (r *Reconciler) routeClick(ctx context.Context, f *geojson.Feature) {
	if f == nil {
		return
	}
	id := model.ID(propString(f, "route_id"))
	route, ok := r.dataset.Load().Route(id)
	if !ok {
		zap.L().Debug("reconcile: clicked route not in dataset", zap.String("route_id", id.String()))
		return
	}
	if r.prefetch != nil {
		if first := FirstStop(route); !first.IsZero() {
			r.prefetch.Prefetch(ctx, first)
		}
	}
	r.publish(ctx, events.RouteClicked{BaseEvent: events.NewBaseEvent(), Route: route})
}

func (r *Reconciler) clientClick(ctx context.Context, f *geojson.Feature) {
	if f == nil || r.popup == nil {
		return
	}
	if err := r.popup.OpenFeature(ctx, f); err != nil {
		zap.L().Warn("reconcile: client detail failed", zap.Error(err))
	}
}

// FirstStop returns the detail id of the first visited stop, falling back to
// the route's first client.
func FirstStop(route model.Route) model.ID {
	if stops := route.VisitedStops(); len(stops) > 0 {
		if id := stops[0].DetailID(); !id.IsZero() {
			return id
		}
	}
	if ids := route.DetailIDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func propString(f *geojson.Feature, key string) string {
	switch v := f.Properties[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// pass wraps surface mutations so a failed call is logged and counted
// without aborting the pass.
type pass struct {
	s     surface.Surface
	log   *zap.Logger
	stats PassStats
}

func (p *pass) fail(op, id string, err error) {
	p.stats.Failures++
	p.log.Warn("reconcile: surface call failed",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
}

func (p *pass) upsertSource(id string, fc *geojson.FeatureCollection) {
	if p.s.HasSource(id) {
		if err := p.s.SetSourceData(id, fc); err != nil {
			p.fail(surface.OpSetSourceData, id, err)
			return
		}
		p.stats.SourcesUpdated++
		return
	}
	if err := p.s.AddSource(id, fc); err != nil {
		p.fail(surface.OpAddSource, id, err)
		return
	}
	p.stats.SourcesAdded++
}

// syncSource upserts fc unless it is empty and the source was never created.
// It reports whether the source exists afterwards.
func (p *pass) syncSource(id string, fc *geojson.FeatureCollection) bool {
	if len(fc.Features) == 0 && !p.s.HasSource(id) {
		return false
	}
	p.upsertSource(id, fc)
	return p.s.HasSource(id)
}

func (p *pass) ensureLayer(l surface.Layer) {
	if p.s.HasLayer(l.ID) {
		return
	}
	if err := p.s.AddLayer(l); err != nil {
		p.fail(surface.OpAddLayer, l.ID, err)
		return
	}
	p.stats.LayersAdded++
}

func (p *pass) removeLayer(id string) {
	if err := p.s.RemoveLayer(id); err != nil {
		p.fail(surface.OpRemoveLayer, id, err)
		return
	}
	p.stats.LayersRemoved++
}

func (p *pass) removeSource(id string) {
	if err := p.s.RemoveSource(id); err != nil {
		p.fail(surface.OpRemoveSource, id, err)
		return
	}
	p.stats.SourcesRemoved++
}

func (p *pass) setVisibility(ids []string, visible bool) {
	v := surface.Visibility(visible)
	for _, id := range ids {
		if !p.s.HasLayer(id) {
			continue
		}
		if err := p.s.SetLayoutProperty(id, surface.PropVisibility, v); err != nil {
			p.fail(surface.OpSetLayout, id, err)
			continue
		}
		p.stats.VisibilityUpdates++
	}
}
