// Package session wires the backend client, the sales engine, the map
// reconciler and route playback into one operator session.
package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fieldmap/internal/aggregate"
	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/clientdetail"
	"github.com/sells-group/fieldmap/internal/config"
	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/fetcher"
	"github.com/sells-group/fieldmap/internal/filter"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/playback"
	"github.com/sells-group/fieldmap/internal/reconcile"
	"github.com/sells-group/fieldmap/internal/resilience"
	"github.com/sells-group/fieldmap/internal/sessioncache"
	"github.com/sells-group/fieldmap/internal/surface"
)

// ErrNoDataset is returned by operations that need a loaded dataset.
var ErrNoDataset = eris.New("session: no dataset loaded")

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source used for filters and agent buckets.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithSurface draws on m instead of a fresh in-memory surface.
func WithSurface(m *surface.Memory) Option {
	return func(s *Session) { s.Map = m }
}

// Session holds every component of one operator session. Components are
// exported so commands and handlers can reach them directly.
type Session struct {
	Bus        *events.InMemoryBus
	Fetcher    *fetcher.HTTPFetcher
	Breaker    *resilience.CircuitBreaker
	API        api.Client
	Cache      *aggregate.DocumentCache
	Engine     *aggregate.Engine
	Map        *surface.Memory
	Reconciler *reconcile.Reconciler
	Playback   *playback.Machine
	Details    *clientdetail.Opener

	now func() time.Time

	dataset atomic.Pointer[model.Dataset]

	mu     sync.Mutex
	vis    reconcile.Visibility
	sel    filter.Selection
	query  filter.Query
	top    map[string]events.TopProductsReady
	unsubs []func()
}

// New builds a session from cfg. Nothing is fetched until Load.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	s := &Session{
		Bus: events.NewInMemoryBus(),
		now: time.Now,
		vis: cfg.Map.Visible,
		top: make(map[string]events.TopProductsReady),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Map == nil {
		s.Map = surface.NewMemory()
	}

	s.Fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.API.UserAgent,
		Timeout:    cfg.API.Timeout(),
		MaxRetries: cfg.API.MaxRetries,
		Rate:       rate.Limit(cfg.API.RateLimit),
		Burst:      cfg.API.RateBurst,
	})
	s.Breaker = resilience.NewCircuitBreaker(resilience.FromCircuitConfig(
		"sales_detail", cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs,
	))

	client, err := api.NewClient(cfg.API.BaseURL, s.Fetcher, api.WithBreaker(s.Breaker))
	if err != nil {
		return nil, err
	}
	s.API = client

	iconURL, err := resolveURL(cfg.API.BaseURL, cfg.Agents.IconURL)
	if err != nil {
		return nil, err
	}

	s.Cache = sessioncache.New[*model.SalesDocument](cfg.Cache.MaxEntries, cfg.Cache.TTL(),
		sessioncache.WithClock(func() time.Time { return s.now() }))
	s.Engine = aggregate.NewEngine(s.API, s.Cache, aggregate.Options{
		Concurrency: cfg.Fanout.Concurrency,
		Retries:     cfg.Fanout.Retries,
		BackoffStep: cfg.Fanout.BackoffStep(),
		TopN:        cfg.Fanout.TopN,
	})
	s.Details = clientdetail.New(s.API, s.Bus, clientdetail.WithStore(s.Cache))

	s.Reconciler = reconcile.New(s.Map, s.Bus, reconcile.Options{
		FitPadding:  float64(cfg.Map.FitPadding),
		MaxZoom:     cfg.Map.MaxZoom,
		AgentWindow: cfg.Agents.Window(),
		IconURL:     iconURL,
	},
		reconcile.WithAgents(s.API),
		reconcile.WithIcons(s.Fetcher),
		reconcile.WithPrefetcher(s.Engine),
		reconcile.WithClientPopup(s.Details),
		reconcile.WithClock(func() time.Time { return s.now() }),
		reconcile.WithLocation(cfg.Agents.Location()),
	)

	s.Playback = playback.New(s.Map, s.Engine, playback.Options{
		FocusPadding: float64(cfg.Map.FocusPadding),
		MaxZoom:      cfg.Map.MaxZoom,
		StopZoom:     cfg.Map.StopZoom,
	})

	s.unsubs = append(s.unsubs,
		s.Playback.Subscribe(s.Bus, s.Dataset),
		events.On(s.Bus, s.onZoneClicked),
		events.On(s.Bus, s.onRouteClicked),
		events.On(s.Bus, s.onTopProducts),
	)
	return s, nil
}

func resolveURL(base, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	b, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return "", eris.Wrapf(err, "session: parse base url %q", base)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", eris.Wrapf(err, "session: parse icon url %q", ref)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	return b.ResolveReference(r).String(), nil
}

// Close detaches every subscription and closes playback.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.Reconciler.Close()
	s.Playback.Close()
}

// Reset clears the map, closes playback and forgets the dataset. The next
// Load starts a new reconcile session.
func (s *Session) Reset() reconcile.PassStats {
	s.Playback.Close()
	stats := s.Reconciler.Teardown()
	s.dataset.Store(nil)
	s.Engine.ResetZones()

	s.mu.Lock()
	s.top = make(map[string]events.TopProductsReady)
	s.mu.Unlock()
	return stats
}

// Dataset returns the current dataset, or nil before the first Load.
func (s *Session) Dataset() *model.Dataset { return s.dataset.Load() }

// Query returns the backend filter of the current dataset.
func (s *Session) Query() filter.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Visibility returns the current layer toggles.
func (s *Session) Visibility() reconcile.Visibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vis
}

// Load resolves sel, fetches the dataset and reconciles the map with it.
// On failure the previous dataset stays on the map.
func (s *Session) Load(ctx context.Context, sel filter.Selection) (reconcile.PassStats, error) {
	q, err := filter.Resolve(sel, s.now(), s.Dataset())
	if err != nil {
		return reconcile.PassStats{}, err
	}
	ds, err := s.API.Dataset(ctx, q)
	if err != nil {
		return reconcile.PassStats{}, eris.Wrap(err, "session: load dataset")
	}

	s.mu.Lock()
	s.sel = sel
	s.query = q
	s.top = make(map[string]events.TopProductsReady)
	vis := s.vis
	s.mu.Unlock()

	s.dataset.Store(ds)
	s.Engine.ResetZones()
	stats := s.Reconciler.Apply(ctx, ds, vis)

	zap.L().Info("session: dataset loaded",
		zap.Int("routes", len(ds.Routes)),
		zap.Int("zones", len(ds.Zones)),
		zap.Int("failures", stats.Failures),
	)
	return stats, nil
}

// Reload refetches the dataset with the last selection.
func (s *Session) Reload(ctx context.Context) (reconcile.PassStats, error) {
	s.mu.Lock()
	sel := s.sel
	s.mu.Unlock()
	return s.Load(ctx, sel)
}

// SetVisibility changes the layer toggles and re-applies the current
// dataset. Without a dataset only the toggles are stored.
func (s *Session) SetVisibility(ctx context.Context, vis reconcile.Visibility) reconcile.PassStats {
	s.mu.Lock()
	s.vis = vis
	s.mu.Unlock()

	ds := s.Dataset()
	if ds == nil {
		return reconcile.PassStats{}
	}
	return s.Reconciler.Apply(ctx, ds, vis)
}

// RefreshAgents asks every listener to refetch agent positions.
func (s *Session) RefreshAgents(ctx context.Context) error {
	return s.Bus.PublishSync(ctx, events.AgentRosterRefreshRequested{BaseEvent: events.NewBaseEvent()})
}

// ZoneProducts ranks the products sold in the zone with the given key or
// name and publishes the result.
func (s *Session) ZoneProducts(ctx context.Context, key model.ID, name string) (events.TopProductsReady, error) {
	ds := s.Dataset()
	if ds == nil {
		return events.TopProductsReady{}, ErrNoDataset
	}
	z, ok := ds.Zone(key, name)
	if !ok {
		return events.TopProductsReady{}, eris.Wrapf(resilience.ErrDataAbsent, "session: zone %q", firstNonEmpty(key.String(), name))
	}
	e := events.TopProductsReady{
		BaseEvent: events.NewBaseEvent(),
		Scope:     events.ScopeZone,
		ScopeID:   z.Key(),
		Label:     z.Name,
		Result:    s.Engine.ZoneResult(ctx, ds, z),
	}
	s.Bus.Publish(ctx, e)
	return e, nil
}

// RouteProducts ranks the products sold on a route and publishes the result.
func (s *Session) RouteProducts(ctx context.Context, id model.ID) (events.TopProductsReady, error) {
	ds := s.Dataset()
	if ds == nil {
		return events.TopProductsReady{}, ErrNoDataset
	}
	r, ok := ds.Route(id)
	if !ok {
		return events.TopProductsReady{}, eris.Wrapf(resilience.ErrDataAbsent, "session: route %q", id)
	}
	e := routeProducts(ctx, s.Engine, r)
	s.Bus.Publish(ctx, e)
	return e, nil
}

func routeProducts(ctx context.Context, eng *aggregate.Engine, r model.Route) events.TopProductsReady {
	return events.TopProductsReady{
		BaseEvent: events.NewBaseEvent(),
		Scope:     events.ScopeRoute,
		ScopeID:   r.ID,
		Label:     r.Agent,
		Result:    eng.ForRoute(ctx, r),
	}
}

// TopProducts returns the last ranking published for scope.
func (s *Session) TopProducts(scope string) (events.TopProductsReady, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.top[scope]
	return e, ok
}

// OpenRoute requests playback of a route and returns the resulting view.
func (s *Session) OpenRoute(ctx context.Context, id model.ID) (playback.View, error) {
	if s.Dataset() == nil {
		return playback.View{}, ErrNoDataset
	}
	if _, ok := s.Dataset().Route(id); !ok {
		return playback.View{}, eris.Wrapf(resilience.ErrDataAbsent, "session: route %q", id)
	}
	if err := s.Bus.PublishSync(ctx, events.RouteOpenRequested{BaseEvent: events.NewBaseEvent(), RouteID: id}); err != nil {
		return playback.View{}, err
	}
	return s.Playback.View(), nil
}

// ClientDetail opens the sales detail of one route detail id.
func (s *Session) ClientDetail(ctx context.Context, id model.ID) (clientdetail.Popup, error) {
	props := map[string]any{"route_detail_id": id.String()}
	if ds := s.Dataset(); ds != nil {
		if c, ok := findClient(ds, id); ok {
			props["nombre"] = c.DisplayName()
			props["visitado"] = c.IsVisited()
			props["cliente_id"] = c.ClientID.String()
			props["id"] = c.LegacyID.String()
		}
	}
	return s.Details.Open(ctx, props, nil)
}

func findClient(ds *model.Dataset, id model.ID) (model.Client, bool) {
	for _, r := range ds.Routes {
		for _, c := range r.Clients {
			if c.DetailID() == id {
				return c, true
			}
		}
	}
	return model.Client{}, false
}

func (s *Session) onZoneClicked(ctx context.Context, e events.ZoneClicked) error {
	if _, err := s.ZoneProducts(ctx, e.ZoneID, e.Name); err != nil {
		zap.L().Debug("session: zone click ignored", zap.Error(err))
	}
	return nil
}

func (s *Session) onRouteClicked(ctx context.Context, e events.RouteClicked) error {
	s.Bus.Publish(ctx, routeProducts(ctx, s.Engine, e.Route))
	return nil
}

func (s *Session) onTopProducts(_ context.Context, e events.TopProductsReady) error {
	s.mu.Lock()
	s.top[e.Scope] = e
	s.mu.Unlock()
	return nil
}

// Stats summarizes the session for diagnostics.
type Stats struct {
	Reconcile reconcile.Stats         `json:"reconcile"`
	Cache     sessioncache.Stats      `json:"cache"`
	Breaker   resilience.BreakerStats `json:"breaker"`
	Query     filter.Query            `json:"query"`
	Loaded    bool                    `json:"loaded"`
}

// Stats returns the session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		Reconcile: s.Reconciler.Stats(),
		Cache:     s.Engine.CacheStats(),
		Breaker:   s.Breaker.Stats(),
		Query:     s.Query(),
		Loaded:    s.Dataset() != nil,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
