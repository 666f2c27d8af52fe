// Package playback steps through a route's realized visits in order, keeping
// the camera on the current stop and its sales document loaded.
package playback

import (
	"context"
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldmap/internal/aggregate"
	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/geo"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/surface"
)

// Camera is the part of the map surface playback drives.
type Camera interface {
	FitBounds(sw, ne []float64, opts surface.CameraOptions) error
	FlyTo(center []float64, zoom float64) error
	Zoom() float64
}

// Documents loads and caches per-stop sales documents.
type Documents interface {
	Document(ctx context.Context, id model.ID) (*model.SalesDocument, error)
	Cached(id model.ID) (*model.SalesDocument, bool)
	Prefetch(ctx context.Context, id model.ID) bool
}

var _ Documents = (*aggregate.Engine)(nil)

// Options tune camera moves.
type Options struct {
	FocusPadding float64
	MaxZoom      float64
	StopZoom     float64
}

func (o Options) withDefaults() Options {
	if o.FocusPadding <= 0 {
		o.FocusPadding = 80
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = 15
	}
	if o.StopZoom <= 0 {
		o.StopZoom = 14
	}
	return o
}

// ErrClosed is returned by navigation when no route is open.
var ErrClosed = eris.New("playback: no route open")

// Stop is the current visit with whatever sales detail is cached for it.
type Stop struct {
	Index    int                  `json:"index"`
	Client   model.Client         `json:"cliente"`
	DetailID model.ID             `json:"route_detail_id"`
	Document *model.SalesDocument `json:"ventas,omitempty"`
	Metrics  aggregate.Metrics    `json:"metricas"`
}

// View is a snapshot of the machine for presentation.
type View struct {
	Open     bool     `json:"open"`
	RouteID  model.ID `json:"route_id,omitempty"`
	Agent    string   `json:"vendedor,omitempty"`
	Zone     string   `json:"zona,omitempty"`
	Step     int      `json:"step"`
	Total    int      `json:"total"`
	NoVisits bool     `json:"sin_visitas"`
	Loading  bool     `json:"loading"`
	CanPrev  bool     `json:"can_prev"`
	CanNext  bool     `json:"can_next"`
	Stop     *Stop    `json:"stop,omitempty"`
}

// Machine is the playback state: closed, or open on a route at a step.
type Machine struct {
	cam  Camera
	docs Documents
	opts Options

	mu      sync.Mutex
	route   *model.Route
	stops   []model.Client
	step    int
	loading bool
	gen     uint64
}

// New creates a closed Machine.
func New(cam Camera, docs Documents, opts Options) *Machine {
	return &Machine{cam: cam, docs: docs, opts: opts.withDefaults()}
}

// Open starts playback of r at its first visit. The camera is fit to every
// located client of the route and the first visit's document is loaded.
// A failed load is logged; the route still opens.
func (m *Machine) Open(ctx context.Context, r model.Route) View {
	m.mu.Lock()
	m.gen++
	m.route = &r
	m.stops = r.VisitedStops()
	m.step = 0
	m.loading = false
	first := m.detailAt(0)
	m.mu.Unlock()

	if b := geo.RouteBounds(r); !b.Empty() {
		opts := surface.CameraOptions{Padding: m.opts.FocusPadding, MaxZoom: m.opts.MaxZoom}
		if err := m.cam.FitBounds(b.SouthWest(), b.NorthEast(), opts); err != nil {
			zap.L().Warn("playback: fit route failed", zap.String("route_id", r.ID.String()), zap.Error(err))
		}
	}
	if !first.IsZero() {
		if _, err := m.docs.Document(ctx, first); err != nil {
			zap.L().Warn("playback: first stop unavailable",
				zap.String("route_id", r.ID.String()),
				zap.String("route_detail_id", first.String()),
				zap.Error(err),
			)
		}
	}
	return m.View()
}

// Close clears the active route.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.route = nil
	m.stops = nil
	m.step = 0
	m.loading = false
}

// Next advances one visit. The target's document is loaded before the step
// commits; then the camera flies to the stop and the following stop is
// prefetched in the background. Calls while a load is pending, or at the
// last visit, leave the state unchanged.
func (m *Machine) Next(ctx context.Context) (View, error) {
	m.mu.Lock()
	if m.route == nil {
		m.mu.Unlock()
		return View{}, ErrClosed
	}
	if m.loading || m.step+1 >= len(m.stops) {
		m.mu.Unlock()
		return m.View(), nil
	}
	target := m.step + 1
	m.mu.Unlock()
	return m.advance(ctx, target)
}

// GoTo jumps to step, clamped to the route's visits, with the same
// load-then-commit rule as Next.
func (m *Machine) GoTo(ctx context.Context, step int) (View, error) {
	m.mu.Lock()
	if m.route == nil {
		m.mu.Unlock()
		return View{}, ErrClosed
	}
	if m.loading || len(m.stops) == 0 {
		m.mu.Unlock()
		return m.View(), nil
	}
	target := clamp(step, 0, len(m.stops)-1)
	m.mu.Unlock()
	return m.advance(ctx, target)
}

// Prev steps back one visit without loading anything.
func (m *Machine) Prev() (View, error) {
	m.mu.Lock()
	if m.route == nil {
		m.mu.Unlock()
		return View{}, ErrClosed
	}
	if m.step > 0 {
		m.step--
	}
	pos, ok := m.positionAt(m.step)
	m.mu.Unlock()

	if ok {
		m.flyTo(pos)
	}
	return m.View(), nil
}

func (m *Machine) advance(ctx context.Context, target int) (View, error) {
	m.mu.Lock()
	gen := m.gen
	id := m.detailAt(target)
	_, cached := m.docs.Cached(id)
	needLoad := !id.IsZero() && !cached
	if needLoad {
		m.loading = true
	}
	m.mu.Unlock()

	if needLoad {
		_, err := m.docs.Document(ctx, id)
		m.mu.Lock()
		if m.gen == gen {
			m.loading = false
		}
		m.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return m.View(), eris.Wrap(ctxErr, "playback: load stop")
		}
		if err != nil {
			zap.L().Warn("playback: stop detail unavailable",
				zap.String("route_detail_id", id.String()),
				zap.Error(err),
			)
		}
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return m.View(), nil
	}
	m.step = target
	pos, ok := m.positionAt(target)
	after := m.detailAt(target + 1)
	m.mu.Unlock()

	if ok {
		m.flyTo(pos)
	}
	if !after.IsZero() {
		m.docs.Prefetch(context.WithoutCancel(ctx), after)
	}
	return m.View(), nil
}

func (m *Machine) flyTo(pos []float64) {
	zoom := math.Max(m.cam.Zoom(), m.opts.StopZoom)
	if err := m.cam.FlyTo(pos, zoom); err != nil {
		zap.L().Warn("playback: fly to stop failed", zap.Error(err))
	}
}

// detailAt returns the detail id of visit i, or "" when out of range.
// Callers hold mu.
func (m *Machine) detailAt(i int) model.ID {
	if i < 0 || i >= len(m.stops) {
		return ""
	}
	return m.stops[i].DetailID()
}

// positionAt returns the coordinates of visit i. Callers hold mu.
func (m *Machine) positionAt(i int) ([]float64, bool) {
	if i < 0 || i >= len(m.stops) {
		return nil, false
	}
	return m.stops[i].Position()
}

// View returns the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.route == nil {
		return View{}
	}
	v := View{
		Open:     true,
		RouteID:  m.route.ID,
		Agent:    m.route.Agent,
		Zone:     m.route.ZoneName,
		Step:     m.step,
		Total:    len(m.stops),
		NoVisits: len(m.stops) == 0,
		Loading:  m.loading,
		CanPrev:  m.step > 0,
		CanNext:  !m.loading && m.step+1 < len(m.stops),
	}
	if m.step < len(m.stops) {
		c := m.stops[m.step]
		s := &Stop{Index: m.step, Client: c, DetailID: c.DetailID()}
		if doc, ok := m.docs.Cached(s.DetailID); ok {
			s.Document = doc
		}
		s.Metrics = aggregate.StopMetrics(c, s.Document)
		v.Stop = s
	}
	return v
}

// HandleOpenRequest opens the route named by e in ds. Unknown ids are logged
// and ignored.
func (m *Machine) HandleOpenRequest(ctx context.Context, ds *model.Dataset, e events.RouteOpenRequested) {
	r, ok := ds.Route(e.RouteID)
	if !ok {
		zap.L().Info("playback: open requested for unknown route", zap.String("route_id", e.RouteID.String()))
		return
	}
	m.Open(ctx, r)
}

// Subscribe opens routes on RouteOpenRequested, resolving ids against the
// dataset current returns at delivery time.
func (m *Machine) Subscribe(bus events.Bus, current func() *model.Dataset) func() {
	return events.On(bus, func(ctx context.Context, e events.RouteOpenRequested) error {
		m.HandleOpenRequest(ctx, current(), e)
		return nil
	})
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
