package surface

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldmap/internal/resilience"
)

// Operation names used for call counting and failure injection.
const (
	OpAddSource     = "add_source"
	OpSetSourceData = "set_source_data"
	OpRemoveSource  = "remove_source"
	OpAddLayer      = "add_layer"
	OpRemoveLayer   = "remove_layer"
	OpSetLayout     = "set_layout_property"
	OpOn            = "on"
	OpOff           = "off"
	OpAddImage      = "add_image"
	OpFitBounds     = "fit_bounds"
	OpFlyTo         = "fly_to"
)

type registration struct {
	layer   string
	event   EventType
	handler FeatureHandler
}

// Camera is the last camera state requested from a Memory surface.
type Camera struct {
	Center  []float64     `json:"center,omitempty" yaml:"center,omitempty"`
	Zoom    float64       `json:"zoom" yaml:"zoom"`
	Bounds  [][]float64   `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Options CameraOptions `json:"options" yaml:"options"`
}

// Memory is an in-process Surface. It enforces the same add/remove
// preconditions as a real map, counts every mutation, and can be told to fail
// operations to exercise recovery paths.
type Memory struct {
	mu       sync.Mutex
	sources  map[string]*geojson.FeatureCollection
	layers   map[string]*Layer
	order    []string
	images   map[string]Image
	handlers map[HandlerID]registration
	nextID   HandlerID
	camera   Camera
	calls    map[string]int
	failures map[string]int
}

var _ Surface = (*Memory)(nil)

// NewMemory creates an empty surface at zoom 0.
func NewMemory() *Memory {
	return &Memory{
		sources:  make(map[string]*geojson.FeatureCollection),
		layers:   make(map[string]*Layer),
		images:   make(map[string]Image),
		handlers: make(map[HandlerID]registration),
		calls:    make(map[string]int),
		failures: make(map[string]int),
	}
}

// FailNext makes the next n calls of op fail with ErrSurfaceFailure.
func (m *Memory) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] += n
}

// Calls returns how many times op was invoked, failed calls included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ResetCalls zeroes the call counters.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// ReloadStyle drops every layer, source and image, as a style reload does.
// Handlers survive.
func (m *Memory) ReloadStyle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = make(map[string]*geojson.FeatureCollection)
	m.layers = make(map[string]*Layer)
	m.order = nil
	m.images = make(map[string]Image)
}

// begin counts op and reports an injected failure; callers hold mu.
func (m *Memory) begin(op, id string) error {
	m.calls[op]++
	if m.failures[op] > 0 {
		m.failures[op]--
		return eris.Wrapf(resilience.ErrSurfaceFailure, "%s %s: injected", op, id)
	}
	return nil
}

func (m *Memory) HasSource(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[id]
	return ok
}

func (m *Memory) AddSource(id string, data *geojson.FeatureCollection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpAddSource, id); err != nil {
		return err
	}
	if _, ok := m.sources[id]; ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "source %q already exists", id)
	}
	m.sources[id] = orEmpty(data)
	return nil
}

func (m *Memory) SetSourceData(id string, data *geojson.FeatureCollection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpSetSourceData, id); err != nil {
		return err
	}
	if _, ok := m.sources[id]; !ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "source %q does not exist", id)
	}
	m.sources[id] = orEmpty(data)
	return nil
}

func (m *Memory) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpRemoveSource, id); err != nil {
		return err
	}
	if _, ok := m.sources[id]; !ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "source %q does not exist", id)
	}
	for _, l := range m.layers {
		if l.Source == id {
			return eris.Wrapf(resilience.ErrSurfaceFailure, "source %q is used by layer %q", id, l.ID)
		}
	}
	delete(m.sources, id)
	return nil
}

func (m *Memory) HasLayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.layers[id]
	return ok
}

func (m *Memory) AddLayer(layer Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpAddLayer, layer.ID); err != nil {
		return err
	}
	if _, ok := m.layers[layer.ID]; ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "layer %q already exists", layer.ID)
	}
	if _, ok := m.sources[layer.Source]; !ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "layer %q references missing source %q", layer.ID, layer.Source)
	}
	l := layer
	l.Layout = cloneProps(layer.Layout)
	m.layers[l.ID] = &l
	m.order = append(m.order, l.ID)
	return nil
}

func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpRemoveLayer, id); err != nil {
		return err
	}
	if _, ok := m.layers[id]; !ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "layer %q does not exist", id)
	}
	delete(m.layers, id)
	for i, l := range m.order {
		if l == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SetLayoutProperty(layerID, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpSetLayout, layerID); err != nil {
		return err
	}
	l, ok := m.layers[layerID]
	if !ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "layer %q does not exist", layerID)
	}
	if l.Layout == nil {
		l.Layout = make(map[string]any)
	}
	l.Layout[name] = value
	return nil
}

func (m *Memory) On(layerID string, event EventType, handler FeatureHandler) (HandlerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpOn, layerID); err != nil {
		return 0, err
	}
	m.nextID++
	m.handlers[m.nextID] = registration{layer: layerID, event: event, handler: handler}
	return m.nextID, nil
}

func (m *Memory) Off(id HandlerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpOff, ""); err != nil {
		return err
	}
	delete(m.handlers, id)
	return nil
}

// HandlerCount returns the handlers registered for a layer and event.
func (m *Memory) HandlerCount(layerID string, event EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.handlers {
		if r.layer == layerID && r.event == event {
			n++
		}
	}
	return n
}

// Emit simulates a pointer event on a layer and returns how many handlers
// ran. Handlers run outside the surface lock.
func (m *Memory) Emit(ctx context.Context, layerID string, event EventType, f *geojson.Feature) int {
	m.mu.Lock()
	ids := make([]HandlerID, 0, len(m.handlers))
	for id, r := range m.handlers {
		if r.layer == layerID && r.event == event {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	handlers := make([]FeatureHandler, len(ids))
	for i, id := range ids {
		handlers[i] = m.handlers[id].handler
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ctx, f)
	}
	return len(handlers)
}

func (m *Memory) HasImage(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.images[id]
	return ok
}

func (m *Memory) AddImage(id string, img Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpAddImage, id); err != nil {
		return err
	}
	if _, ok := m.images[id]; ok {
		return eris.Wrapf(resilience.ErrSurfaceFailure, "image %q already exists", id)
	}
	m.images[id] = img
	return nil
}

func (m *Memory) FitBounds(sw, ne []float64, opts CameraOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpFitBounds, ""); err != nil {
		return err
	}
	if len(sw) < 2 || len(ne) < 2 {
		return eris.Wrap(resilience.ErrSurfaceFailure, "fit bounds: malformed corners")
	}
	m.camera = Camera{
		Center:  []float64{(sw[0] + ne[0]) / 2, (sw[1] + ne[1]) / 2},
		Zoom:    opts.MaxZoom,
		Bounds:  [][]float64{{sw[0], sw[1]}, {ne[0], ne[1]}},
		Options: opts,
	}
	return nil
}

func (m *Memory) FlyTo(center []float64, zoom float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpFlyTo, ""); err != nil {
		return err
	}
	if len(center) < 2 {
		return eris.Wrap(resilience.ErrSurfaceFailure, "fly to: malformed center")
	}
	m.camera = Camera{Center: []float64{center[0], center[1]}, Zoom: zoom}
	return nil
}

func (m *Memory) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera.Zoom
}

// Camera returns the last requested camera state.
func (m *Memory) Camera() Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// Source returns a source's current data.
func (m *Memory) Source(id string) (*geojson.FeatureCollection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fc, ok := m.sources[id]
	return fc, ok
}

// Layer returns a copy of a layer.
func (m *Memory) Layer(id string) (Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[id]
	if !ok {
		return Layer{}, false
	}
	out := *l
	out.Layout = cloneProps(l.Layout)
	return out, true
}

// LayerIDs returns layer ids in insertion order.
func (m *Memory) LayerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// SourceIDs returns source ids sorted.
func (m *Memory) SourceIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is a serializable view of the surface.
type Snapshot struct {
	Sources map[string]json.RawMessage `json:"sources" yaml:"-"`
	Counts  map[string]int             `json:"feature_counts" yaml:"feature_counts"`
	Layers  []Layer                    `json:"layers" yaml:"layers"`
	Images  []string                   `json:"images" yaml:"images"`
	Camera  Camera                     `json:"camera" yaml:"camera"`
}

// Snapshot captures sources, layers, images and camera.
func (m *Memory) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Sources: make(map[string]json.RawMessage, len(m.sources)),
		Counts:  make(map[string]int, len(m.sources)),
		Camera:  m.camera,
	}
	for id, fc := range m.sources {
		raw, err := fc.MarshalJSON()
		if err != nil {
			return Snapshot{}, eris.Wrapf(err, "snapshot source %q", id)
		}
		snap.Sources[id] = raw
		snap.Counts[id] = len(fc.Features)
	}
	for _, id := range m.order {
		l := *m.layers[id]
		l.Layout = cloneProps(l.Layout)
		snap.Layers = append(snap.Layers, l)
	}
	for id := range m.images {
		snap.Images = append(snap.Images, id)
	}
	sort.Strings(snap.Images)
	return snap, nil
}

func orEmpty(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	if fc == nil {
		return geojson.NewFeatureCollection()
	}
	return fc
}

func cloneProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
