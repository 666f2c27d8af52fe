// Package surface abstracts the stateful map rendering surface: named
// GeoJSON sources, styled layers bound to them, per-layer pointer handlers,
// registered images and the camera.
package surface

import (
	"context"

	geojson "github.com/paulmach/go.geojson"
)

// LayerType is the rendering primitive of a layer.
type LayerType string

const (
	LayerFill          LayerType = "fill"
	LayerFillExtrusion LayerType = "fill-extrusion"
	LayerLine          LayerType = "line"
	LayerSymbol        LayerType = "symbol"
	LayerCircle        LayerType = "circle"
)

// Layout property names and values shared by callers.
const (
	PropVisibility = "visibility"
	Visible        = "visible"
	Hidden         = "none"
)

// Visibility maps a boolean to the layout visibility value.
func Visibility(on bool) string {
	if on {
		return Visible
	}
	return Hidden
}

// Layer is a styled view of one source.
type Layer struct {
	ID     string         `json:"id" yaml:"id"`
	Type   LayerType      `json:"type" yaml:"type"`
	Source string         `json:"source" yaml:"source"`
	Filter []any          `json:"filter,omitempty" yaml:"filter,omitempty"`
	Layout map[string]any `json:"layout,omitempty" yaml:"layout,omitempty"`
	Paint  map[string]any `json:"paint,omitempty" yaml:"paint,omitempty"`
}

// EventType is a pointer interaction on a layer.
type EventType string

const (
	EventClick      EventType = "click"
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
)

// FeatureHandler receives the feature under the pointer.
type FeatureHandler func(ctx context.Context, f *geojson.Feature)

// HandlerID identifies a registered handler.
type HandlerID uint64

// Image is a raster registered for symbol icons.
type Image struct {
	URL         string `json:"url" yaml:"url"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Data        []byte `json:"-" yaml:"-"`
}

// CameraOptions tune a fit-bounds move.
type CameraOptions struct {
	Padding float64 `json:"padding" yaml:"padding"`
	MaxZoom float64 `json:"max_zoom" yaml:"max_zoom"`
}

// Surface is the imperative rendering surface. Adds fail when the id already
// exists; removes fail when it does not. Callers guard mutations with the
// Has* queries.
type Surface interface {
	HasSource(id string) bool
	AddSource(id string, data *geojson.FeatureCollection) error
	SetSourceData(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error

	HasLayer(id string) bool
	AddLayer(layer Layer) error
	RemoveLayer(id string) error
	SetLayoutProperty(layerID, name string, value any) error

	On(layerID string, event EventType, handler FeatureHandler) (HandlerID, error)
	Off(id HandlerID) error

	HasImage(id string) bool
	AddImage(id string, img Image) error

	FitBounds(sw, ne []float64, opts CameraOptions) error
	FlyTo(center []float64, zoom float64) error
	Zoom() float64
}
