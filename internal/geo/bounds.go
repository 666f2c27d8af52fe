// Package geo computes camera extents over zones, routes and stops.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/fieldmap/internal/model"
)

// Bounds is a lng/lat bounding box that grows as geometries are added.
type Bounds struct {
	b *geom.Bounds
}

// NewBounds returns empty bounds.
func NewBounds() *Bounds {
	return &Bounds{b: geom.NewBounds(geom.XY)}
}

// ExtendPoint grows the box to include a [lng, lat] point. Points with fewer
// than two finite coordinates or outside the valid lng/lat range are ignored.
func (b *Bounds) ExtendPoint(p []float64) *Bounds {
	if !Valid(p) {
		return b
	}
	b.b.Extend(geom.NewPointFlat(geom.XY, []float64{p[0], p[1]}))
	return b
}

// ExtendPoints grows the box to include every valid point.
func (b *Bounds) ExtendPoints(points [][]float64) *Bounds {
	for _, p := range points {
		b.ExtendPoint(p)
	}
	return b
}

// ExtendRing grows the box to include a zone boundary.
func (b *Bounds) ExtendRing(r model.Ring) *Bounds {
	flat := make([]float64, 0, 2*len(r))
	for _, p := range r {
		if Valid(p) {
			flat = append(flat, p[0], p[1])
		}
	}
	if len(flat) == 0 {
		return b
	}
	b.b.Extend(geom.NewLineStringFlat(geom.XY, flat))
	return b
}

// Empty reports whether nothing has been added.
func (b *Bounds) Empty() bool {
	return b == nil || b.b.IsEmpty()
}

// SouthWest returns the [lng, lat] minimum corner.
func (b *Bounds) SouthWest() []float64 {
	return []float64{b.b.Min(0), b.b.Min(1)}
}

// NorthEast returns the [lng, lat] maximum corner.
func (b *Bounds) NorthEast() []float64 {
	return []float64{b.b.Max(0), b.b.Max(1)}
}

// Center returns the midpoint of the box.
func (b *Bounds) Center() []float64 {
	return []float64{(b.b.Min(0) + b.b.Max(0)) / 2, (b.b.Min(1) + b.b.Max(1)) / 2}
}

// Array returns [[swLng, swLat], [neLng, neLat]], or nil when empty.
func (b *Bounds) Array() [][]float64 {
	if b.Empty() {
		return nil
	}
	return [][]float64{b.SouthWest(), b.NorthEast()}
}

// ZoneBounds returns the combined extent of every zone boundary.
func ZoneBounds(zones []model.Zone) *Bounds {
	b := NewBounds()
	for _, z := range zones {
		b.ExtendRing(z.Boundary())
	}
	return b
}

// RouteBounds returns the extent of a route's positioned clients.
func RouteBounds(r model.Route) *Bounds {
	return NewBounds().ExtendPoints(r.Positions())
}

// Valid reports whether p is a finite [lng, lat] pair within range.
func Valid(p []float64) bool {
	if len(p) < 2 {
		return false
	}
	lng, lat := p[0], p[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}
