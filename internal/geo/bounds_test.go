package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldmap/internal/model"
)

func TestBounds_Points(t *testing.T) {
	b := NewBounds()
	assert.True(t, b.Empty())
	assert.Nil(t, b.Array())

	b.ExtendPoints([][]float64{{-57.6, -25.3}, {-57.5, -25.1}, {math.NaN(), 1}, {200, 0}, {1}})
	require.False(t, b.Empty())
	assert.Equal(t, []float64{-57.6, -25.3}, b.SouthWest())
	assert.Equal(t, []float64{-57.5, -25.1}, b.NorthEast())
	assert.InDelta(t, -57.55, b.Center()[0], 1e-9)
	assert.InDelta(t, -25.2, b.Center()[1], 1e-9)
}

func TestZoneBounds(t *testing.T) {
	zones := []model.Zone{
		{Coordinates: model.Ring{{0, 0}, {1, 0}, {1, 1}}},
		{LegacyCoordinates: model.Ring{{-2, -3}, {-1, -3}, {-1, -2}}},
		{},
	}
	b := ZoneBounds(zones)
	assert.Equal(t, [][]float64{{-2, -3}, {1, 1}}, b.Array())
}

func TestRouteBounds_IgnoresUnpositionedClients(t *testing.T) {
	lat, lng := -25.0, -57.0
	r := model.Route{Clients: []model.Client{{Lat: &lat, Lng: &lng}, {Name: "sin gps"}}}
	b := RouteBounds(r)
	assert.Equal(t, []float64{-57, -25}, b.SouthWest())
	assert.Equal(t, []float64{-57, -25}, b.NorthEast())

	assert.True(t, RouteBounds(model.Route{}).Empty())
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]float64{-57, -25}))
	assert.False(t, Valid([]float64{-57}))
	assert.False(t, Valid([]float64{math.Inf(1), 0}))
	assert.False(t, Valid([]float64{0, 91}))
}
