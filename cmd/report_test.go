package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/fieldmap/internal/aggregate"
	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/playback"
)

func ptr[T any](v T) *T { return &v }

func TestFormatTopProducts(t *testing.T) {
	e := events.TopProductsReady{
		Scope:   events.ScopeZone,
		ScopeID: "Z1",
		Label:   "Centro",
		Result: aggregate.Result{
			Requested: 3,
			Failed:    1,
			Products: []aggregate.ProductTotal{
				{Key: "P1", Name: "Yerba 1kg", Quantity: 1200, Sales: 1500000},
				{Key: aggregate.AggregatedKey, Name: aggregate.AggregatedName, Sales: 25000},
			},
		},
	}

	var buf bytes.Buffer
	formatTopProducts(&buf, format.Default(), e)
	out := buf.String()

	assert.Contains(t, out, "Top productos (zone Centro)")
	assert.Contains(t, out, "PRODUCTO")
	assert.Contains(t, out, "Yerba 1kg")
	assert.Contains(t, out, "1.200")
	assert.Contains(t, out, "$ 1.500.000")
	assert.Contains(t, out, aggregate.AggregatedName)
	assert.Contains(t, out, "Consultadas: 3  Fallidas: 1")
}

func TestFormatTopProducts_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatTopProducts(&buf, format.Default(), events.TopProductsReady{Scope: events.ScopeRoute, ScopeID: "10"})
	assert.Contains(t, buf.String(), "(route 10)")
	assert.Contains(t, buf.String(), "Sin ventas para mostrar.")
}

func TestFormatStop(t *testing.T) {
	v := playback.View{
		Open:    true,
		RouteID: "10",
		Step:    1,
		Total:   3,
		Stop: &playback.Stop{
			Client:   model.Client{Name: "Kiosco Dos", Sales: 18000},
			DetailID: "102",
			Metrics:  aggregate.Metrics{PriorSale: 12000, ClientAverage: 15000},
		},
	}

	var buf bytes.Buffer
	formatStop(&buf, format.Default(), v)
	out := buf.String()
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "Kiosco Dos")
	assert.Contains(t, out, "$ 18.000")
	assert.Contains(t, out, "$ 12.000")
	assert.Contains(t, out, "$ 15.000")

	buf.Reset()
	formatStop(&buf, format.Default(), playback.View{Open: true, RouteID: "10", Agent: "Ana", NoVisits: true})
	assert.Contains(t, buf.String(), "sin visitas registradas")

	buf.Reset()
	formatStop(&buf, format.Default(), playback.View{})
	assert.Contains(t, buf.String(), "cerrada")
}

func TestFormatAgents(t *testing.T) {
	now := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)
	positions := []model.AgentPosition{
		{UserID: "7", FullName: "Ana", TrackingDate: "2025-03-12 09:00:00", BatteryLevel: ptr(80.0)},
		{UserID: "8", Name: "Pedro", TrackingDate: "2025-03-11 18:30:00"},
		{UserID: "9", TrackingDate: "2025-03-09 10:00:00"},
	}

	var buf bytes.Buffer
	formatAgents(&buf, positions, now)
	out := buf.String()
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "today")
	assert.Contains(t, out, "80%")
	assert.Contains(t, out, "Pedro")
	assert.Contains(t, out, "yesterday")
	assert.Contains(t, out, "2025-03-09 10:00:00")
}

func TestFormatUnvisited(t *testing.T) {
	clients := []model.UnvisitedClient{
		{Code: "C1", Name: "Kiosco con un nombre realmente muy largo para la tabla", FirstPlanned: ptr("2025-01-02"), TimesPlanned: 4},
	}

	var buf bytes.Buffer
	formatUnvisited(&buf, clients)
	out := buf.String()
	assert.Contains(t, out, "CODIGO")
	assert.Contains(t, out, "C1")
	assert.Contains(t, out, "2025-01-02")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "para la tabla")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "corto", truncate(" corto ", 10))
	assert.Equal(t, "Almacé...", truncate("Almacén Don Pepe", 9))
}
