package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/sessioncache"
)

func ptr[T any](v T) *T { return &v }

func lineDoc(lines ...model.SalesLine) *model.SalesDocument {
	return &model.SalesDocument{Events: []model.SalesEvent{{
		Invoices: []model.Invoice{{Lines: lines}},
	}}}
}

func aggregatedDoc(amount float64) *model.SalesDocument {
	return &model.SalesDocument{Aggregated: &model.AggregatedSales{InvoiceAmount: amount}}
}

type fakeSource struct {
	mu    sync.Mutex
	docs  map[model.ID]*model.SalesDocument
	fail  map[model.ID]bool
	calls map[model.ID]int
	total atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:  make(map[model.ID]*model.SalesDocument),
		fail:  make(map[model.ID]bool),
		calls: make(map[model.ID]int),
	}
}

func (f *fakeSource) SalesDocument(_ context.Context, id model.ID, _ api.SalesOptions) (*model.SalesDocument, error) {
	f.total.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.fail[id] {
		return nil, errors.New("backend down")
	}
	return f.docs[id], nil
}

func (f *fakeSource) callsFor(id model.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newTestEngine(src Source) *Engine {
	return NewEngine(src, sessioncache.New[*model.SalesDocument](100, time.Minute), Options{
		Retries:     2,
		BackoffStep: time.Millisecond,
	})
}

func TestFold_LinesAndSyntheticBucket(t *testing.T) {
	docs := []*model.SalesDocument{
		lineDoc(
			model.SalesLine{ProductCode: "A", ProductName: "Agua", Quantity: 5, UnitPrice: 10},
			model.SalesLine{ProductCode: "B", Quantity: 2, UnitPrice: 1, LineTotal: ptr(20.0)},
		),
		nil,
		aggregatedDoc(30),
		aggregatedDoc(0),
		lineDoc(model.SalesLine{ProductCode: "A", Quantity: 1, UnitPrice: 10, LineTotal: ptr(0.0)}),
	}

	got := Fold(docs, 0)
	require.Len(t, got, 3)

	assert.Equal(t, "A", got[0].Key)
	assert.Equal(t, "Agua", got[0].Name)
	assert.InDelta(t, 6.0, got[0].Quantity, 1e-9)
	assert.InDelta(t, 60.0, got[0].Sales, 1e-9)

	assert.Equal(t, "B", got[1].Key)
	assert.Equal(t, "B", got[1].Name)
	assert.InDelta(t, 20.0, got[1].Sales, 1e-9)

	assert.True(t, got[2].Synthetic())
	assert.Equal(t, AggregatedName, got[2].Name)
	assert.InDelta(t, 30.0, got[2].Sales, 1e-9)
	assert.Zero(t, got[2].Quantity)
}

func TestFold_EventsWinOverAggregatedSummary(t *testing.T) {
	doc := lineDoc(model.SalesLine{ProductName: "Pan", Quantity: 1, UnitPrice: 3})
	doc.Aggregated = &model.AggregatedSales{InvoiceAmount: 500}

	got := Fold([]*model.SalesDocument{doc}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Pan", got[0].Key)
}

func TestFold_UnknownKey(t *testing.T) {
	got := Fold([]*model.SalesDocument{lineDoc(model.SalesLine{Quantity: 1, UnitPrice: 2})}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "unknown", got[0].Key)
	assert.Equal(t, "unknown", got[0].Name)
}

func TestFold_RankingTiesAndTruncation(t *testing.T) {
	var lines []model.SalesLine
	for i := range 40 {
		lines = append(lines, model.SalesLine{
			ProductCode: string(rune('a'+i%26)) + string(rune('A'+i/26)),
			Quantity:    float64(i % 3),
			UnitPrice:   float64(i),
		})
	}
	got := Fold([]*model.SalesDocument{lineDoc(lines...)}, 0)
	require.Len(t, got, DefaultTopN)
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.Quantity == cur.Quantity {
			assert.GreaterOrEqual(t, prev.Sales, cur.Sales)
		} else {
			assert.Greater(t, prev.Quantity, cur.Quantity)
		}
	}

	assert.Len(t, Fold([]*model.SalesDocument{lineDoc(lines...)}, 5), 5)
}

func TestFold_StableForEqualKeys(t *testing.T) {
	got := Fold([]*model.SalesDocument{lineDoc(
		model.SalesLine{ProductCode: "X", Quantity: 1, UnitPrice: 1},
		model.SalesLine{ProductCode: "Y", Quantity: 1, UnitPrice: 1},
	)}, 0)
	assert.Equal(t, "X", got[0].Key)
	assert.Equal(t, "Y", got[1].Key)
}

func TestEngine_PartialFailureScenario(t *testing.T) {
	src := newFakeSource()
	src.docs["101"] = lineDoc(
		model.SalesLine{ProductCode: "A", Quantity: 5, LineTotal: ptr(50.0)},
		model.SalesLine{ProductCode: "B", Quantity: 2, LineTotal: ptr(20.0)},
	)
	src.fail["102"] = true
	src.docs["103"] = aggregatedDoc(30)

	res := newTestEngine(src).ForIDs(context.Background(), []model.ID{"101", "102", "103"}, 0)

	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Products, 3)
	assert.Equal(t, "A", res.Products[0].Key)
	assert.InDelta(t, 5.0, res.Products[0].Quantity, 1e-9)
	assert.InDelta(t, 50.0, res.Products[0].Sales, 1e-9)
	assert.Equal(t, "B", res.Products[1].Key)
	assert.True(t, res.Products[2].Synthetic())
	assert.InDelta(t, 30.0, res.Products[2].Sales, 1e-9)

	assert.Equal(t, 3, src.callsFor("102"), "one try plus two retries")
}

func TestEngine_DocumentsAreCached(t *testing.T) {
	src := newFakeSource()
	src.docs["7"] = aggregatedDoc(10)
	e := newTestEngine(src)

	e.ForIDs(context.Background(), []model.ID{"7"}, 1)
	e.ForIDs(context.Background(), []model.ID{"7"}, 1)
	assert.Equal(t, 1, src.callsFor("7"))

	doc, ok := e.Cached("7")
	require.True(t, ok)
	assert.InDelta(t, 10.0, doc.AggregatedAmount(), 1e-9)
}

func TestEngine_NilDocumentCountsAsFailure(t *testing.T) {
	src := newFakeSource()
	res := newTestEngine(src).ForIDs(context.Background(), []model.ID{"404"}, 0)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.Empty())
}

func TestEngine_ResultIndependentOfLimit(t *testing.T) {
	src := newFakeSource()
	var ids []model.ID
	for i := range 150 {
		id := model.ID(string(rune('a'+i%26)) + string(rune('a'+i/26)))
		ids = append(ids, id)
		src.docs[id] = lineDoc(model.SalesLine{ProductCode: "P" + string(rune('a'+i%7)), Quantity: 1, UnitPrice: float64(i)})
	}

	want := newTestEngine(src).ForIDs(context.Background(), ids, 1)
	for _, limit := range []int{2, 8, 64} {
		got := newTestEngine(src).ForIDs(context.Background(), ids, limit)
		assert.Equal(t, want, got, "limit=%d", limit)
	}
}

func TestEngine_ZoneAndRouteIDs(t *testing.T) {
	src := newFakeSource()
	src.docs["1"] = lineDoc(model.SalesLine{ProductCode: "A", Quantity: 1, UnitPrice: 1})
	src.docs["2"] = lineDoc(model.SalesLine{ProductCode: "A", Quantity: 2, UnitPrice: 1})
	src.docs["3"] = lineDoc(model.SalesLine{ProductCode: "C", Quantity: 9, UnitPrice: 1})

	ds := &model.Dataset{
		Zones: []model.Zone{{ID: "10", ZoneID: "Z1", Name: "Centro"}},
		Routes: []model.Route{
			{ID: "r1", ZoneCode: "Z1", Clients: []model.Client{{RouteDetailID: "1"}, {RouteDetailID: "2"}}},
			{ID: "r2", ZoneName: "Centro", Clients: []model.Client{{RouteDetailID: "2"}}},
			{ID: "r3", ZoneCode: "Z2", Clients: []model.Client{{RouteDetailID: "3"}}},
		},
	}
	e := newTestEngine(src)

	zone := e.ForZone(context.Background(), ds, ds.Zones[0])
	assert.Equal(t, 2, zone.Requested)
	require.Len(t, zone.Products, 1)
	assert.InDelta(t, 3.0, zone.Products[0].Quantity, 1e-9)

	route := e.ForRoute(context.Background(), ds.Routes[2])
	require.Len(t, route.Products, 1)
	assert.Equal(t, "C", route.Products[0].Key)
}

func TestEngine_ZoneResultMemoized(t *testing.T) {
	src := newFakeSource()
	src.docs["1"] = aggregatedDoc(5)
	ds := &model.Dataset{
		Zones:  []model.Zone{{ZoneID: "Z1"}},
		Routes: []model.Route{{ZoneCode: "Z1", Clients: []model.Client{{RouteDetailID: "1"}}}},
	}
	e := newTestEngine(src)

	first := e.ZoneResult(context.Background(), ds, ds.Zones[0])
	src.docs["1"] = aggregatedDoc(99)
	e.cache.Clear()
	second := e.ZoneResult(context.Background(), ds, ds.Zones[0])
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), src.total.Load())

	e.ResetZones()
	third := e.ZoneResult(context.Background(), ds, ds.Zones[0])
	assert.InDelta(t, 99.0, third.Products[0].Sales, 1e-9)
}

func TestEngine_PrefetchSkipsEmptyID(t *testing.T) {
	e := newTestEngine(newFakeSource())
	assert.False(t, e.Prefetch(context.Background(), ""))
	_, err := e.Document(context.Background(), "")
	assert.Error(t, err)
}

func TestStopMetrics(t *testing.T) {
	events := func(totals ...float64) *model.SalesDocument {
		doc := &model.SalesDocument{}
		for _, v := range totals {
			doc.Events = append(doc.Events, model.SalesEvent{Invoices: []model.Invoice{{Total: ptr(v)}}})
		}
		return doc
	}

	t.Run("derived from events", func(t *testing.T) {
		m := StopMetrics(model.Client{}, events(100, 0, 50, 80))
		assert.InDelta(t, 50.0, m.PriorSale, 1e-9)
		assert.InDelta(t, 230.0/3, m.ClientAverage, 1e-9)
	})

	t.Run("single event falls back to itself", func(t *testing.T) {
		m := StopMetrics(model.Client{}, events(40))
		assert.InDelta(t, 40.0, m.PriorSale, 1e-9)
		assert.InDelta(t, 40.0, m.ClientAverage, 1e-9)
	})

	t.Run("backend kpis win", func(t *testing.T) {
		c := model.Client{KPIs: &model.ClientKPIs{PriorSale: ptr(7.0), ClientAverage: ptr(9.0)}}
		m := StopMetrics(c, events(100, 200))
		assert.InDelta(t, 7.0, m.PriorSale, 1e-9)
		assert.InDelta(t, 9.0, m.ClientAverage, 1e-9)
	})

	t.Run("zero kpi is filled from events", func(t *testing.T) {
		c := model.Client{KPIs: &model.ClientKPIs{PriorSale: ptr(0.0), ClientAverage: ptr(9.0)}}
		m := StopMetrics(c, events(100, 200))
		assert.InDelta(t, 100.0, m.PriorSale, 1e-9)
		assert.InDelta(t, 9.0, m.ClientAverage, 1e-9)
	})

	t.Run("no document", func(t *testing.T) {
		assert.Equal(t, Metrics{}, StopMetrics(model.Client{}, nil))
	})

	t.Run("line totals without invoice total", func(t *testing.T) {
		doc := &model.SalesDocument{Events: []model.SalesEvent{{Invoices: []model.Invoice{{
			Lines: []model.SalesLine{{LineTotal: ptr(12.0)}, {Quantity: 3, UnitPrice: 100}},
		}}}}}
		m := StopMetrics(model.Client{}, doc)
		assert.InDelta(t, 12.0, m.ClientAverage, 1e-9)
	})
}
