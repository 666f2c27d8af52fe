package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/fanout"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/resilience"
	"github.com/sells-group/fieldmap/internal/sessioncache"
)

// Source fetches one stop's sales document.
type Source interface {
	SalesDocument(ctx context.Context, routeDetailID model.ID, opts api.SalesOptions) (*model.SalesDocument, error)
}

// DocumentCache is the session cache of sales documents by stop id.
type DocumentCache = sessioncache.Cache[*model.SalesDocument]

// Options tune the engine.
type Options struct {
	Concurrency int
	Retries     int
	BackoffStep time.Duration
	TopN        int
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = fanout.DefaultLimit
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BackoffStep <= 0 {
		o.BackoffStep = 200 * time.Millisecond
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Engine resolves stop ids to documents through the session cache and folds
// them into ranked product totals. Zone results are memoized by zone key.
type Engine struct {
	cache *DocumentCache
	opts  Options
	fetch fanout.Mapper[model.ID, model.SalesDocument]

	mu    sync.Mutex
	zones map[model.ID]Result
}

// NewEngine creates an Engine reading from src. Every uncached fetch is
// retried opts.Retries more times with linear backoff.
func NewEngine(src Source, cache *DocumentCache, opts Options) *Engine {
	opts = opts.withDefaults()
	get := func(ctx context.Context, id model.ID) (*model.SalesDocument, error) {
		doc, err := src.SalesDocument(ctx, id, api.SalesOptions{})
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, eris.Wrapf(resilience.ErrDataAbsent, "no sales document for %s", id)
		}
		return doc, nil
	}
	return &Engine{
		cache: cache,
		opts:  opts,
		fetch: fanout.Retry(get, opts.Retries, opts.BackoffStep),
		zones: make(map[model.ID]Result),
	}
}

func (e *Engine) load(ctx context.Context, key string) (*model.SalesDocument, error) {
	return e.fetch(ctx, model.ID(key))
}

// Cached returns the cached document for id without fetching.
func (e *Engine) Cached(id model.ID) (*model.SalesDocument, bool) {
	return e.cache.Get(id.String())
}

// Document returns id's document, fetching and caching it on a miss.
// Concurrent callers for one id share a single fetch.
func (e *Engine) Document(ctx context.Context, id model.ID) (*model.SalesDocument, error) {
	if id.IsZero() {
		return nil, eris.Wrap(resilience.ErrDataAbsent, "empty stop id")
	}
	return e.cache.Fetch(ctx, id.String(), e.load)
}

// Prefetch starts a background fetch of id unless it is cached or already
// loading. It reports whether a fetch was started.
func (e *Engine) Prefetch(ctx context.Context, id model.ID) bool {
	if id.IsZero() {
		return false
	}
	return e.cache.Prefetch(ctx, id.String(), e.load)
}

// ForIDs fetches every id with at most limit concurrent requests and folds
// the documents. A non-positive limit uses the configured concurrency.
// Failed fetches are counted, never returned as errors.
func (e *Engine) ForIDs(ctx context.Context, ids []model.ID, limit int) Result {
	if limit <= 0 {
		limit = e.opts.Concurrency
	}
	docs := fanout.Map(ctx, ids, limit, e.Document)

	res := Result{Requested: len(ids)}
	for _, d := range docs {
		if d == nil {
			res.Failed++
		}
	}
	res.Products = Fold(docs, e.opts.TopN)

	zap.L().Debug("aggregate: folded sales documents",
		zap.Int("requested", res.Requested),
		zap.Int("failed", res.Failed),
		zap.Int("products", len(res.Products)),
	)
	return res
}

// ForRoute aggregates the sales of a route's own stops.
func (e *Engine) ForRoute(ctx context.Context, r model.Route) Result {
	return e.ForIDs(ctx, r.DetailIDs(), 0)
}

// ForZone aggregates every stop of every route in the zone and memoizes the
// result under the zone key.
func (e *Engine) ForZone(ctx context.Context, ds *model.Dataset, z model.Zone) Result {
	res := e.ForIDs(ctx, ds.ZoneDetailIDs(z.Code(), z.Name), 0)
	e.mu.Lock()
	e.zones[zoneMemoKey(z)] = res
	e.mu.Unlock()
	return res
}

// ZoneResult returns the memoized zone result, computing it when absent.
func (e *Engine) ZoneResult(ctx context.Context, ds *model.Dataset, z model.Zone) Result {
	e.mu.Lock()
	res, ok := e.zones[zoneMemoKey(z)]
	e.mu.Unlock()
	if ok {
		return res
	}
	return e.ForZone(ctx, ds, z)
}

// ResetZones drops memoized zone results, e.g. after the dataset reloads.
func (e *Engine) ResetZones() {
	e.mu.Lock()
	e.zones = make(map[model.ID]Result)
	e.mu.Unlock()
}

// CacheStats reports session cache statistics.
func (e *Engine) CacheStats() sessioncache.Stats { return e.cache.Stats() }

func zoneMemoKey(z model.Zone) model.ID {
	if k := z.Key(); !k.IsZero() {
		return k
	}
	return model.ID(z.Name)
}
