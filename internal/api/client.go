// Package api is the typed client for the field-sales map backend.
package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldmap/internal/fetcher"
	"github.com/sells-group/fieldmap/internal/filter"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/resilience"
)

// Client defines the backend operations the map needs.
type Client interface {
	// Dataset fetches routes, zones and stats for the given filter.
	Dataset(ctx context.Context, q filter.Query) (*model.Dataset, error)
	// SalesDocument fetches the sales detail of one route detail.
	SalesDocument(ctx context.Context, routeDetailID model.ID, opts SalesOptions) (*model.SalesDocument, error)
	// Agents fetches the agent roster.
	Agents(ctx context.Context) ([]model.Agent, error)
	// AgentPositions fetches the last known position of every agent.
	AgentPositions(ctx context.Context) ([]model.AgentPosition, error)
	// UnvisitedClients lists planned clients never visited in the range.
	UnvisitedClients(ctx context.Context, q UnvisitedQuery) ([]model.UnvisitedClient, error)
}

// SalesOptions narrows a sales document request.
type SalesOptions struct {
	OnlyEventType *int
	From          string
	To            string
}

func (o SalesOptions) values() url.Values {
	v := url.Values{}
	if o.OnlyEventType != nil {
		v.Set("only_event_type", strconv.Itoa(*o.OnlyEventType))
	}
	if o.From != "" {
		v.Set("fecha_inicio", o.From)
	}
	if o.To != "" {
		v.Set("fecha_fin", o.To)
	}
	return v
}

// UnvisitedQuery filters the unvisited-clients listing.
type UnvisitedQuery struct {
	From    string
	To      string
	AgentID string
}

// Option configures the client.
type Option func(*httpClient)

// WithBreaker routes sales document requests through a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	base    *url.URL
	fetch   fetcher.Fetcher
	breaker *resilience.CircuitBreaker
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, f fetcher.Fetcher, opts ...Option) (Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, eris.Wrapf(err, "api: parse base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("api: base url %q must be absolute", baseURL)
	}
	c := &httpClient{base: u, fetch: f}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *httpClient) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *httpClient) Dataset(ctx context.Context, q filter.Query) (*model.Dataset, error) {
	var ds model.Dataset
	if err := c.fetch.GetJSON(ctx, c.endpoint("/mapa/rutas", q.Values()), &ds); err != nil {
		return nil, eris.Wrap(err, "api: map dataset")
	}
	zap.L().Debug("api: dataset loaded",
		zap.Int("routes", len(ds.Routes)),
		zap.Int("zones", len(ds.Zones)),
	)
	return &ds, nil
}

func (c *httpClient) SalesDocument(ctx context.Context, routeDetailID model.ID, opts SalesOptions) (*model.SalesDocument, error) {
	if routeDetailID.IsZero() {
		return nil, eris.Wrap(resilience.ErrDataAbsent, "api: empty route detail id")
	}
	rawURL := c.endpoint("/route_detail/"+url.PathEscape(routeDetailID.String())+"/ventas", opts.values())

	// Sales documents are retried by the caller's fetch utility, so the
	// transport makes a single attempt.
	get := func(ctx context.Context) (*model.SalesDocument, error) {
		var doc model.SalesDocument
		if err := c.fetch.GetJSON(fetcher.WithoutRetry(ctx), rawURL, &doc); err != nil {
			return nil, err
		}
		return &doc, nil
	}

	var (
		doc *model.SalesDocument
		err error
	)
	if c.breaker != nil {
		doc, err = resilience.ExecuteVal(ctx, c.breaker, get)
	} else {
		doc, err = get(ctx)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "api: sales for route detail %s", routeDetailID)
	}
	return doc, nil
}

type agentsEnvelope struct {
	Count  int           `json:"count"`
	Agents []model.Agent `json:"vendedores"`
}

func (c *httpClient) Agents(ctx context.Context) ([]model.Agent, error) {
	var env agentsEnvelope
	if err := c.fetch.GetJSON(ctx, c.endpoint("/vendedores", nil), &env); err != nil {
		return nil, eris.Wrap(err, "api: agents")
	}
	return env.Agents, nil
}

func (c *httpClient) AgentPositions(ctx context.Context) ([]model.AgentPosition, error) {
	var raw json.RawMessage
	if err := c.fetch.GetJSON(ctx, c.endpoint("/vendedores/ultima_ubicacion", nil), &raw); err != nil {
		return nil, eris.Wrap(err, "api: agent positions")
	}
	rows, err := fetcher.DecodeList[model.AgentPosition](raw, "rows", "vendedores")
	if err != nil {
		return nil, eris.Wrap(err, "api: agent positions")
	}
	return rows, nil
}

func (c *httpClient) UnvisitedClients(ctx context.Context, q UnvisitedQuery) ([]model.UnvisitedClient, error) {
	v := url.Values{}
	if q.From != "" {
		v.Set("fecha_inicio", q.From)
	}
	if q.To != "" {
		v.Set("fecha_fin", q.To)
	}
	if q.AgentID != "" {
		v.Set("vendedor_id", q.AgentID)
	}

	var raw json.RawMessage
	if err := c.fetch.GetJSON(ctx, c.endpoint("/clientes_no_visitados", v), &raw); err != nil {
		return nil, eris.Wrap(err, "api: unvisited clients")
	}
	clients, err := fetcher.DecodeList[model.UnvisitedClient](raw, "clientes")
	if err != nil {
		return nil, eris.Wrap(err, "api: unvisited clients")
	}
	return clients, nil
}
