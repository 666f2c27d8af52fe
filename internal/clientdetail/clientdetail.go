// Package clientdetail resolves a clicked client to its sales document.
// Map features may carry several identifiers; each is tried in turn until
// the backend answers with JSON.
package clientdetail

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/model"
)

// candidateKeys are the feature properties that may hold a usable id, in
// preference order.
var candidateKeys = []string{"route_detail_id", "route_detail", "cliente_id", "clienteId", "id"}

// Source fetches a sales document by id.
type Source interface {
	SalesDocument(ctx context.Context, id model.ID, opts api.SalesOptions) (*model.SalesDocument, error)
}

// Store receives resolved documents, typically the session cache.
type Store interface {
	Put(key string, doc *model.SalesDocument)
}

// Option configures an Opener.
type Option func(*Opener)

// WithStore shares resolved documents with s.
func WithStore(s Store) Option { return func(o *Opener) { o.store = s } }

// Opener resolves client features and publishes SalesDetailReceived.
type Opener struct {
	src   Source
	bus   events.Bus
	store Store
	last  atomic.Pointer[Popup]
}

// New creates an Opener. bus may be nil.
func New(src Source, bus events.Bus, opts ...Option) *Opener {
	o := &Opener{src: src, bus: bus}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Candidates returns the distinct non-empty ids found in props, in
// preference order.
func Candidates(props map[string]any) []model.ID {
	seen := make(map[model.ID]struct{}, len(candidateKeys))
	var out []model.ID
	for _, k := range candidateKeys {
		id := toID(props[k])
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toID(v any) model.ID {
	switch x := v.(type) {
	case string:
		return model.ID(strings.TrimSpace(x))
	case float64:
		return model.ID(strconv.FormatFloat(x, 'f', -1, 64))
	case int:
		return model.ID(strconv.Itoa(x))
	case int64:
		return model.ID(strconv.FormatInt(x, 10))
	case model.ID:
		return x
	default:
		return ""
	}
}

// Open resolves props to a sales document. Every candidate failure, whether
// an error status, a non-JSON body or a transport error, moves on to the next
// candidate. When none resolves the popup carries a note listing the ids
// tried. Only context cancellation is returned as an error.
func (o *Opener) Open(ctx context.Context, props map[string]any, position []float64) (Popup, error) {
	cands := Candidates(props)
	p := Popup{
		Title:    popupTitle(props, cands),
		Visited:  props["visitado"] == true,
		Position: position,
	}

	for _, id := range cands {
		p.Tried = append(p.Tried, id)
		doc, err := o.src.SalesDocument(ctx, id, api.SalesOptions{})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return p, eris.Wrap(ctxErr, "clientdetail: open")
		}
		if err != nil || doc == nil {
			zap.L().Debug("clientdetail: candidate failed",
				zap.String("id", id.String()),
				zap.Error(err),
			)
			continue
		}
		p.ClientID = id
		p.Document = doc
		break
	}

	if p.Document == nil {
		p.Note = noDataNote(cands)
		o.last.Store(&p)
		return p, nil
	}

	if o.store != nil {
		o.store.Put(p.ClientID.String(), p.Document)
	}
	if o.bus != nil {
		o.bus.Publish(ctx, events.SalesDetailReceived{
			BaseEvent: events.NewBaseEvent(),
			ClientID:  p.ClientID,
			Tried:     append([]model.ID(nil), p.Tried...),
			Document:  p.Document,
		})
	}
	o.last.Store(&p)
	return p, nil
}

// OpenFeature opens a clicked point feature. Features without a point
// geometry are ignored.
func (o *Opener) OpenFeature(ctx context.Context, f *geojson.Feature) error {
	if f == nil || f.Geometry == nil || !f.Geometry.IsPoint() {
		return nil
	}
	_, err := o.Open(ctx, f.Properties, f.Geometry.Point)
	return err
}

// Last returns the most recently opened popup.
func (o *Opener) Last() (Popup, bool) {
	p := o.last.Load()
	if p == nil {
		return Popup{}, false
	}
	return *p, true
}

func popupTitle(props map[string]any, cands []model.ID) string {
	if name, ok := props["nombre"].(string); ok && name != "" {
		return name
	}
	if len(cands) > 0 {
		return cands[0].String()
	}
	return "cliente"
}

func noDataNote(cands []model.ID) string {
	tried := "ninguno"
	if len(cands) > 0 {
		ids := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = c.String()
		}
		tried = strings.Join(ids, ", ")
	}
	return "Respuesta no JSON del servidor o no hay datos para route_detail_id(s): " + tried
}
