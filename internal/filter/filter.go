// Package filter turns an operator's period and agent selection into the
// query parameters the map backend understands.
package filter

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldmap/internal/model"
)

// DateLayout is the backend's date parameter format.
const DateLayout = "2006-01-02"

// AllAgents is the sentinel agent selection meaning "no agent filter".
const AllAgents = "todos"

// Period names a relative or explicit date range.
type Period string

const (
	PeriodToday     Period = "hoy"
	PeriodYesterday Period = "ayer"
	PeriodThisWeek  Period = "esta_semana"
	PeriodLastWeek  Period = "semana_pasada"
	PeriodThisMonth Period = "este_mes"
	PeriodLastMonth Period = "mes_pasado"
	PeriodDay       Period = "fecha_especifica"
	PeriodRange     Period = "rango_fechas"
)

// Selection is what the operator picked in the filter panel.
type Selection struct {
	Period   Period   `json:"periodo"`
	Date     string   `json:"fecha,omitempty"`
	From     string   `json:"desde,omitempty"`
	To       string   `json:"hasta,omitempty"`
	Agent    string   `json:"vendedor,omitempty"`
	AgentIDs []string `json:"vendedor_ids,omitempty"`
}

// Query is the resolved backend filter.
type Query struct {
	AgentID  string   `json:"vendedor_id,omitempty"`
	AgentIDs []string `json:"vendedor_ids,omitempty"`
	From     string   `json:"fecha_inicio,omitempty"`
	To       string   `json:"fecha_fin,omitempty"`
	Period   string   `json:"periodo,omitempty"`
}

// IsZero reports whether the query filters nothing.
func (q Query) IsZero() bool {
	return q.AgentID == "" && len(q.AgentIDs) == 0 && q.From == "" && q.To == "" && q.Period == ""
}

// Values encodes the query for GET /mapa/rutas.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.AgentID != "" && q.AgentID != AllAgents {
		v.Set("vendedor_id", q.AgentID)
	}
	for _, id := range q.AgentIDs {
		if id = strings.TrimSpace(id); id != "" {
			v.Add("vendedor_ids", id)
		}
	}
	if q.From != "" {
		v.Set("fecha_inicio", q.From)
	}
	if q.To != "" {
		v.Set("fecha_fin", q.To)
	}
	if q.Period != "" {
		v.Set("periodo", q.Period)
	}
	return v
}

// SplitIDs parses a comma-separated agent id list.
func SplitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Resolve converts a selection into a backend query. Dates are computed in
// now's location. Explicit agent ids win over an agent name; a name is mapped
// to its id through the currently loaded dataset and dropped if unknown.
func Resolve(sel Selection, now time.Time, current *model.Dataset) (Query, error) {
	var q Query

	switch {
	case len(sel.AgentIDs) > 0:
		q.AgentIDs = append([]string(nil), sel.AgentIDs...)
	case sel.Agent != "" && sel.Agent != AllAgents && current != nil:
		for _, r := range current.Routes {
			if r.Agent == sel.Agent && !r.AgentID.IsZero() {
				q.AgentID = r.AgentID.String()
				break
			}
		}
	}

	from, to, err := Range(sel, now)
	if err != nil {
		return Query{}, err
	}
	q.From, q.To = from, to
	return q, nil
}

// Range returns the inclusive [from, to] dates for the selection's period,
// or empty strings when the period applies no date filter.
func Range(sel Selection, now time.Time) (string, string, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch sel.Period {
	case PeriodToday:
		return day(today), day(today), nil
	case PeriodYesterday:
		y := today.AddDate(0, 0, -1)
		return day(y), day(y), nil
	case PeriodThisWeek:
		monday := mondayOf(today)
		return day(monday), day(monday.AddDate(0, 0, 6)), nil
	case PeriodLastWeek:
		monday := mondayOf(today).AddDate(0, 0, -7)
		return day(monday), day(monday.AddDate(0, 0, 6)), nil
	case PeriodThisMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return day(first), day(first.AddDate(0, 1, -1)), nil
	case PeriodLastMonth:
		first := time.Date(today.Year(), today.Month()-1, 1, 0, 0, 0, 0, today.Location())
		return day(first), day(first.AddDate(0, 1, -1)), nil
	case PeriodDay:
		if sel.Date == "" {
			return "", "", nil
		}
		if err := validDate(sel.Date); err != nil {
			return "", "", err
		}
		return sel.Date, sel.Date, nil
	case PeriodRange:
		if sel.From == "" || sel.To == "" {
			return "", "", nil
		}
		if err := validDate(sel.From); err != nil {
			return "", "", err
		}
		if err := validDate(sel.To); err != nil {
			return "", "", err
		}
		if sel.To < sel.From {
			return "", "", eris.Errorf("filter: range end %s before start %s", sel.To, sel.From)
		}
		return sel.From, sel.To, nil
	default:
		return "", "", nil
	}
}

func mondayOf(t time.Time) time.Time {
	offset := int(t.Weekday()) - 1
	if t.Weekday() == time.Sunday {
		offset = 6
	}
	return t.AddDate(0, 0, -offset)
}

func day(t time.Time) string { return t.Format(DateLayout) }

func validDate(s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return eris.Wrapf(err, "filter: invalid date %q", s)
	}
	return nil
}
