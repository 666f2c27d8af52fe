package aggregate

import "github.com/sells-group/fieldmap/internal/model"

// Metrics compares a stop's sale with the client's history.
type Metrics struct {
	PriorSale     float64 `json:"venta_anterior"`
	ClientAverage float64 `json:"promedio_compra"`
}

// StopMetrics returns the prior-sale and average-purchase figures for a
// visited client. Non-zero backend KPIs win; missing values are derived from
// the stop's document: the prior sale is the last non-zero event total before
// the final event (or the final event itself when none precede it), and the
// average is taken over positive event totals.
func StopMetrics(c model.Client, doc *model.SalesDocument) Metrics {
	var m Metrics
	if c.KPIs != nil {
		if c.KPIs.PriorSale != nil {
			m.PriorSale = *c.KPIs.PriorSale
		}
		if c.KPIs.ClientAverage != nil {
			m.ClientAverage = *c.KPIs.ClientAverage
		}
	}
	if (m.PriorSale != 0 && m.ClientAverage != 0) || doc == nil || len(doc.Events) == 0 {
		return m
	}

	totals := make([]float64, len(doc.Events))
	for i, ev := range doc.Events {
		totals[i] = eventTotal(ev)
	}

	if m.ClientAverage == 0 {
		var sum float64
		var n int
		for _, t := range totals {
			if t > 0 {
				sum += t
				n++
			}
		}
		if n > 0 {
			m.ClientAverage = sum / float64(n)
		}
	}

	if m.PriorSale == 0 {
		found := false
		for i := len(totals) - 2; i >= 0; i-- {
			if totals[i] > 0 {
				m.PriorSale = totals[i]
				found = true
				break
			}
		}
		if !found {
			m.PriorSale = max(totals[len(totals)-1], 0)
		}
	}
	return m
}

// eventTotal sums invoice totals, using the recorded line totals for
// invoices without one.
func eventTotal(ev model.SalesEvent) float64 {
	var sum float64
	for _, inv := range ev.Invoices {
		if inv.Total != nil {
			sum += *inv.Total
			continue
		}
		for _, ln := range inv.Lines {
			if ln.LineTotal != nil {
				sum += *ln.LineTotal
			}
		}
	}
	return sum
}
