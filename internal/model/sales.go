package model

// SalesLine is one invoice detail row.
type SalesLine struct {
	DetailID    ID       `json:"invoice_detail_id,omitempty"`
	ProductCode string   `json:"product_code,omitempty"`
	ProductName string   `json:"product_name,omitempty"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	NetAmount   float64  `json:"net_amount,omitempty"`
	VATAmount   float64  `json:"vat_amount,omitempty"`
	LineTotal   *float64 `json:"line_total,omitempty"`
	RowNumber   *int     `json:"row_number,omitempty"`
}

// ProductKey groups lines by product code, then name, then "unknown".
func (l SalesLine) ProductKey() string {
	switch {
	case l.ProductCode != "":
		return l.ProductCode
	case l.ProductName != "":
		return l.ProductName
	default:
		return "unknown"
	}
}

// Total returns the line total, falling back to quantity times unit price
// when the total is missing or zero.
func (l SalesLine) Total() float64 {
	if l.LineTotal != nil && *l.LineTotal != 0 {
		return *l.LineTotal
	}
	return l.Quantity * l.UnitPrice
}

// Invoice groups the lines billed in one document.
type Invoice struct {
	ID       ID          `json:"invoice_id"`
	Number   string      `json:"invoice_number,omitempty"`
	Date     string      `json:"invoice_date,omitempty"`
	Total    *float64    `json:"invoice_total,omitempty"`
	Currency string      `json:"currency_code,omitempty"`
	Lines    []SalesLine `json:"lines"`
}

// Amount returns the invoice total, or the sum of its lines when missing.
func (inv Invoice) Amount() float64 {
	if inv.Total != nil {
		return *inv.Total
	}
	var sum float64
	for _, l := range inv.Lines {
		sum += l.Total()
	}
	return sum
}

// SalesEvent is a field event (visit, order, sale) with its invoices.
type SalesEvent struct {
	ID        ID        `json:"event_id"`
	Date      string    `json:"event_date,omitempty"`
	Comments  string    `json:"comments,omitempty"`
	EventType ID        `json:"event_type_id,omitempty"`
	Invoices  []Invoice `json:"invoices"`
}

// Amount sums the event's invoice totals.
func (e SalesEvent) Amount() float64 {
	var sum float64
	for _, inv := range e.Invoices {
		sum += inv.Amount()
	}
	return sum
}

// AggregatedSales is the summary returned when a stop has no line detail.
type AggregatedSales struct {
	InvoiceAmount float64 `json:"invoice_amount"`
	OrderAmount   float64 `json:"order_amount"`
}

// SalesDocument is the sales detail of one route detail (stop).
type SalesDocument struct {
	RouteDetailID ID               `json:"route_detail_id"`
	Events        []SalesEvent     `json:"events"`
	Count         int              `json:"count"`
	Aggregated    *AggregatedSales `json:"ventas_aggregadas,omitempty"`
	Message       string           `json:"mensaje,omitempty"`
}

// HasDetail reports whether the document carries any line items.
func (d *SalesDocument) HasDetail() bool {
	if d == nil {
		return false
	}
	for _, ev := range d.Events {
		for _, inv := range ev.Invoices {
			if len(inv.Lines) > 0 {
				return true
			}
		}
	}
	return false
}

// AggregatedAmount returns the aggregated invoice amount, zero when absent.
func (d *SalesDocument) AggregatedAmount() float64 {
	if d == nil || d.Aggregated == nil {
		return 0
	}
	return d.Aggregated.InvoiceAmount
}
