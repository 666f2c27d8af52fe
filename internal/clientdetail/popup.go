package clientdetail

import (
	"fmt"

	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
)

// Popup is the detail shown for a clicked client.
type Popup struct {
	Title    string               `json:"title"`
	Visited  bool                 `json:"visitado"`
	Position []float64            `json:"position,omitempty"`
	ClientID model.ID             `json:"cliente,omitempty"`
	Tried    []model.ID           `json:"tried,omitempty"`
	Document *model.SalesDocument `json:"payload,omitempty"`
	Note     string               `json:"note,omitempty"`
}

// Resolved reports whether a sales document was found.
func (p Popup) Resolved() bool { return p.Document != nil }

// Lines renders the popup as plain text lines.
func (p Popup) Lines(f *format.Formatter) []string {
	status := "No visitado"
	if p.Visited {
		status = "Visitado"
	}
	out := []string{p.Title, "Estado: " + status}
	if !p.Resolved() {
		if p.Note != "" {
			out = append(out, p.Note)
		}
		return out
	}

	doc := p.Document
	switch {
	case len(doc.Events) > 0:
		out = append(out, "Eventos y ventas:")
		for _, ev := range doc.Events {
			out = append(out, eventLines(f, ev)...)
		}
	case doc.Aggregated != nil:
		out = append(out,
			"Ventas registradas:",
			"  Total facturado: "+f.Currency(doc.Aggregated.InvoiceAmount),
			"  Pedidos: "+f.Number(doc.Aggregated.OrderAmount),
		)
	default:
		out = append(out, "No se encontraron ventas detalladas para este cliente/visita.")
	}
	return out
}

func eventLines(f *format.Formatter, ev model.SalesEvent) []string {
	head := "Evento: " + ev.Date
	if !ev.EventType.IsZero() {
		head += fmt.Sprintf(" (tipo %s)", ev.EventType)
	}
	out := []string{head}
	if ev.Comments != "" {
		out = append(out, "  "+ev.Comments)
	}
	if len(ev.Invoices) == 0 {
		return append(out, "  No se encontraron facturas para este evento.")
	}
	for _, inv := range ev.Invoices {
		number := inv.Number
		if number == "" {
			number = format.Placeholder
		}
		line := "  Factura: " + number
		if inv.Date != "" {
			line += " - " + inv.Date
		}
		if inv.Total != nil && *inv.Total != 0 {
			line += "  " + f.Currency(*inv.Total)
		}
		out = append(out, line)
		if len(inv.Lines) == 0 {
			out = append(out, "    Sin líneas de factura disponibles.")
			continue
		}
		var sum float64
		for _, ln := range inv.Lines {
			name := ln.ProductName
			if name == "" {
				name = ln.ProductCode
			}
			if name == "" {
				name = format.Placeholder
			}
			total := ln.Total()
			sum += total
			out = append(out, fmt.Sprintf("    %s  x%s  %s", name, f.Number(ln.Quantity), f.Currency(total)))
		}
		out = append(out, "    Total factura: "+f.Currency(sum))
	}
	return out
}
