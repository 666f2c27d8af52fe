package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/playback"
)

// formatTopProducts writes a ranked product table to out.
func formatTopProducts(out io.Writer, f *format.Formatter, e events.TopProductsReady) {
	label := e.Label
	if label == "" {
		label = e.ScopeID.String()
	}
	_, _ = fmt.Fprintf(out, "Top productos (%s %s)\n", e.Scope, label)

	if e.Result.Empty() {
		_, _ = fmt.Fprintln(out, "Sin ventas para mostrar.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "#\tPRODUCTO\tCANTIDAD\tVENTAS")
		_, _ = fmt.Fprintln(w, "-\t--------\t--------\t------")
		for i, p := range e.Result.Products {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, truncate(p.Name, 40), f.Number(p.Quantity), f.Currency(p.Sales))
		}
		_ = w.Flush()
	}
	_, _ = fmt.Fprintf(out, "Consultadas: %d  Fallidas: %d\n", e.Result.Requested, e.Result.Failed)
}

// formatStop writes one playback step to out.
func formatStop(out io.Writer, f *format.Formatter, v playback.View) {
	if !v.Open {
		_, _ = fmt.Fprintln(out, "Reproducción cerrada.")
		return
	}
	if v.NoVisits || v.Stop == nil {
		_, _ = fmt.Fprintf(out, "Ruta %s (%s): sin visitas registradas.\n", v.RouteID, v.Agent)
		return
	}
	st := v.Stop
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Parada:\t%d/%d\n", v.Step+1, v.Total)
	_, _ = fmt.Fprintf(w, "Cliente:\t%s\n", st.Client.DisplayName())
	_, _ = fmt.Fprintf(w, "Detalle:\t%s\n", st.DetailID)
	_, _ = fmt.Fprintf(w, "Venta:\t%s\n", f.Currency(st.Client.Sales))
	_, _ = fmt.Fprintf(w, "Venta anterior:\t%s\n", f.Currency(st.Metrics.PriorSale))
	_, _ = fmt.Fprintf(w, "Promedio compra:\t%s\n", f.Currency(st.Metrics.ClientAverage))
	if st.Document == nil {
		_, _ = fmt.Fprintf(w, "Ventas:\t%s\n", format.Placeholder)
	} else {
		_, _ = fmt.Fprintf(w, "Eventos:\t%d\n", len(st.Document.Events))
	}
	_ = w.Flush()
}

// formatAgents writes the agent positions with their day bucket to out.
func formatAgents(out io.Writer, positions []model.AgentPosition, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVENDEDOR\tULTIMA UBICACION\tDIA\tBATERIA")
	_, _ = fmt.Fprintln(w, "--\t--------\t----------------\t---\t-------")
	for _, p := range positions {
		when := format.Placeholder
		bucket := format.Placeholder
		if t, ok := p.TrackedAt(now.Location()); ok {
			when = t.Format(model.TrackingLayout)
			if b := model.BucketFor(t, now); b != model.BucketNone {
				bucket = string(b)
			}
		}
		battery := format.Placeholder
		if p.BatteryLevel != nil {
			battery = fmt.Sprintf("%.0f%%", *p.BatteryLevel)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.UserID, p.DisplayName(), when, bucket, battery)
	}
	_ = w.Flush()
}

// formatUnvisited writes the unvisited-clients listing to out.
func formatUnvisited(out io.Writer, clients []model.UnvisitedClient) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODIGO\tNOMBRE\tPLANIFICADO\tULTIMA VISITA\tCON VENTA\tVECES")
	_, _ = fmt.Fprintln(w, "------\t------\t-----------\t-------------\t---------\t-----")
	for _, c := range clients {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			c.Code,
			truncate(c.Name, 30),
			orPlaceholder(c.FirstPlanned),
			orPlaceholder(c.LastVisit),
			c.VisitsWithSale,
			c.TimesPlanned,
		)
	}
	_ = w.Flush()
}

func orPlaceholder(s *string) string {
	if s == nil || *s == "" {
		return format.Placeholder
	}
	return *s
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
