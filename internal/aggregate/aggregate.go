// Package aggregate folds per-stop sales documents into ranked product totals.
package aggregate

import (
	"sort"

	"github.com/sells-group/fieldmap/internal/model"
)

// DefaultTopN caps the ranked product list.
const DefaultTopN = 30

// Synthetic bucket for documents that only carry aggregated totals. The key is
// fixed so repeated folds in one session never produce distinct buckets.
const (
	AggregatedKey  = "AGG_SUM"
	AggregatedName = "Ventas agregadas (sin detalle)"
)

// ProductTotal is one ranked product.
type ProductTotal struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	Code     string  `json:"code,omitempty"`
	Quantity float64 `json:"qty"`
	Sales    float64 `json:"sales"`
}

// Synthetic reports whether p is the aggregated-only bucket.
func (p ProductTotal) Synthetic() bool { return p.Key == AggregatedKey }

// Result is the outcome of one aggregation request.
type Result struct {
	Products  []ProductTotal `json:"products"`
	Requested int            `json:"requested"`
	Failed    int            `json:"failed"`
}

// Empty reports whether there is nothing to show.
func (r Result) Empty() bool { return len(r.Products) == 0 }

// Fold sums line items by product key across docs and returns the products
// ranked by quantity then sales, truncated to topN. Documents with events are
// folded line by line; documents without events contribute their positive
// aggregated invoice amount to a single synthetic bucket. Nil documents are
// skipped. A non-positive topN means DefaultTopN.
func Fold(docs []*model.SalesDocument, topN int) []ProductTotal {
	if topN <= 0 {
		topN = DefaultTopN
	}

	index := make(map[string]int)
	var products []ProductTotal
	var aggregated float64

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if len(doc.Events) == 0 {
			if amt := doc.AggregatedAmount(); amt > 0 {
				aggregated += amt
			}
			continue
		}
		for _, ev := range doc.Events {
			for _, inv := range ev.Invoices {
				for _, ln := range inv.Lines {
					key := ln.ProductKey()
					i, ok := index[key]
					if !ok {
						i = len(products)
						index[key] = i
						products = append(products, ProductTotal{
							Key:  key,
							Name: displayName(ln, key),
							Code: ln.ProductCode,
						})
					}
					products[i].Quantity += ln.Quantity
					products[i].Sales += ln.Total()
				}
			}
		}
	}

	if aggregated > 0 {
		products = append(products, ProductTotal{
			Key:   AggregatedKey,
			Name:  AggregatedName,
			Sales: aggregated,
		})
	}

	sort.SliceStable(products, func(a, b int) bool {
		if products[a].Quantity != products[b].Quantity {
			return products[a].Quantity > products[b].Quantity
		}
		return products[a].Sales > products[b].Sales
	})

	if len(products) > topN {
		products = products[:topN]
	}
	return products
}

func displayName(ln model.SalesLine, key string) string {
	switch {
	case ln.ProductName != "":
		return ln.ProductName
	case ln.ProductCode != "":
		return ln.ProductCode
	default:
		return key
	}
}
