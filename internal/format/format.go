// Package format renders money and quantities the way the sales team reads
// them: Argentine pesos without decimals and es-AR digit grouping.
package format

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Placeholder is shown for missing values.
const Placeholder = "-"

// DefaultLocale is the locale used by the package-level helpers.
var DefaultLocale = language.MustParse("es-AR")

// Formatter formats numbers for one locale.
type Formatter struct {
	p      *message.Printer
	symbol string
}

// New returns a Formatter for tag using symbol as the currency sign.
func New(tag language.Tag, symbol string) *Formatter {
	return &Formatter{p: message.NewPrinter(tag), symbol: symbol}
}

var std = New(DefaultLocale, "$")

// Default returns the es-AR peso formatter.
func Default() *Formatter { return std }

// Currency formats v as a whole amount, e.g. "$ 1.234.567".
func (f *Formatter) Currency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + f.symbol + " " + f.p.Sprint(number.Decimal(math.Round(v), number.MaxFractionDigits(0)))
}

// Number formats v with locale grouping and up to three decimals.
func (f *Formatter) Number(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	return f.p.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
}

// Percent formats a percentage value (12.5 means 12.5%) with one decimal.
func (f *Formatter) Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	return f.p.Sprint(number.Decimal(v, number.MaxFractionDigits(1))) + "%"
}

// OptionalCurrency formats v, or the placeholder when v is nil.
func (f *Formatter) OptionalCurrency(v *float64) string {
	if v == nil {
		return Placeholder
	}
	return f.Currency(*v)
}

// Currency formats v with the default locale.
func Currency(v float64) string { return std.Currency(v) }

// Number formats v with the default locale.
func Number(v float64) string { return std.Number(v) }

// Percent formats v with the default locale.
func Percent(v float64) string { return std.Percent(v) }
