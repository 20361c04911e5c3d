// Package pricing turns a route into a fare.
//
// fare = base + distanceKm*perKm + durationMinutes*perMinute, rounded up to the
// ride type's increment. The rounding is a business rule: the quote endpoint
// and the booking path must agree to the unit, so both go through Quote.
package pricing

import (
	"fmt"
	"math"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/example/ride-dispatch/internal/models"
)

const DefaultIncrement = 50

type Rate struct {
	Base      float64 `yaml:"base" json:"base"`
	PerKm     float64 `yaml:"per_km" json:"per_km"`
	PerMinute float64 `yaml:"per_minute" json:"per_minute"`
	Increment float64 `yaml:"increment" json:"increment"`
}

type Table struct {
	Currency string                    `yaml:"currency"`
	Rates    map[models.RideType]Rate `yaml:"rates"`
}

// DefaultTable is used when no fare file is configured.
func DefaultTable() *Table {
	return &Table{
		Currency: "NGN",
		Rates: map[models.RideType]Rate{
			models.RideStandard: {Base: 500, PerKm: 149, PerMinute: 22, Increment: DefaultIncrement},
			models.RideComfort:  {Base: 650, PerKm: 169, PerMinute: 25, Increment: DefaultIncrement},
			models.RideShared:   {Base: 350, PerKm: 99, PerMinute: 15, Increment: DefaultIncrement},
			models.RidePremium:  {Base: 900, PerKm: 219, PerMinute: 32, Increment: DefaultIncrement},
		},
	}
}

// LoadTable reads a YAML fare file. Ride types missing from the file keep
// their default rates.
func LoadTable(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fare table: %w", err)
	}
	var file Table
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parse fare table %s: %w", path, err)
	}
	t := DefaultTable()
	if file.Currency != "" {
		t.Currency = file.Currency
	}
	for k, v := range file.Rates {
		rt, ok := models.ParseRideType(string(k))
		if !ok {
			return nil, fmt.Errorf("fare table %s: unknown ride type %q", path, k)
		}
		if v.Increment <= 0 {
			v.Increment = DefaultIncrement
		}
		if v.Base < 0 || v.PerKm < 0 || v.PerMinute < 0 {
			return nil, fmt.Errorf("fare table %s: negative rate for %s", path, rt)
		}
		t.Rates[rt] = v
	}
	return t, nil
}

// Quote prices a trip. It fails for unknown ride types and non-finite or
// negative route figures.
func (t *Table) Quote(rt models.RideType, distanceKm, durationMinutes float64) (float64, error) {
	rate, ok := t.Rates[rt]
	if !ok {
		return 0, fmt.Errorf("no fare for ride type %q", rt)
	}
	if !finiteNonNegative(distanceKm) || !finiteNonNegative(durationMinutes) {
		return 0, fmt.Errorf("invalid route figures %v km / %v min", distanceKm, durationMinutes)
	}
	raw := decimal.NewFromFloat(rate.Base).
		Add(decimal.NewFromFloat(distanceKm).Mul(decimal.NewFromFloat(rate.PerKm))).
		Add(decimal.NewFromFloat(durationMinutes).Mul(decimal.NewFromFloat(rate.PerMinute)))
	return RoundUp(raw, rate.Increment).InexactFloat64(), nil
}

// RoundUp rounds v up to the next multiple of increment.
func RoundUp(v decimal.Decimal, increment float64) decimal.Decimal {
	if increment <= 0 {
		return v
	}
	inc := decimal.NewFromFloat(increment)
	return v.Div(inc).Ceil().Mul(inc)
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
