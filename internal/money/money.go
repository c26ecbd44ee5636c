package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Money value.
const Scale = 8

// Money is a fixed-precision decimal used for prices, quantities and
// percentage fractions. Values are immutable; arithmetic returns new values.
// float64 must never enter a trading decision path.
type Money struct {
	dec decimal.Decimal
}

// FromString parses a decimal string like "0.00250000".
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Money{dec: d}, nil
}

// MustFromString is FromString for values known to be well-formed,
// e.g. literals in tests. Panics on a malformed input.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt returns a whole-unit Money value.
func FromInt(n int64) Money {
	return Money{dec: decimal.NewFromInt(n)}
}

// Zero returns the zero value.
func Zero() Money {
	return Money{}
}

// One returns 1, handy for percentage maths like price * (1 - pct).
func One() Money {
	return FromInt(1)
}

func (m Money) Add(o Money) Money {
	return Money{dec: m.dec.Add(o.dec)}
}

func (m Money) Sub(o Money) Money {
	return Money{dec: m.dec.Sub(o.dec)}
}

func (m Money) Mul(o Money) Money {
	return Money{dec: m.dec.Mul(o.dec)}
}

// Div divides and always rounds down at Scale, so a buy quantity computed
// from a budget never costs more than the budget.
func (m Money) Div(o Money) Money {
	return Money{dec: m.dec.DivRound(o.dec, Scale+4).Truncate(Scale)}
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	return m.dec.Cmp(o.dec)
}

func (m Money) LessThan(o Money) bool {
	return m.dec.Cmp(o.dec) < 0
}

func (m Money) GreaterThan(o Money) bool {
	return m.dec.Cmp(o.dec) > 0
}

func (m Money) Equal(o Money) bool {
	return m.dec.Cmp(o.dec) == 0
}

func (m Money) IsZero() bool {
	return m.dec.IsZero()
}

func (m Money) IsPositive() bool {
	return m.dec.IsPositive()
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// String renders the value with exactly Scale fractional digits, the format
// used in logs and wire parameters.
func (m Money) String() string {
	return m.dec.StringFixed(Scale)
}
