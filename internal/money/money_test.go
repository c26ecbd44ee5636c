package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromString(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		m, err := FromString("123.456")
		assert.NoError(t, err)
		assert.Equal(t, "123.45600000", m.String())
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := FromString("not-a-number")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid decimal")
	})
}

func TestArithmetic(t *testing.T) {
	a := MustFromString("0.1")
	b := MustFromString("0.2")

	assert.Equal(t, "0.30000000", a.Add(b).String())
	assert.Equal(t, "-0.10000000", a.Sub(b).String())
	assert.Equal(t, "0.02000000", a.Mul(b).String())
}

func TestDivRoundsDown(t *testing.T) {
	// A repeating quotient is truncated, never rounded up.
	q := MustFromString("100").Div(MustFromString("3"))
	assert.Equal(t, "33.33333333", q.String())

	q = MustFromString("1").Div(MustFromString("60000"))
	assert.Equal(t, "0.00001666", q.String())

	// The rounding direction guarantees quantity * price never exceeds the
	// budget the quantity was computed from.
	budget := MustFromString("250")
	price := MustFromString("61234.57")
	qty := budget.Div(price)
	assert.False(t, qty.Mul(price).GreaterThan(budget))
}

func TestComparisons(t *testing.T) {
	low := MustFromString("99.99999999")
	high := MustFromString("100")

	assert.True(t, low.LessThan(high))
	assert.True(t, high.GreaterThan(low))
	assert.False(t, low.Equal(high))
	assert.True(t, low.Equal(MustFromString("99.99999999")))
	assert.Equal(t, -1, low.Cmp(high))
	assert.Equal(t, 1, high.Cmp(low))
	assert.Equal(t, 0, high.Cmp(MustFromString("100.0")))
}

func TestMax(t *testing.T) {
	a := MustFromString("103")
	b := MustFromString("101.5")

	assert.Equal(t, "103.00000000", Max(a, b).String())
	assert.Equal(t, "103.00000000", Max(b, a).String())
	assert.Equal(t, "103.00000000", Max(a, a).String())
}

func TestZeroAndSign(t *testing.T) {
	assert.True(t, Zero().IsZero())
	assert.False(t, Zero().IsPositive())
	assert.True(t, One().IsPositive())
	assert.True(t, MustFromString("1").Sub(MustFromString("2")).LessThan(Zero()))
}
