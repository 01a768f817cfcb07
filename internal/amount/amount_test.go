package amount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "1.0000000", Normalize("1"))
	assert.Equal(t, "0.0000001", Normalize("0.0000001"))
	assert.Equal(t, "2551.0204082", Normalize("2551.02040816"))
	assert.Equal(t, "0.0000000", Normalize("not a number"))
	assert.Equal(t, "-3.1400000", Normalize("-3.14"))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare("1.00000004", "1.0000000"))
	assert.Equal(t, -1, Compare("0.9999999", "1.0000000"))
	assert.Equal(t, 1, Compare("1.0000001", "1.0000000"))
	assert.Equal(t, 0, Compare("garbage", "0"))
}

func TestTolerance(t *testing.T) {
	// Percentage dominates for normal amounts.
	tol := Tolerance(d("100.0000000"), d("1"), d("0.0000001"))
	assert.True(t, tol.Equal(d("1.0000000")), "got %s", tol)

	// The absolute floor dominates for tiny amounts.
	tol = Tolerance(d("0.0000020"), d("1"), d("0.0000001"))
	assert.True(t, tol.Equal(d("0.0000001")), "got %s", tol)

	// Zero percent still yields the floor.
	tol = Tolerance(d("100"), d("0"), d("0.0000001"))
	assert.True(t, tol.Equal(d("0.0000001")), "got %s", tol)
}

func TestMinAcceptable(t *testing.T) {
	min := MinAcceptable(d("100.0000000"), d("1"), d("0.0000001"))
	assert.True(t, min.Equal(d("99.0000000")), "got %s", min)

	// Boundary: exactly the threshold is acceptable, one stroop below is not.
	assert.True(t, d("99.0000000").GreaterThanOrEqual(min))
	assert.True(t, d("98.9999999").LessThan(min))

	// Never negative, even when tolerance exceeds the amount.
	min = MinAcceptable(d("0.0000001"), d("1"), d("1"))
	assert.True(t, min.IsZero(), "got %s", min)
}
