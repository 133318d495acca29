package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_CompareDatumOrdering validates that CompareDatum is a
// total order over BIGINT values: antisymmetric and transitive.
func TestProperty_CompareDatumOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("comparison is antisymmetric", prop.ForAll(
		func(a, b int64) bool {
			return CompareDatum(a, b) == -CompareDatum(b, a)
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("comparison is transitive", prop.ForAll(
		func(a, b, c int64) bool {
			if CompareDatum(a, b) <= 0 && CompareDatum(b, c) <= 0 {
				return CompareDatum(a, c) <= 0
			}
			return true
		},
		gen.Int64(),
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestProperty_SumDatumCommutative validates that SUM aggregation does not
// depend on merge order.
func TestProperty_SumDatumCommutative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sum is commutative", prop.ForAll(
		func(a, b int64) bool {
			return SumDatum(a, b) == SumDatum(b, a)
		},
		gen.Int64Range(-1<<40, 1<<40),
		gen.Int64Range(-1<<40, 1<<40),
	))

	properties.Property("NULL is the additive identity", prop.ForAll(
		func(a int64) bool {
			return SumDatum(nil, a) == a && SumDatum(a, nil) == a
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestProperty_DecimalAddKeepsFractionInRange validates that addition
// carries fraction overflow into the integer part.
func TestProperty_DecimalAddKeepsFractionInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fraction stays below one after addition", prop.ForAll(
		func(ai int64, af int32, bi int64, bf int32) bool {
			a := Decimal{Int: ai, Frac: af}
			b := Decimal{Int: bi, Frac: bf}
			sum := a.Add(b)
			return sum.Frac > -1_000_000_000 && sum.Frac < 1_000_000_000
		},
		gen.Int64Range(-1<<40, 1<<40),
		gen.Int32Range(0, 999_999_999),
		gen.Int64Range(-1<<40, 1<<40),
		gen.Int32Range(0, 999_999_999),
	))

	properties.TestingRun(t)
}

// TestProperty_DateFormatRoundTrip validates that packed dates survive the
// format and parse cycle.
func TestProperty_DateFormatRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("format then parse is the identity", prop.ForAll(
		func(year, month, day int) bool {
			packed := PackDate(year, month, day)
			parsed, err := ParseDate(FormatDatum(FieldTypeDate, packed))
			if err != nil {
				return false
			}
			return parsed == packed
		},
		gen.IntRange(1000, 9999),
		gen.IntRange(1, 12),
		gen.IntRange(1, 28),
	))

	properties.TestingRun(t)
}
