package domain

import (
	"math"
	"math/bits"

	dErrors "umoja/pkg/domain-errors"
)

// Amount is a monetary value in the smallest currency unit. Floating point is
// never used for money; percentages are derived for display only.
type Amount int64

// IsPositive reports whether a is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a+b, failing instead of wrapping on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, dErrors.New(dErrors.CodeValidation, "amount overflow")
	}
	return a + b, nil
}

// Sum adds amounts with overflow detection.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// FundingPercent is the display-only share of target that is committed,
// rounded down to two decimals.
func FundingPercent(committed, target Amount) float64 {
	if target <= 0 {
		return 0
	}
	bp := int64(committed) * 10000 / int64(target)
	return float64(bp) / 100
}

// BasisPoints is a fraction expressed in 1/10000ths. Thresholds are stored
// this way so tallies can be compared with integer arithmetic.
type BasisPoints int64

const MaxBasisPoints BasisPoints = 10000

// FractionToBasisPoints converts a configured fraction in (0,1].
func FractionToBasisPoints(f float64) (BasisPoints, error) {
	if math.IsNaN(f) || f <= 0 || f > 1 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "threshold %v must be in (0,1]", f)
	}
	return BasisPoints(math.Round(f * float64(MaxBasisPoints))), nil
}

// Fraction converts back for display.
func (b BasisPoints) Fraction() float64 {
	return float64(b) / float64(MaxBasisPoints)
}

// Meets reports whether part/whole >= b without floating point. A zero
// whole never meets a threshold. Products are compared in 128 bits so large
// tallies cannot wrap.
func (b BasisPoints) Meets(part, whole int64) bool {
	if whole <= 0 || part < 0 || b < 0 {
		return false
	}
	lhsHi, lhsLo := bits.Mul64(uint64(part), uint64(MaxBasisPoints))
	rhsHi, rhsLo := bits.Mul64(uint64(b), uint64(whole))
	if lhsHi != rhsHi {
		return lhsHi > rhsHi
	}
	return lhsLo >= rhsLo
}
