package staking

import (
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

// RateDecimals is the number of fractional digits carried by a rate.
const RateDecimals = 18

// RateScale is the fixed-point denominator D = 10^18.
var RateScale = uint256.NewInt(1_000_000_000_000_000_000)

var maxUint256 = new(uint256.Int).SetAllOne()

// Accrue returns elapsed*rate/RateScale truncated toward zero.
func Accrue(elapsed uint64, rate *uint256.Int) (*uint256.Int, error) {
	reward, _, err := accrueWithDust(elapsed, rate)
	return reward, err
}

// Dust returns the remainder discarded by Accrue, in units of 1/RateScale.
func Dust(elapsed uint64, rate *uint256.Int) (*uint256.Int, error) {
	_, dust, err := accrueWithDust(elapsed, rate)
	return dust, err
}

func accrueWithDust(elapsed uint64, rate *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if elapsed == 0 || rate == nil || rate.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(elapsed), rate)
	if overflow {
		return nil, nil, fmt.Errorf("%w: %d x %s", ErrArithmeticOverflow, elapsed, rate.Dec())
	}
	reward, dust := new(uint256.Int), new(uint256.Int)
	reward.DivMod(product, RateScale, dust)
	return reward, dust, nil
}

// MaxSegment is the longest duration that can be multiplied by rate without
// leaving the 256-bit range.
func MaxSegment(rate *uint256.Int) uint64 {
	if rate == nil || rate.IsZero() {
		return math.MaxUint64
	}
	limit := new(uint256.Int).Div(maxUint256, rate)
	if !limit.IsUint64() {
		return math.MaxUint64
	}
	return limit.Uint64()
}

// ParseRate converts a decimal string such as "2.5" into a scaled rate.
func ParseRate(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty rate", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > RateDecimals {
		return nil, fmt.Errorf("%w: rate %q has more than %d decimals", ErrInvalidAmount, value, RateDecimals)
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", RateDecimals-len(frac)), "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: rate %q is not a decimal", ErrInvalidAmount, value)
		}
	}
	rate, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return rate, nil
}

// FormatRate renders a scaled rate as a decimal string without trailing zeros.
func FormatRate(rate *uint256.Int) string {
	if rate == nil {
		return "0"
	}
	whole, frac := new(uint256.Int), new(uint256.Int)
	whole.DivMod(rate, RateScale, frac)
	if frac.IsZero() {
		return whole.Dec()
	}
	fracDigits := frac.Dec()
	fracDigits = strings.Repeat("0", RateDecimals-len(fracDigits)) + fracDigits
	return whole.Dec() + "." + strings.TrimRight(fracDigits, "0")
}

// PerDayToPerSecond converts a daily reward rate into the per-second rate used
// by the schedule when the logical clock counts seconds.
func PerDayToPerSecond(perDay *uint256.Int) *uint256.Int {
	if perDay == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(perDay, uint256.NewInt(86_400))
}
