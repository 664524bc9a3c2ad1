package meter

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyReading      = errors.New("value empty")
	ErrInvalidReading    = errors.New("value invalid")
	ErrNegativeReading   = errors.New("value negative")
	ErrReadingOutOfRange = errors.New("value out of range")
)

var (
	hundred    = decimal.NewFromInt(100)
	maxReading = decimal.NewFromInt(math.MaxUint32)
)

// FormatHundredths renders v as cubic meters with exactly two decimals, e.g. 350 -> "3.50".
func FormatHundredths(v uint32) string {
	return decimal.New(int64(v), -2).StringFixed(2)
}

// ParseReading turns an operator supplied reading in cubic meters into hundredths.
// Both "12,34" and "12.34" are accepted. Rounds half-up.
func ParseReading(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrEmptyReading
	}
	raw = strings.Replace(raw, ",", ".", 1)

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidReading
	}
	if d.IsNegative() {
		return 0, ErrNegativeReading
	}
	hundredths := d.Mul(hundred).Round(0)
	if hundredths.GreaterThan(maxReading) {
		return 0, ErrReadingOutOfRange
	}
	return uint32(hundredths.IntPart()), nil
}

// ToCubicMeters is for display only; arithmetic stays in hundredths.
func ToCubicMeters(v uint32) float64 {
	return decimal.New(int64(v), -2).InexactFloat64()
}
