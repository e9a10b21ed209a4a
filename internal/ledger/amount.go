package ledger

import (
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Decimals is the precision of the native unit.
const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ParseAmount parses a decimal count of minimal units. An empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(uint256.Int), nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errors.Errorf("amount %q exceeds 256 bits", s)
	}
	return v, nil
}

// FormatAmount renders minimal units as a decimal string.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.ToBig().String()
}

// ParseNative converts a native-unit decimal such as "0.001" into minimal
// units. More than Decimals fractional digits is an error.
func ParseNative(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	if len(frac) > Decimals {
		return nil, errors.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	return ParseAmount(strings.TrimLeft(digits, "0"))
}

// FormatNative renders minimal units in native units, trimming trailing
// zeros: 1500000000000000 becomes "0.0015".
func FormatNative(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	q, r := new(big.Int).QuoRem(v.ToBig(), unit, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}
