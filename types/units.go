package types

import (
	"fmt"
	"math/big"
	"strings"

	gethmath "github.com/ethereum/go-ethereum/common/math"
)

// Units returns n whole tokens as a scaled amount.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Scale)
}

// ParseUnits parses a decimal token amount such as "1000" or "0.05" into a
// Scale-denominated integer. At most Decimals fractional digits are accepted.
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && frac == "" {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	if strings.HasPrefix(whole, "0x") || strings.HasPrefix(whole, "0X") {
		return nil, fmt.Errorf("hex amounts are not accepted: %q", s)
	}

	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("malformed amount %q", s)
		}
	}

	v, ok := gethmath.ParseBig256(digits)
	if !ok {
		return nil, fmt.Errorf("amount %q out of range", s)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for constants known to be valid.
func MustParseUnits(s string) *big.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders a scaled amount in whole-token units, trimming trailing
// fractional zeros ("2499", "0.666666666666666666").
func FormatUnits(x *big.Int) string {
	if x == nil {
		return "0"
	}
	abs := new(big.Int).Abs(x)
	q, r := new(big.Int).QuoRem(abs, Scale, new(big.Int))

	out := q.String()
	if r.Sign() != 0 {
		rs := r.String()
		frac := strings.Repeat("0", Decimals-len(rs)) + rs
		out += "." + strings.TrimRight(frac, "0")
	}
	if x.Sign() < 0 {
		out = "-" + out
	}
	return out
}

// FormatBps renders a basis-point value as a percentage with two decimals.
func FormatBps(bps *big.Int) string {
	if bps == nil {
		return "0.00%"
	}
	abs := new(big.Int).Abs(bps)
	q, r := new(big.Int).QuoRem(abs, big.NewInt(100), new(big.Int))
	sign := ""
	if bps.Sign() < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%02d%%", sign, q.String(), r.Int64())
}
