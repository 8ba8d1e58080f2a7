package models

import (
	"math"
	"strconv"
	"strings"
)

// FormatNumber renders f the way JavaScript's Number#toString does:
// shortest round-trip digits, plain notation for magnitudes in [1e-6, 1e21),
// exponent notation ("1e-7", "1.5e+21") outside it, and no negative zero.
// Distances in Newick output and numbers in cache keys both go through here.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + string(sign) + digits
}
