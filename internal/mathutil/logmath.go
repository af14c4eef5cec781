package mathutil

import "math"

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Uses threshold-based early exit to skip expensive exp/log1p when the
// smaller value contributes less than float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a > b {
		if b <= LogZero {
			return a
		}
		d := b - a
		if d < -36.0 {
			return a
		}
		return a + math.Log1p(math.Exp(d))
	}
	if a <= LogZero {
		return b
	}
	d := a - b
	if d < -36.0 {
		return b
	}
	return b + math.Log1p(math.Exp(d))
}

// SafeLog returns the natural log of p, clamping zero and negative inputs to LogZero.
func SafeLog(p float64) float64 {
	if p <= 0 {
		return LogZero
	}
	return math.Log(p)
}

// LogProb returns v as a natural-log probability. isLog reports whether v
// already is one.
func LogProb(v float64, isLog bool) float64 {
	if isLog {
		if math.IsInf(v, -1) || v < LogZero {
			return LogZero
		}
		return v
	}
	return SafeLog(v)
}

// Prob returns v as a linear probability.
func Prob(v float64, isLog bool) float64 {
	if isLog {
		if v <= LogZero {
			return 0
		}
		return math.Exp(v)
	}
	return v
}
