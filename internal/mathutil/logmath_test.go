package mathutil

import (
	"math"
	"testing"
)

func TestLogAdd(t *testing.T) {
	// log(exp(log(2)) + exp(log(3))) = log(5)
	a := math.Log(2)
	b := math.Log(3)
	got := LogAdd(a, b)
	want := math.Log(5)
	if math.Abs(got-want) > 1e-10 {
		t.Errorf("LogAdd(log(2), log(3)) = %f, want %f", got, want)
	}
}

func TestLogAddWithLogZero(t *testing.T) {
	a := math.Log(5)
	if got := LogAdd(LogZero, a); math.Abs(got-a) > 1e-10 {
		t.Errorf("LogAdd(LogZero, %f) = %f, want %f", a, got, a)
	}
	if got := LogAdd(a, LogZero); math.Abs(got-a) > 1e-10 {
		t.Errorf("LogAdd(%f, LogZero) = %f, want %f", a, got, a)
	}
	if got := LogAdd(LogZero, LogZero); got > LogZero {
		t.Errorf("LogAdd(LogZero, LogZero) = %g, want LogZero", got)
	}
}

func TestSafeLog(t *testing.T) {
	if got := SafeLog(0); got != LogZero {
		t.Errorf("SafeLog(0) = %g, want LogZero", got)
	}
	if got := SafeLog(-1); got != LogZero {
		t.Errorf("SafeLog(-1) = %g, want LogZero", got)
	}
	if got := SafeLog(1); got != 0 {
		t.Errorf("SafeLog(1) = %g, want 0", got)
	}
}

func TestLogProbAndProb(t *testing.T) {
	tests := []struct {
		name  string
		v     float64
		isLog bool
		logP  float64
		p     float64
	}{
		{"linear_half", 0.5, false, math.Log(0.5), 0.5},
		{"log_half", math.Log(0.5), true, math.Log(0.5), 0.5},
		{"linear_zero", 0, false, LogZero, 0},
		{"log_neg_inf", math.Inf(-1), true, LogZero, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LogProb(tt.v, tt.isLog); math.Abs(got-tt.logP) > 1e-10 {
				t.Errorf("LogProb = %g, want %g", got, tt.logP)
			}
			if got := Prob(tt.v, tt.isLog); math.Abs(got-tt.p) > 1e-10 {
				t.Errorf("Prob = %g, want %g", got, tt.p)
			}
		})
	}
}
