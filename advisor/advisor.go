// Package advisor hosts the optional advisory capabilities: the gas-trend
// hold signal and execution parameter recommendation. Both are consulted
// by the scan loop but never trusted blindly; the safety kernel clamps
// their outputs, and a missing advisor degrades to static defaults rather
// than aborting anything.
package advisor

import (
	"math/big"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Urgency grades how aggressively an execution should be priced.
type Urgency uint8

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyHigh
)

// Params are the recommended execution parameters for one chain.
type Params struct {
	PriorityFeeGwei int64
	SlippageBps     int64
	DeadlineSeconds int64
	MevProtection   string // "none" | "standard" | "max"
}

// GasAdvisor answers "should the scan loop wait for cheaper gas?".
type GasAdvisor interface {
	ShouldWait(samples []*big.Int) bool
}

// ParamAdvisor recommends execution parameters.
type ParamAdvisor interface {
	Recommend(chainID uint64, urgency Urgency) Params
}

// StaticDefaults are used whenever no advisor is available or an advisor's
// recommendation is missing a field.
func StaticDefaults(urgency Urgency) Params {
	p := Params{
		PriorityFeeGwei: 30,
		SlippageBps:     50,
		DeadlineSeconds: 60,
		MevProtection:   "standard",
	}
	switch urgency {
	case UrgencyLow:
		p.PriorityFeeGwei = 25
		p.MevProtection = "none"
	case UrgencyHigh:
		p.PriorityFeeGwei = 50
		p.DeadlineSeconds = 30
		p.MevProtection = "max"
	}
	return p
}

// Clamp enforces the safety ceilings over any recommendation.
func Clamp(p Params, maxPriorityGwei, maxSlippageBps int64) Params {
	if p.PriorityFeeGwei <= 0 || p.PriorityFeeGwei > maxPriorityGwei {
		p.PriorityFeeGwei = maxPriorityGwei
	}
	if p.SlippageBps <= 0 || p.SlippageBps > maxSlippageBps {
		p.SlippageBps = maxSlippageBps
	}
	if p.DeadlineSeconds <= 0 {
		p.DeadlineSeconds = 60
	}
	return p
}

// NeverWait is the degraded gas advisor: constant false.
type NeverWait struct{}

func (NeverWait) ShouldWait([]*big.Int) bool { return false }

// TrendHold is the built-in heuristic gas advisor: hold while the recent
// gas price series is strictly rising by more than threshold basis
// points end to end.
type TrendHold struct {
	mu       sync.Mutex
	window   []*big.Int
	capacity int
	// RiseBps is the end-to-end rise, in basis points, above which the
	// loop is told to wait.
	RiseBps int64
}

// NewTrendHold builds a TrendHold over a sliding window of n samples.
func NewTrendHold(n int, riseBps int64) *TrendHold {
	if n < 2 {
		n = 2
	}
	return &TrendHold{capacity: n, RiseBps: riseBps}
}

// ShouldWait records the newest sample (last element of samples) and
// reports whether the retained window is rising steeply.
func (t *TrendHold) ShouldWait(samples []*big.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range samples {
		if s == nil || s.Sign() <= 0 {
			continue
		}
		t.window = append(t.window, new(big.Int).Set(s))
	}
	if len(t.window) > t.capacity {
		t.window = t.window[len(t.window)-t.capacity:]
	}
	if len(t.window) < t.capacity {
		return false
	}
	first, last := t.window[0], t.window[len(t.window)-1]
	for i := 1; i < len(t.window); i++ {
		if t.window[i].Cmp(t.window[i-1]) < 0 {
			return false // not monotonically rising
		}
	}
	// rise = (last-first)/first in bps
	diff := new(big.Int).Sub(last, first)
	diff.Mul(diff, big.NewInt(10_000))
	diff.Div(diff, first)
	return diff.Int64() > t.RiseBps
}

// StaticParams is the degraded parameter advisor.
type StaticParams struct{}

func (StaticParams) Recommend(_ uint64, urgency Urgency) Params {
	return StaticDefaults(urgency)
}

// Load assembles the advisory layer from configuration. Model paths that
// are empty, missing, or unreadable degrade to the built-in heuristics; a
// disabled training flag skips model loading entirely. Load never fails.
func Load(gasModelPath, paramModelPath string, trainingEnabled bool, log *zap.Logger) (GasAdvisor, ParamAdvisor) {
	log = log.Named("advisor")

	var gas GasAdvisor = NewTrendHold(5, 500)
	var params ParamAdvisor = StaticParams{}

	if !trainingEnabled {
		return gas, params
	}
	// Model files are consumed by an out-of-process scorer; here we only
	// verify presence so absence degrades loudly but gracefully.
	for _, path := range []string{gasModelPath, paramModelPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Warn("model unavailable, using heuristic", zap.String("path", path), zap.Error(err))
		}
	}
	return gas, params
}
