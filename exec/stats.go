package exec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Stats is the process-wide execution counter set. Counters are updated
// by the pipeline workers and read lock-free by the /stats endpoint;
// cumulative profit is a decimal and sits behind a short-held mutex.
type Stats struct {
	totalSignals  atomic.Int64
	paperExecuted atomic.Int64
	liveExecuted  atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64

	mu     sync.Mutex
	profit decimal.Decimal
}

// Snapshot is the JSON view of the counters.
type Snapshot struct {
	TotalSignals        int64  `json:"total_signals"`
	PaperExecuted       int64  `json:"paper_executed"`
	LiveExecuted        int64  `json:"live_executed"`
	Failed              int64  `json:"failed"`
	Dropped             int64  `json:"dropped_signals"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	CumulativeProfitUSD string `json:"cumulative_profit_usd"`
}

func (s *Stats) RecordSignal()  { s.totalSignals.Add(1) }
func (s *Stats) RecordDropped() { s.dropped.Add(1) }
func (s *Stats) RecordFailed()  { s.failed.Add(1) }

// RecordPaper counts a paper execution and accrues its simulated profit.
func (s *Stats) RecordPaper(profitUSD decimal.Decimal) {
	s.paperExecuted.Add(1)
	s.addProfit(profitUSD)
}

// RecordLive counts a live execution and accrues its expected profit.
func (s *Stats) RecordLive(profitUSD decimal.Decimal) {
	s.liveExecuted.Add(1)
	s.addProfit(profitUSD)
}

func (s *Stats) addProfit(p decimal.Decimal) {
	s.mu.Lock()
	s.profit = s.profit.Add(p)
	s.mu.Unlock()
}

// SnapshotWith renders the counters together with the breaker's failure
// count.
func (s *Stats) SnapshotWith(breaker *CircuitBreaker) Snapshot {
	s.mu.Lock()
	profit := s.profit
	s.mu.Unlock()
	var consec int64
	if breaker != nil {
		consec = breaker.Failures()
	}
	return Snapshot{
		TotalSignals:        s.totalSignals.Load(),
		PaperExecuted:       s.paperExecuted.Load(),
		LiveExecuted:        s.liveExecuted.Load(),
		Failed:              s.failed.Load(),
		Dropped:             s.dropped.Load(),
		ConsecutiveFailures: consec,
		CumulativeProfitUSD: profit.String(),
	}
}

// CircuitBreaker halts live execution after repeated execution-path
// failures. It arms when the consecutive-failure count crosses the
// threshold and disarms once the cooldown elapses. Gate refusals never
// feed it.
type CircuitBreaker struct {
	mu            sync.Mutex
	failures      int64
	threshold     int64
	cooldown      time.Duration
	cooldownUntil time.Time
	now           func() time.Time // test hook
}

// NewCircuitBreaker builds a breaker with the given threshold and
// cooldown. Defaults per policy: 10 failures, 60s cooldown.
func NewCircuitBreaker(threshold int64, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Open reports whether live execution is currently blocked.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.cooldownUntil)
}

// RecordFailure increments the consecutive-failure count, arming the
// breaker when the threshold is crossed.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.cooldownUntil = b.now().Add(b.cooldown)
	}
}

// RecordSuccess resets the consecutive-failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failures returns the current consecutive-failure count.
func (b *CircuitBreaker) Failures() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
