package score

import (
	"sort"
	"time"
)

// Ring is a fixed-capacity circular buffer of float64 samples; pushing past
// capacity evicts the oldest sample.
type Ring struct {
	buf  []float64
	head int
	size int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

func (r *Ring) Push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *Ring) Len() int {
	return r.size
}

// Median reports the median of the buffered samples, false when empty.
func (r *Ring) Median() (float64, bool) {
	if r.size == 0 {
		return 0, false
	}
	samples := make([]float64, r.size)
	if r.size < len(r.buf) {
		copy(samples, r.buf[:r.size])
	} else {
		copy(samples, r.buf)
	}
	sort.Float64s(samples)
	mid := len(samples) / 2
	if len(samples)%2 == 1 {
		return samples[mid], true
	}
	return (samples[mid-1] + samples[mid]) / 2, true
}

const (
	historyWindow    = 120
	alertRetention   = 24 * time.Hour
	partnerRetention = 7 * 24 * time.Hour
	burstWindow      = 5 * time.Minute
	burstHighCount   = 4
	burstElevatedCnt = 2
)

// history is the per-watch-address sliding state backing the scorer. It is
// mutated only after an alert is actually emitted, so scoring reflects alert
// history rather than raw traffic.
type history struct {
	usd            *Ring
	alertTimes     []time.Time
	counterparties map[string]time.Time
}

func newHistory() *history {
	return &history{
		usd:            NewRing(historyWindow),
		alertTimes:     make([]time.Time, 0, 16),
		counterparties: make(map[string]time.Time),
	}
}

func (h *history) prune(now time.Time) {
	cutoff := now.Add(-alertRetention)
	keep := h.alertTimes[:0]
	for _, ts := range h.alertTimes {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	h.alertTimes = keep
	partnerCutoff := now.Add(-partnerRetention)
	for addr, ts := range h.counterparties {
		if !ts.After(partnerCutoff) {
			delete(h.counterparties, addr)
		}
	}
}

func (h *history) alertsWithin(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range h.alertTimes {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

func (h *history) knowsCounterparty(addr string, now time.Time) bool {
	ts, ok := h.counterparties[addr]
	if !ok {
		return false
	}
	return ts.After(now.Add(-partnerRetention))
}

func (h *history) record(usd float64, counterparty string, now time.Time) {
	h.usd.Push(usd)
	h.alertTimes = append(h.alertTimes, now)
	if counterparty != "" {
		h.counterparties[counterparty] = now
	}
	h.prune(now)
}
