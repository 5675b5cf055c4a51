package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"whalewatch/internal/model"
)

const maxReasons = 4

// Result is a composite heuristic score with its ranked contributing signals.
type Result struct {
	Score     float64
	Reasons   []string
	Breakdown map[string]float64
}

// Scorer computes additive, individually capped anomaly signals against
// per-address alert history and clamps the sum to [0,100].
type Scorer struct {
	mu        sync.Mutex
	histories map[string]*history
}

func NewScorer() *Scorer {
	return &Scorer{histories: make(map[string]*history)}
}

// Counterparty picks the non-watched side of a transaction, lowercased.
func Counterparty(tx model.NormalizedTransaction) string {
	watch := strings.ToLower(tx.WatchAddress)
	from := strings.ToLower(tx.FromAddress)
	to := strings.ToLower(tx.ToAddress)
	if from != "" && from != watch {
		return from
	}
	if to != "" && to != watch {
		return to
	}
	return ""
}

// Evaluate scores a transaction. It never mutates history; call
// RecordEmission after the alert actually goes out.
func (s *Scorer) Evaluate(tx model.NormalizedTransaction, usd float64, entities map[string]model.Entity, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histories[strings.ToLower(tx.WatchAddress)]
	breakdown := make(map[string]float64)

	magnitude := math.Log10(usd+10) * 10
	if magnitude > 45 {
		magnitude = 45
	}
	if magnitude < 0 {
		magnitude = 0
	}
	breakdown["magnitude"] = magnitude

	breakdown["size_anomaly"] = sizeAnomaly(h, usd)

	if counterparty := Counterparty(tx); counterparty != "" {
		if h == nil || !h.knowsCounterparty(counterparty, now) {
			breakdown["counterparty_novelty"] = 10
		}
	}

	if strings.Contains(strings.ToLower(tx.TxType), "bridge") {
		breakdown["bridge_interaction"] = 8
	}

	for _, entity := range entities {
		if hasTag(entity, "exchange") {
			breakdown["cex_interaction"] = 7
			break
		}
	}

	if h != nil {
		switch burst := h.alertsWithin(now, burstWindow); {
		case burst >= burstHighCount:
			breakdown["burst_activity"] = 8
		case burst >= burstElevatedCnt:
			breakdown["burst_activity"] = 4
		}
	}

	total := 0.0
	for name, v := range breakdown {
		if v == 0 {
			delete(breakdown, name)
			continue
		}
		total += v
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return Result{
		Score:     math.Round(total*100) / 100,
		Reasons:   rankReasons(breakdown),
		Breakdown: breakdown,
	}
}

// RecordEmission folds an emitted alert into the address history: usd sample,
// alert timestamp, counterparty last-seen.
func (s *Scorer) RecordEmission(watchAddress string, usd float64, counterparty string, now time.Time) {
	key := strings.ToLower(watchAddress)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[key]
	if !ok {
		h = newHistory()
		s.histories[key] = h
	}
	h.record(usd, strings.ToLower(counterparty), now)
}

func sizeAnomaly(h *history, usd float64) float64 {
	if h != nil {
		if median, ok := h.usd.Median(); ok && median > 0 {
			ratio := usd / median
			switch {
			case ratio >= 8:
				return 18
			case ratio >= 4:
				return 12
			case ratio >= 2:
				return 7
			}
			return 0
		}
	}
	if usd >= 1_000_000 {
		return 6
	}
	return 0
}

func hasTag(entity model.Entity, tag string) bool {
	for _, t := range entity.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func rankReasons(breakdown map[string]float64) []string {
	type signal struct {
		name  string
		value float64
	}
	signals := make([]signal, 0, len(breakdown))
	for name, v := range breakdown {
		signals = append(signals, signal{name, v})
	}
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].value != signals[j].value {
			return signals[i].value > signals[j].value
		}
		return signals[i].name < signals[j].name
	})
	if len(signals) > maxReasons {
		signals = signals[:maxReasons]
	}
	reasons := make([]string, 0, len(signals))
	for _, sig := range signals {
		reasons = append(reasons, fmt.Sprintf("%s (+%.1f)", sig.name, sig.value))
	}
	return reasons
}
