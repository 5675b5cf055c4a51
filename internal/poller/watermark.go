package poller

import (
	"strings"
	"sync"

	"whalewatch/internal/model"
)

// Watermark tracks the newest processed timestamp per watch address so a
// transaction is only considered once even though poll windows overlap.
// Transactions without a timestamp always pass; they rely on dedupe instead
// and never move the watermark.
type Watermark struct {
	mu        sync.Mutex
	byAddress map[string]int64
}

func NewWatermark() *Watermark {
	return &Watermark{byAddress: make(map[string]int64)}
}

// Seed initializes missing addresses at cutoff. Known addresses keep their
// current watermark.
func (w *Watermark) Seed(addresses []string, cutoff int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, addr := range addresses {
		key := strings.ToLower(addr)
		if _, ok := w.byAddress[key]; !ok {
			w.byAddress[key] = cutoff
		}
	}
}

// IsNew reports whether the transaction is past its address watermark.
func (w *Watermark) IsNew(tx model.NormalizedTransaction) bool {
	if tx.WatchAddress == "" || tx.Timestamp == nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	current, ok := w.byAddress[strings.ToLower(tx.WatchAddress)]
	if !ok {
		return true
	}
	return *tx.Timestamp > current
}

// Bump advances the address watermark, monotonically.
func (w *Watermark) Bump(tx model.NormalizedTransaction) {
	if tx.WatchAddress == "" || tx.Timestamp == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	key := strings.ToLower(tx.WatchAddress)
	if *tx.Timestamp > w.byAddress[key] {
		w.byAddress[key] = *tx.Timestamp
	}
}
