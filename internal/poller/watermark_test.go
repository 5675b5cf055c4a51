package poller

import (
	"testing"

	"whalewatch/internal/model"
)

func wmTx(addr string, ts *int64) model.NormalizedTransaction {
	return model.NormalizedTransaction{WatchAddress: addr, Timestamp: ts}
}

func tsp(v int64) *int64 { return &v }

func TestWatermarkSeedAndGate(t *testing.T) {
	w := NewWatermark()
	w.Seed([]string{"0xAAA"}, 1000)

	if w.IsNew(wmTx("0xaaa", tsp(900))) {
		t.Fatalf("timestamp at or below the seed must be old")
	}
	if w.IsNew(wmTx("0xaaa", tsp(1000))) {
		t.Fatalf("equal timestamp is not new")
	}
	if !w.IsNew(wmTx("0xaaa", tsp(1001))) {
		t.Fatalf("later timestamp is new")
	}

	// Re-seeding never rewinds a known address.
	w.Seed([]string{"0xaaa"}, 2000)
	if !w.IsNew(wmTx("0xaaa", tsp(1500))) {
		t.Fatalf("seed must not overwrite an existing watermark")
	}
}

func TestWatermarkBumpMonotonic(t *testing.T) {
	w := NewWatermark()
	w.Seed([]string{"0xaaa"}, 1000)
	w.Bump(wmTx("0xaaa", tsp(1200)))
	w.Bump(wmTx("0xaaa", tsp(1100)))
	if w.IsNew(wmTx("0xaaa", tsp(1200))) {
		t.Fatalf("stale bump must not rewind the watermark")
	}
	if !w.IsNew(wmTx("0xaaa", tsp(1201))) {
		t.Fatalf("watermark should sit at 1200")
	}
}

func TestWatermarkTimestamplessAlwaysPasses(t *testing.T) {
	w := NewWatermark()
	w.Seed([]string{"0xaaa"}, 1000)
	if !w.IsNew(wmTx("0xaaa", nil)) {
		t.Fatalf("transactions without timestamps always pass")
	}
	w.Bump(wmTx("0xaaa", nil))
	if !w.IsNew(wmTx("0xaaa", tsp(1001))) {
		t.Fatalf("nil-timestamp bump must not move the watermark")
	}
}

func TestWatermarkUnknownAddressPasses(t *testing.T) {
	w := NewWatermark()
	if !w.IsNew(wmTx("0xnever-seeded", tsp(5))) {
		t.Fatalf("unseeded addresses are not gated")
	}
	if !w.IsNew(model.NormalizedTransaction{Timestamp: tsp(5)}) {
		t.Fatalf("empty watch address is not gated")
	}
}
