package prices

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"whalewatch/internal/model"
)

type stubQuoter struct {
	mu      sync.Mutex
	batches [][]model.TokenRef
	quotes  map[string]float64
	err     error
}

func (q *stubQuoter) Prices(_ context.Context, tokens []model.TokenRef) ([]model.PriceQuote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, tokens)
	if q.err != nil {
		return nil, q.err
	}
	now := time.Now().Unix()
	var out []model.PriceQuote
	for _, ref := range tokens {
		if price, ok := q.quotes[ref.Chain+":"+ref.TokenAddress]; ok {
			out = append(out, model.PriceQuote{Chain: ref.Chain, TokenAddress: ref.TokenAddress, Price: price, FetchedAt: now})
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f(v float64) *float64 { return &v }

func TestResolveBatchDeduplicatesAndCaches(t *testing.T) {
	quoter := &stubQuoter{quotes: map[string]float64{"ethereum:0xweth": 3000}}
	r := NewResolver(quoter, time.Minute, testLogger())

	refs := []model.TokenRef{
		{Chain: "ethereum", TokenAddress: "0xWETH"},
		{Chain: "Ethereum", TokenAddress: "0xweth"},
		{Chain: "", TokenAddress: "0xskip"},
		{Chain: "ethereum", TokenAddress: ""},
	}
	r.ResolveBatch(context.Background(), refs)
	if len(quoter.batches) != 1 || len(quoter.batches[0]) != 1 {
		t.Fatalf("duplicates and blanks must collapse to one lookup: %+v", quoter.batches)
	}

	// Second resolve for the same token is served from cache.
	r.ResolveBatch(context.Background(), refs[:1])
	if len(quoter.batches) != 1 {
		t.Fatalf("cached token must not refetch: %d batches", len(quoter.batches))
	}
	quote, ok := r.CachedPrice("ETHEREUM", "0xWeth")
	if !ok || quote.Price != 3000 {
		t.Fatalf("cache lookup is case-insensitive: %v %v", quote, ok)
	}
}

func TestResolveBatchChunks(t *testing.T) {
	quoter := &stubQuoter{quotes: map[string]float64{}}
	r := NewResolver(quoter, time.Minute, testLogger())

	refs := make([]model.TokenRef, 0, batchSize+10)
	for i := 0; i < batchSize+10; i++ {
		refs = append(refs, model.TokenRef{Chain: "ethereum", TokenAddress: addrForIndex(i)})
	}
	r.ResolveBatch(context.Background(), refs)
	if len(quoter.batches) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(quoter.batches))
	}
	if len(quoter.batches[0]) != batchSize || len(quoter.batches[1]) != 10 {
		t.Fatalf("chunk sizes: %d, %d", len(quoter.batches[0]), len(quoter.batches[1]))
	}
}

func addrForIndex(i int) string {
	return "0xtoken" + string(rune('a'+i%26)) + string(rune('a'+i/26))
}

func TestResolveBatchErrorCounted(t *testing.T) {
	quoter := &stubQuoter{err: errors.New("upstream down")}
	r := NewResolver(quoter, time.Minute, testLogger())
	r.ResolveBatch(context.Background(), []model.TokenRef{{Chain: "ethereum", TokenAddress: "0xweth"}})

	requested, quoted, batchErrors := r.Counters()
	if requested != 1 || quoted != 0 || batchErrors != 1 {
		t.Fatalf("counters = %d requested, %d quoted, %d errors", requested, quoted, batchErrors)
	}
	if _, ok := r.CachedPrice("ethereum", "0xweth"); ok {
		t.Fatalf("failed batch must not cache")
	}
}

func TestUSDValuePrecedence(t *testing.T) {
	quoter := &stubQuoter{quotes: map[string]float64{"ethereum:0xweth": 3000}}
	r := NewResolver(quoter, time.Minute, testLogger())
	r.ResolveBatch(context.Background(), []model.TokenRef{{Chain: "ethereum", TokenAddress: "0xweth"}})

	// Vendor value on the record wins over any quote.
	usd, ok := r.USDValue(model.NormalizedTransaction{
		Chain: "ethereum", TokenAddress: "0xweth", USDValue: f(42), Amount: f(10),
	})
	if !ok || usd != 42 {
		t.Fatalf("record value must win: %v %v", usd, ok)
	}

	// Negative amounts price by magnitude.
	usd, ok = r.USDValue(model.NormalizedTransaction{
		Chain: "ethereum", TokenAddress: "0xweth", Amount: f(-2),
	})
	if !ok || usd != 6000 {
		t.Fatalf("amount x price = %v, ok=%v", usd, ok)
	}

	// No amount or token means unusable.
	if _, ok := r.USDValue(model.NormalizedTransaction{Chain: "ethereum", TokenAddress: "0xweth"}); ok {
		t.Fatalf("missing amount must be unusable")
	}
	if _, ok := r.USDValue(model.NormalizedTransaction{Chain: "ethereum", Amount: f(1)}); ok {
		t.Fatalf("missing token must be unusable")
	}

	// Uncached token is unusable this cycle.
	if _, ok := r.USDValue(model.NormalizedTransaction{Chain: "ethereum", TokenAddress: "0xunknown", Amount: f(1)}); ok {
		t.Fatalf("uncached token must be unusable")
	}
}

func TestCacheExpiry(t *testing.T) {
	quoter := &stubQuoter{quotes: map[string]float64{"ethereum:0xweth": 3000}}
	r := NewResolver(quoter, 20*time.Millisecond, testLogger())
	r.ResolveBatch(context.Background(), []model.TokenRef{{Chain: "ethereum", TokenAddress: "0xweth"}})
	if _, ok := r.CachedPrice("ethereum", "0xweth"); !ok {
		t.Fatalf("fresh quote should be cached")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := r.CachedPrice("ethereum", "0xweth"); ok {
		t.Fatalf("stale quote must be treated as absent")
	}
}
