package prices

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"whalewatch/internal/metrics"
	"whalewatch/internal/model"
)

const batchSize = 50

// Quoter is the slice of the ledger client the resolver needs.
type Quoter interface {
	Prices(ctx context.Context, tokens []model.TokenRef) ([]model.PriceQuote, error)
}

// Resolver caches token quotes with a TTL and batches lookups for uncached
// tokens. Stale cache entries are treated as absent.
type Resolver struct {
	quoter Quoter
	cache  *expirable.LRU[string, model.PriceQuote]
	logger *slog.Logger

	mu             sync.Mutex
	itemsRequested int
	itemsQuoted    int
	batchErrors    int
}

func NewResolver(quoter Quoter, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Resolver{
		quoter: quoter,
		cache:  expirable.NewLRU[string, model.PriceQuote](4096, nil, ttl),
		logger: logger,
	}
}

func cacheKey(chain, tokenAddress string) string {
	return strings.ToLower(chain) + ":" + strings.ToLower(tokenAddress)
}

// CachedPrice returns a fresh quote or false.
func (r *Resolver) CachedPrice(chain, tokenAddress string) (model.PriceQuote, bool) {
	return r.cache.Get(cacheKey(chain, tokenAddress))
}

// ResolveBatch fetches quotes for every token not already cached, deduplicated
// and chunked to bound request size. Errors skip the chunk; remaining chunks
// still run.
func (r *Resolver) ResolveBatch(ctx context.Context, tokens []model.TokenRef) {
	seen := make(map[string]bool, len(tokens))
	var missing []model.TokenRef
	for _, ref := range tokens {
		if ref.Chain == "" || ref.TokenAddress == "" {
			continue
		}
		key := cacheKey(ref.Chain, ref.TokenAddress)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := r.cache.Get(key); ok {
			continue
		}
		missing = append(missing, model.TokenRef{
			Chain:        strings.ToLower(ref.Chain),
			TokenAddress: strings.ToLower(ref.TokenAddress),
		})
	}
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]
		r.countRequested(len(chunk))
		quotes, err := r.quoter.Prices(ctx, chunk)
		if err != nil {
			r.countError()
			if r.logger != nil {
				r.logger.Warn("price batch failed", "tokens", len(chunk), "err", err)
			}
			continue
		}
		r.countQuoted(len(quotes))
		for _, q := range quotes {
			r.cache.Add(cacheKey(q.Chain, q.TokenAddress), q)
		}
	}
}

// USDValue resolves the dollar value of a transaction. A value already on the
// record wins; otherwise amount and token address plus a cached quote are
// required. Returns false when the transaction is unusable this cycle.
func (r *Resolver) USDValue(tx model.NormalizedTransaction) (float64, bool) {
	if tx.USDValue != nil && *tx.USDValue >= 0 {
		return *tx.USDValue, true
	}
	if tx.Amount == nil || tx.TokenAddress == "" {
		return 0, false
	}
	quote, ok := r.CachedPrice(tx.Chain, tx.TokenAddress)
	if !ok {
		return 0, false
	}
	return math.Abs(*tx.Amount) * quote.Price, true
}

// Counters reports items requested/quoted and batch errors since start.
func (r *Resolver) Counters() (requested, quoted, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.itemsRequested, r.itemsQuoted, r.batchErrors
}

func (r *Resolver) countRequested(n int) {
	r.mu.Lock()
	r.itemsRequested += n
	r.mu.Unlock()
	metrics.PriceItemsRequested.Add(float64(n))
}

func (r *Resolver) countQuoted(n int) {
	r.mu.Lock()
	r.itemsQuoted += n
	r.mu.Unlock()
	metrics.PriceItemsQuoted.Add(float64(n))
}

func (r *Resolver) countError() {
	r.mu.Lock()
	r.batchErrors++
	r.mu.Unlock()
	metrics.PriceBatchErrors.Inc()
}
