package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"whalewatch/internal/alerts"
	"whalewatch/internal/config"
	"whalewatch/internal/dedupe"
	"whalewatch/internal/metrics"
	"whalewatch/internal/model"
	"whalewatch/internal/prices"
	"whalewatch/internal/score"
	"whalewatch/internal/sinks"
)

// TransactionFetcher is the slice of the ledger client the poller needs.
type TransactionFetcher interface {
	WalletTransactions(ctx context.Context, addresses []model.AddressRef) (any, error)
}

// Normalizer flattens a raw transactions payload.
type Normalizer func(payload any, chainByAddress map[string]string) []model.NormalizedTransaction

// Metrics is a snapshot of poller counters for the dashboard.
type Metrics struct {
	Cycles          int   `json:"cycles"`
	Ingested        int   `json:"transactions_ingested"`
	Usable          int   `json:"transactions_usable"`
	PriceMisses     int   `json:"price_misses"`
	AlertsEmitted   int   `json:"alerts_emitted"`
	DedupeHits      int   `json:"dedupe_hits"`
	EventsPerMinute int   `json:"events_per_min"`
	ActiveWhales5M  int   `json:"active_whales_5m"`
	LastCycleUnix   int64 `json:"last_cycle_unix"`
}

// Poller drives the fetch/normalize/price/score/emit cycle over the
// watchlist. One cycle is one pass over every watched address.
type Poller struct {
	client    TransactionFetcher
	normalize Normalizer
	resolver  *prices.Resolver
	scorer    *score.Scorer
	builder   *alerts.Builder
	store     dedupe.Store
	sink      *sinks.Multi
	watermark *Watermark
	logger    *slog.Logger

	minAlertUSD    float64
	batchSize      int
	lookback       time.Duration
	discover       bool
	discoverMinUSD float64
	discoverMax    int
	onDiscover     func(model.WatchAddress)
	onAlert        func(model.Alert)

	watchMu         sync.Mutex
	watchOrder      []model.WatchAddress
	watchByKey      map[string]model.WatchAddress
	chainByAddress  map[string]string
	discoveredCount int

	statMu     sync.Mutex
	stats      Metrics
	alertTimes []time.Time
	whaleTimes map[string]time.Time
}

type Options struct {
	Client     TransactionFetcher
	Normalize  Normalizer
	Resolver   *prices.Resolver
	Scorer     *score.Scorer
	Builder    *alerts.Builder
	Store      dedupe.Store
	Sink       *sinks.Multi
	Logger     *slog.Logger
	Config     config.PollerConfig
	BatchSize  int
	Watchlist  []model.WatchAddress
	OnDiscover func(model.WatchAddress)
	OnAlert    func(model.Alert)
}

func New(opts Options) *Poller {
	batch := opts.BatchSize
	if batch <= 0 || batch > 20 {
		batch = 20
	}
	p := &Poller{
		client:         opts.Client,
		normalize:      opts.Normalize,
		resolver:       opts.Resolver,
		scorer:         opts.Scorer,
		builder:        opts.Builder,
		store:          opts.Store,
		sink:           opts.Sink,
		watermark:      NewWatermark(),
		logger:         opts.Logger,
		minAlertUSD:    opts.Config.MinAlertUSD,
		batchSize:      batch,
		lookback:       time.Duration(opts.Config.LookbackSeconds) * time.Second,
		discover:       opts.Config.DiscoverCounterparties,
		discoverMinUSD: opts.Config.DiscoverMinUSD,
		discoverMax:    opts.Config.DiscoveredWatchMax,
		onDiscover:     opts.OnDiscover,
		onAlert:        opts.OnAlert,
		watchByKey:     make(map[string]model.WatchAddress),
		chainByAddress: make(map[string]string),
		whaleTimes:     make(map[string]time.Time),
	}
	p.AddWatchAddresses(opts.Watchlist)
	return p
}

// AddWatchAddresses appends watch entries, seeding their watermarks at
// now-lookback. Duplicates are ignored.
func (p *Poller) AddWatchAddresses(items []model.WatchAddress) {
	cutoff := time.Now().Add(-p.lookback).Unix()
	var seeded []string
	p.watchMu.Lock()
	for _, item := range items {
		if p.addWatchLocked(item) {
			seeded = append(seeded, item.Address)
		}
	}
	p.watchMu.Unlock()
	p.watermark.Seed(seeded, cutoff)
}

// addWatchLocked inserts one entry; caller holds watchMu. Reports whether the
// entry was new.
func (p *Poller) addWatchLocked(item model.WatchAddress) bool {
	key := item.Key()
	if _, ok := p.watchByKey[key]; ok {
		return false
	}
	p.watchByKey[key] = item
	p.watchOrder = append(p.watchOrder, item)
	p.chainByAddress[strings.ToLower(item.Address)] = item.Chain
	p.watermark.Seed([]string{item.Address}, time.Now().Add(-p.lookback).Unix())
	return true
}

// Watchlist returns a copy of the current watch entries.
func (p *Poller) Watchlist() []model.WatchAddress {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	out := make([]model.WatchAddress, len(p.watchOrder))
	copy(out, p.watchOrder)
	return out
}

// WatchByKey returns a copy of the chain:address -> entry index.
func (p *Poller) WatchByKey() map[string]model.WatchAddress {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	out := make(map[string]model.WatchAddress, len(p.watchByKey))
	for k, v := range p.watchByKey {
		out[k] = v
	}
	return out
}

// RunOnce performs one full cycle: fetch every batch, normalize, prefetch
// prices for the whole cycle in one pass, then gate/score/emit per record.
func (p *Poller) RunOnce(ctx context.Context) {
	watchlist := p.Watchlist()
	if len(watchlist) == 0 {
		return
	}
	p.watchMu.Lock()
	chainByAddress := make(map[string]string, len(p.chainByAddress))
	for k, v := range p.chainByAddress {
		chainByAddress[k] = v
	}
	p.watchMu.Unlock()

	var all []model.NormalizedTransaction
	for start := 0; start < len(watchlist); start += p.batchSize {
		end := start + p.batchSize
		if end > len(watchlist) {
			end = len(watchlist)
		}
		refs := make([]model.AddressRef, 0, end-start)
		for _, item := range watchlist[start:end] {
			refs = append(refs, model.AddressRef{Chain: item.Chain, Address: item.Address})
		}
		raw, err := p.client.WalletTransactions(ctx, refs)
		if err != nil {
			p.logger.Error("wallet transactions fetch failed", "batch", len(refs), "error", err)
			continue
		}
		all = append(all, p.normalize(raw, chainByAddress)...)
	}

	p.prefetchPrices(ctx, all)
	p.processTransactions(ctx, all)

	p.statMu.Lock()
	p.stats.Cycles++
	p.stats.Ingested += len(all)
	p.stats.LastCycleUnix = time.Now().Unix()
	p.statMu.Unlock()
	metrics.PollCycles.Inc()
	metrics.TransactionsIngested.Add(float64(len(all)))
}

// prefetchPrices batches one lookup for every distinct chain+token the cycle
// needs, so two transfers of the same token cost one quote.
func (p *Poller) prefetchPrices(ctx context.Context, txs []model.NormalizedTransaction) {
	var refs []model.TokenRef
	for _, tx := range txs {
		if !p.watermark.IsNew(tx) {
			continue
		}
		if tx.USDValue != nil && *tx.USDValue >= 0 {
			continue
		}
		if tx.Amount == nil || tx.TokenAddress == "" {
			continue
		}
		refs = append(refs, model.TokenRef{Chain: tx.Chain, TokenAddress: tx.TokenAddress})
	}
	if len(refs) > 0 {
		p.resolver.ResolveBatch(ctx, refs)
	}
}

func (p *Poller) processTransactions(ctx context.Context, txs []model.NormalizedTransaction) {
	watchByKey := p.WatchByKey()
	now := time.Now()
	for _, tx := range txs {
		if !p.watermark.IsNew(tx) {
			continue
		}
		usd, ok := p.resolver.USDValue(tx)
		if !ok {
			p.statMu.Lock()
			p.stats.PriceMisses++
			p.statMu.Unlock()
			p.watermark.Bump(tx)
			continue
		}
		p.statMu.Lock()
		p.stats.Usable++
		p.statMu.Unlock()

		p.maybeDiscover(tx, usd)

		if usd < p.minAlertUSD {
			p.watermark.Bump(tx)
			continue
		}

		watch := watchByKey[tx.Chain+":"+strings.ToLower(tx.WatchAddress)]
		entities := alerts.EntitiesForWatch(tx, watchByKey)
		result := p.scorer.Evaluate(tx, usd, entities, now)
		alert := p.builder.Build(tx, watch, usd, result, entities)

		seen, err := p.store.HasSeen(ctx, alert.DedupeKey)
		if err != nil {
			p.logger.Error("dedupe lookup failed", "dedupe_key", alert.DedupeKey, "error", err)
			p.watermark.Bump(tx)
			continue
		}
		if seen {
			metrics.DedupeHits.Inc()
			p.statMu.Lock()
			p.stats.DedupeHits++
			p.statMu.Unlock()
			p.watermark.Bump(tx)
			continue
		}

		p.sink.Send(ctx, alert)
		if p.onAlert != nil {
			p.onAlert(alert)
		}
		if err := p.store.MarkSeen(ctx, alert.DedupeKey); err != nil {
			p.logger.Error("dedupe mark failed", "dedupe_key", alert.DedupeKey, "error", err)
		}
		p.scorer.RecordEmission(tx.WatchAddress, usd, score.Counterparty(tx), now)
		p.watermark.Bump(tx)
		metrics.AlertsEmitted.Inc()
		p.recordAlert(tx.WatchAddress, now)
	}
}

func (p *Poller) recordAlert(watchAddress string, now time.Time) {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	p.stats.AlertsEmitted++
	p.alertTimes = append(p.alertTimes, now)
	if watchAddress != "" {
		p.whaleTimes[strings.ToLower(watchAddress)] = now
	}
	cutoff := now.Add(-5 * time.Minute)
	keep := p.alertTimes[:0]
	for _, ts := range p.alertTimes {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	p.alertTimes = keep
	for addr, ts := range p.whaleTimes {
		if !ts.After(cutoff) {
			delete(p.whaleTimes, addr)
		}
	}
}

// Stats reports the counter snapshot plus rolling rates.
func (p *Poller) Stats() Metrics {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	out := p.stats
	now := time.Now()
	minuteAgo := now.Add(-time.Minute)
	fiveAgo := now.Add(-5 * time.Minute)
	for _, ts := range p.alertTimes {
		if ts.After(minuteAgo) {
			out.EventsPerMinute++
		}
	}
	for _, ts := range p.whaleTimes {
		if ts.After(fiveAgo) {
			out.ActiveWhales5M++
		}
	}
	return out
}
