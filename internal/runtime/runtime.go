package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"whalewatch/internal/alerts"
	"whalewatch/internal/balances"
	"whalewatch/internal/config"
	"whalewatch/internal/dashboard"
	"whalewatch/internal/dedupe"
	"whalewatch/internal/geo"
	"whalewatch/internal/ledger"
	"whalewatch/internal/logging"
	"whalewatch/internal/model"
	"whalewatch/internal/normalize"
	"whalewatch/internal/poller"
	"whalewatch/internal/prices"
	"whalewatch/internal/score"
	"whalewatch/internal/sinks"
	"whalewatch/internal/watchlist"
)

// Runtime owns every long-lived component and the three background loops:
// polling, geo refresh and balance refresh.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *ledger.Client
	resolver *prices.Resolver
	store    dedupe.Store
	sink     *sinks.Multi
	kafka    *sinks.Kafka
	alertLog *alerts.Store
	state    *dashboard.State
	geo      *geo.Resolver
	poller   *poller.Poller

	// pollMu serializes manual poll-now requests against the poll loop.
	pollMu sync.Mutex

	refreshMu       sync.Mutex
	lastGeoRefresh  int64
	lastBalanceTime int64
}

func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	watched, err := watchlist.Load(cfg.Watchlist.Path)
	if err != nil {
		return nil, err
	}
	if len(watched) == 0 && cfg.Geo.BootstrapMaxAddresses <= 0 {
		return nil, fmt.Errorf("watchlist %s is empty", cfg.Watchlist.Path)
	}

	client := ledger.NewClient(
		cfg.Ledger.BaseURL,
		cfg.Ledger.APIKey,
		time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Ledger.MinRequestIntervalMS)*time.Millisecond,
	)
	resolver := prices.NewResolver(client,
		time.Duration(cfg.Ledger.PriceCacheTTLSeconds)*time.Second,
		logging.For(logger, "prices"))

	store, err := dedupe.NewStore(cfg.Dedupe.Driver, cfg.Dedupe.DSN)
	if err != nil {
		return nil, fmt.Errorf("dedupe store: %w", err)
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		resolver: resolver,
		store:    store,
		alertLog: alerts.NewStore(cfg.Dashboard.MaxAlerts),
	}

	rt.state = dashboard.NewState(watched, cfg.Dashboard.MaxAlerts, cfg.Dashboard.MaxEvents)
	rt.geo = geo.NewResolver(client, logging.For(logger, "geo"),
		cfg.Geo.CachePath,
		time.Duration(cfg.Geo.RefreshIntervalSeconds)*time.Second,
		time.Duration(cfg.Geo.QueryTimeoutSeconds)*time.Second)

	rt.sink = rt.buildSinks()
	rt.poller = poller.New(poller.Options{
		Client:    client,
		Normalize: normalize.Transactions,
		Resolver:  resolver,
		Scorer:    score.NewScorer(),
		Builder:   &alerts.Builder{DashboardBaseURL: cfg.Dashboard.BaseURL},
		Store:     store,
		Sink:      rt.sink,
		Logger:    logging.For(logger, "poller"),
		Config:    cfg.Poller,
		BatchSize: cfg.Ledger.MaxAddressesPerRequest,
		Watchlist: watched,
		OnDiscover: func(watch model.WatchAddress) {
			rt.state.AddWatchAddresses([]model.WatchAddress{watch})
			go rt.resolveDiscoveredGeo(watch)
		},
		OnAlert: func(alert model.Alert) {
			rt.alertLog.Add(alert)
			rt.state.IngestAlert(alert)
		},
	})
	return rt, nil
}

func (rt *Runtime) buildSinks() *sinks.Multi {
	multi := sinks.NewMulti(logging.For(rt.logger, "sinks"),
		sinks.Console{Logger: logging.For(rt.logger, "alert")})
	timeout := time.Duration(rt.cfg.Ledger.TimeoutSeconds) * time.Second
	sc := rt.cfg.Sinks
	if sc.Telegram.BotToken != "" && sc.Telegram.ChatID != "" {
		multi.Append(sinks.NewTelegram(sc.Telegram.BotToken, sc.Telegram.ChatID, timeout))
	}
	if sc.Discord.WebhookURL != "" {
		multi.Append(sinks.NewDiscord(sc.Discord.WebhookURL, timeout))
	}
	if sc.Webhook.URL != "" {
		multi.Append(sinks.NewWebhook(sc.Webhook.URL, timeout))
	}
	if sc.Kafka.Enabled && len(sc.Kafka.Brokers) > 0 && sc.Kafka.Topic != "" {
		rt.kafka = sinks.NewKafka(sc.Kafka.Brokers, sc.Kafka.Topic)
		multi.Append(rt.kafka)
	}
	return multi
}

// Start initializes storage, bootstraps the watchlist if configured, does a
// first geo refresh, then runs the background loops until ctx ends.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.store.Init(ctx); err != nil {
		return fmt.Errorf("init dedupe store: %w", err)
	}
	defer rt.close()

	if n := rt.cfg.Geo.BootstrapMaxAddresses; n > 0 {
		seeded, err := rt.geo.BootstrapWatchlist(ctx, n, "ethereum")
		if err != nil {
			rt.logger.Warn("watchlist bootstrap failed", "error", err)
		} else if len(seeded) > 0 {
			rt.poller.AddWatchAddresses(seeded)
			rt.state.AddWatchAddresses(seeded)
			rt.logger.Info("watchlist bootstrapped", "added", len(seeded))
		}
	}

	if err := rt.RefreshGeo(ctx); err != nil {
		rt.logger.Warn("initial geo refresh failed", "error", err)
	}
	if err := rt.RefreshBalances(ctx); err != nil {
		rt.logger.Warn("initial balance refresh failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.pollLoop(ctx) })
	g.Go(func() error { return rt.geoLoop(ctx) })
	g.Go(func() error { return rt.balanceLoop(ctx) })
	return g.Wait()
}

func (rt *Runtime) pollLoop(ctx context.Context) error {
	interval := time.Duration(rt.cfg.Poller.IntervalSeconds) * time.Second
	rt.logger.Info("poll loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rt.pollMu.Lock()
		rt.poller.RunOnce(ctx)
		rt.pollMu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (rt *Runtime) geoLoop(ctx context.Context) error {
	interval := time.Duration(rt.cfg.Geo.RefreshIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := rt.RefreshGeo(ctx); err != nil {
				rt.logger.Error("geo refresh failed", "error", err)
			}
		}
	}
}

func (rt *Runtime) balanceLoop(ctx context.Context) error {
	interval := time.Duration(rt.cfg.Balances.RefreshIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := rt.RefreshBalances(ctx); err != nil {
				rt.logger.Error("balance refresh failed", "error", err)
			}
		}
	}
}

// RefreshGeo re-resolves geography for the full current watchlist and pushes
// the rows to the dashboard.
func (rt *Runtime) RefreshGeo(ctx context.Context) error {
	rows, err := rt.geo.ForWatchlist(ctx, rt.poller.Watchlist(), true)
	if len(rows) > 0 {
		rt.state.UpdateGeo(rows)
	}
	if err != nil {
		return err
	}
	rt.refreshMu.Lock()
	rt.lastGeoRefresh = time.Now().Unix()
	rt.refreshMu.Unlock()
	return nil
}

// RefreshBalances fetches wallet holdings for every watched address and
// updates the dashboard rollups.
func (rt *Runtime) RefreshBalances(ctx context.Context) error {
	watched := rt.poller.Watchlist()
	if len(watched) == 0 {
		return nil
	}
	batch := rt.cfg.Ledger.MaxAddressesPerRequest
	merged := make(map[string]balances.Summary)
	var firstErr error
	for start := 0; start < len(watched); start += batch {
		end := start + batch
		if end > len(watched) {
			end = len(watched)
		}
		refs := make([]model.AddressRef, 0, end-start)
		for _, item := range watched[start:end] {
			refs = append(refs, model.AddressRef{Chain: item.Chain, Address: item.Address})
		}
		payload, err := rt.client.WalletBalances(ctx, refs)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for address, summary := range balances.Summarize(payload) {
			merged[address] = summary
		}
	}
	now := time.Now().Unix()
	rt.state.UpdateBalances(merged, now)
	rt.refreshMu.Lock()
	rt.lastBalanceTime = now
	rt.refreshMu.Unlock()
	return firstErr
}

// resolveDiscoveredGeo places a newly discovered address on the map right
// away instead of waiting for the next scheduled geo refresh.
func (rt *Runtime) resolveDiscoveredGeo(watch model.WatchAddress) {
	timeout := time.Duration(rt.cfg.Geo.QueryTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rows, err := rt.geo.ForWatchlist(ctx, []model.WatchAddress{watch}, false)
	if len(rows) > 0 {
		rt.state.UpdateGeo(rows)
	}
	if err != nil {
		rt.logger.Warn("geo resolve for discovered address failed",
			"address", watch.Address, "error", err)
	}
}

// RecentAlerts returns the newest raw alerts, most recent first.
func (rt *Runtime) RecentAlerts(limit int) []model.Alert {
	return rt.alertLog.Recent(limit)
}

// PollNow runs one poll cycle immediately, serialized with the poll loop.
func (rt *Runtime) PollNow(ctx context.Context) error {
	rt.pollMu.Lock()
	defer rt.pollMu.Unlock()
	rt.poller.RunOnce(ctx)
	return nil
}

func (rt *Runtime) Filters() dashboard.Filters {
	return rt.state.Filters()
}

func (rt *Runtime) SetFilters(update dashboard.FilterUpdate) dashboard.Filters {
	return rt.state.SetFilters(update)
}

// Snapshot composes the dashboard state with runtime counters and config
// echoes for the API's /api/state response.
func (rt *Runtime) Snapshot() map[string]any {
	snap := rt.state.Snapshot()
	rt.refreshMu.Lock()
	lastGeo := rt.lastGeoRefresh
	lastBalances := rt.lastBalanceTime
	rt.refreshMu.Unlock()
	requested, quoted, priceErrors := rt.resolver.Counters()
	return map[string]any{
		"state":  snap,
		"poller": rt.poller.Stats(),
		"prices": map[string]any{
			"items_requested": requested,
			"items_quoted":    quoted,
			"batch_errors":    priceErrors,
		},
		"refreshed": map[string]any{
			"geo_at":      lastGeo,
			"balances_at": lastBalances,
		},
		"config": map[string]any{
			"poll_interval_seconds": rt.cfg.Poller.IntervalSeconds,
			"min_alert_usd":         rt.cfg.Poller.MinAlertUSD,
			"dedupe_driver":         rt.cfg.Dedupe.Driver,
			"watchlist_path":        rt.cfg.Watchlist.Path,
		},
	}
}

func (rt *Runtime) close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("dedupe store close failed", "error", err)
	}
	if rt.kafka != nil {
		if err := rt.kafka.Close(); err != nil {
			rt.logger.Warn("kafka writer close failed", "error", err)
		}
	}
}
