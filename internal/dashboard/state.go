package dashboard

import (
	"sort"
	"strings"
	"sync"
	"time"

	"whalewatch/internal/balances"
	"whalewatch/internal/events"
	"whalewatch/internal/model"
)

const (
	snapshotMaxAlerts = 240
	snapshotMaxEvents = 900
	maxWindowSeconds  = 24 * 60 * 60
	minWindowSeconds  = 60
	maxReplaySeconds  = 24 * 60 * 60
	defaultWindowSecs = 3600
	alertCountsWindow = 24 * time.Hour
)

// Filters is the active dashboard view filter set. Empty type/chain slices
// mean "all".
type Filters struct {
	Types               []string `json:"types"`
	Chains              []string `json:"chains"`
	MinUSD              float64  `json:"min_usd"`
	WindowSeconds       int      `json:"window_seconds"`
	ReplayOffsetSeconds int      `json:"replay_offset_seconds"`
}

// FilterUpdate carries a partial filter change; nil fields are untouched.
type FilterUpdate struct {
	Types               *[]string `json:"types"`
	Chains              *[]string `json:"chains"`
	MinUSD              *float64  `json:"min_usd"`
	WindowSeconds       *int      `json:"window_seconds"`
	ReplayOffsetSeconds *int      `json:"replay_offset_seconds"`
}

// AlertRow is the dashboard projection of an alert, annotated with the
// watched addresses it touched and its derived event type.
type AlertRow struct {
	DedupeKey      string                  `json:"dedupe_key"`
	Text           string                  `json:"text"`
	USDValue       float64                 `json:"usd_value"`
	Score          float64                 `json:"score"`
	ScoreReasons   []string                `json:"score_reasons,omitempty"`
	ScoreBreakdown map[string]float64      `json:"score_breakdown,omitempty"`
	TxID           string                  `json:"tx_id"`
	Chain          string                  `json:"chain"`
	TxType         string                  `json:"tx_type"`
	Timestamp      *int64                  `json:"timestamp,omitempty"`
	WatchAddress   string                  `json:"watch_address,omitempty"`
	FromAddress    string                  `json:"from_address,omitempty"`
	ToAddress      string                  `json:"to_address,omitempty"`
	TokenSymbol    string                  `json:"token_symbol,omitempty"`
	TokenAddress   string                  `json:"token_address,omitempty"`
	Amount         *float64                `json:"amount,omitempty"`
	Addresses      []string                `json:"addresses"`
	EventType      string                  `json:"event_type"`
	Entities       map[string]model.Entity `json:"entities,omitempty"`
	DeepLink       string                  `json:"deep_link,omitempty"`
}

// AddressMetrics is the per-watch-address rollup shown in the whale table.
type AddressMetrics struct {
	LastAlertUSD       *float64           `json:"last_alert_usd"`
	LastAlertAt        *int64             `json:"last_alert_at"`
	Alerts24H          int                `json:"alerts_24h"`
	AlertCountTotal    int                `json:"alert_count_total"`
	HoldingsTotalUSD   *float64           `json:"holdings_total_usd"`
	HoldingsTokenCount int                `json:"holdings_token_count"`
	TopHoldings        []balances.Holding `json:"top_holdings"`
	HoldingsUpdatedAt  *int64             `json:"holdings_updated_at"`
}

// WhaleRow is one watched address with its geo placement and metrics.
type WhaleRow struct {
	Address        string   `json:"address"`
	Label          string   `json:"label"`
	Chain          string   `json:"chain"`
	Category       string   `json:"category,omitempty"`
	PrimaryCountry string   `json:"primary_country,omitempty"`
	PrimaryRegion  string   `json:"primary_region,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`
	GeoScore       *float64 `json:"geo_score,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	AddressMetrics
}

// SeaState summarizes recent activity intensity over the filtered events.
type SeaState struct {
	Tier      string  `json:"tier"`
	Score15M  float64 `json:"score_15m"`
	Events5M  int     `json:"events_5m"`
	UpdatedAt int64   `json:"updated_at"`
}

// FiltersMeta advertises the values a client can filter on.
type FiltersMeta struct {
	AvailableEventTypes    []string `json:"available_event_types"`
	AvailableChains        []string `json:"available_chains"`
	MaxReplayOffsetSeconds int      `json:"max_replay_offset_seconds"`
}

// Snapshot is the full dashboard state returned by the API. Buffers are
// filtered at read time; the underlying buffers always hold raw history.
type Snapshot struct {
	GeneratedAt int64            `json:"generated_at"`
	StartedAt   int64            `json:"started_at"`
	Whales      []WhaleRow       `json:"whales"`
	Alerts      []AlertRow       `json:"alerts"`
	Events      []model.MapEvent `json:"events"`
	SeaState    SeaState         `json:"sea_state"`
	Filters     Filters          `json:"filters"`
	FiltersMeta FiltersMeta      `json:"filters_meta"`
	WatchCount  int              `json:"watch_count"`
	GeoCount    int              `json:"geo_count"`
	EventCount  int              `json:"event_count"`
}

// State holds everything the dashboard renders. One mutex guards it all;
// every operation is short and allocation-light, so finer locking buys
// nothing.
type State struct {
	mu             sync.Mutex
	watchByAddress map[string]model.WatchAddress
	geoByAddress   map[string]model.GeoRow
	metrics        map[string]*AddressMetrics
	alerts         []AlertRow
	events         []model.MapEvent
	maxAlerts      int
	maxEvents      int
	startedAt      int64
	filters        Filters
	eventTypesSeen map[string]struct{}
	chainsSeen     map[string]struct{}
}

func NewState(watchlist []model.WatchAddress, maxAlerts, maxEvents int) *State {
	if maxAlerts <= 0 {
		maxAlerts = 300
	}
	if maxEvents <= 0 {
		maxEvents = 1500
	}
	s := &State{
		watchByAddress: make(map[string]model.WatchAddress),
		geoByAddress:   make(map[string]model.GeoRow),
		metrics:        make(map[string]*AddressMetrics),
		maxAlerts:      maxAlerts,
		maxEvents:      maxEvents,
		startedAt:      time.Now().Unix(),
		filters: Filters{
			Types:         []string{},
			Chains:        []string{},
			WindowSeconds: defaultWindowSecs,
		},
		eventTypesSeen: make(map[string]struct{}),
		chainsSeen:     make(map[string]struct{}),
	}
	for _, watch := range watchlist {
		addr := strings.ToLower(watch.Address)
		s.watchByAddress[addr] = watch
		s.metrics[addr] = &AddressMetrics{}
		s.chainsSeen[strings.ToLower(watch.Chain)] = struct{}{}
	}
	return s
}

// UpdateGeo merges refreshed geo rows, keyed by lowercased address.
func (s *State) UpdateGeo(rows map[string]model.GeoRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for address, row := range rows {
		s.geoByAddress[strings.ToLower(address)] = row
	}
}

// AddWatchAddresses registers new watch entries, returning how many were new.
func (s *State) AddWatchAddresses(items []model.WatchAddress) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, watch := range items {
		addr := strings.ToLower(watch.Address)
		if _, ok := s.watchByAddress[addr]; ok {
			continue
		}
		s.watchByAddress[addr] = watch
		if _, ok := s.metrics[addr]; !ok {
			s.metrics[addr] = &AddressMetrics{}
		}
		s.chainsSeen[strings.ToLower(watch.Chain)] = struct{}{}
		added++
	}
	return added
}

// Filters returns the active filter set.
func (s *State) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// SetFilters applies a partial update, clamping bounds, and returns the
// resulting filter set.
func (s *State) SetFilters(update FilterUpdate) Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.Types != nil {
		s.filters.Types = normalizeSet(*update.Types)
	}
	if update.Chains != nil {
		s.filters.Chains = normalizeSet(*update.Chains)
	}
	if update.MinUSD != nil {
		v := *update.MinUSD
		if v < 0 {
			v = 0
		}
		s.filters.MinUSD = v
	}
	if update.WindowSeconds != nil {
		v := *update.WindowSeconds
		if v < minWindowSeconds {
			v = minWindowSeconds
		}
		if v > maxWindowSeconds {
			v = maxWindowSeconds
		}
		s.filters.WindowSeconds = v
	}
	if update.ReplayOffsetSeconds != nil {
		v := *update.ReplayOffsetSeconds
		if v < 0 {
			v = 0
		}
		if v > maxReplaySeconds {
			v = maxReplaySeconds
		}
		s.filters.ReplayOffsetSeconds = v
	}
	return s.filters
}

func normalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed != "" {
			seen[trimmed] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// UpdateBalances refreshes holdings metrics for watched addresses. Every
// watched address gets its updated-at stamped so the dashboard can show
// staleness even for wallets the vendor returned nothing for.
func (s *State) UpdateBalances(byAddress map[string]balances.Summary, updatedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr := range s.watchByAddress {
		metric := s.metricFor(addr)
		ts := updatedAt
		metric.HoldingsUpdatedAt = &ts
	}
	for address, summary := range byAddress {
		addr := strings.ToLower(address)
		if _, ok := s.watchByAddress[addr]; !ok {
			continue
		}
		metric := s.metricFor(addr)
		metric.HoldingsTotalUSD = summary.HoldingsTotalUSD
		metric.HoldingsTokenCount = summary.TokenCount
		top := summary.TopHoldings
		if len(top) > 3 {
			top = top[:3]
		}
		metric.TopHoldings = top
	}
}

func (s *State) metricFor(addr string) *AddressMetrics {
	metric, ok := s.metrics[addr]
	if !ok {
		metric = &AddressMetrics{}
		s.metrics[addr] = metric
	}
	return metric
}

// IngestAlert records an alert, derives its map event against current geo
// data, and updates per-address rollups.
func (s *State) IngestAlert(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	nowTS := now.Unix()

	addresses := s.addressesForAlert(alert)
	for _, addr := range addresses {
		metric := s.metricFor(addr)
		usd := alert.USDValue
		metric.LastAlertUSD = &usd
		at := nowTS
		if alert.Timestamp != nil {
			at = *alert.Timestamp
		}
		metric.LastAlertAt = &at
		metric.AlertCountTotal++
	}

	event := events.BuildMapEvent(alert, now, s.geoByAddress, s.watchByAddress)
	s.eventTypesSeen[strings.ToLower(event.EventType)] = struct{}{}
	s.chainsSeen[strings.ToLower(alert.Chain)] = struct{}{}

	row := AlertRow{
		DedupeKey:      alert.DedupeKey,
		Text:           alert.Text,
		USDValue:       alert.USDValue,
		Score:          alert.Score,
		ScoreReasons:   alert.ScoreReasons,
		ScoreBreakdown: alert.ScoreBreakdown,
		TxID:           alert.TxID,
		Chain:          alert.Chain,
		TxType:         alert.TxType,
		Timestamp:      alert.Timestamp,
		WatchAddress:   alert.WatchAddress,
		FromAddress:    alert.FromAddress,
		ToAddress:      alert.ToAddress,
		TokenSymbol:    alert.TokenSymbol,
		TokenAddress:   alert.TokenAddress,
		Amount:         alert.Amount,
		Addresses:      addresses,
		EventType:      event.EventType,
		Entities:       alert.Entities,
		DeepLink:       alert.DeepLink,
	}
	s.alerts = append([]AlertRow{row}, s.alerts...)
	if len(s.alerts) > s.maxAlerts {
		s.alerts = s.alerts[:s.maxAlerts]
	}
	s.events = append([]model.MapEvent{event}, s.events...)
	if len(s.events) > s.maxEvents {
		s.events = s.events[:s.maxEvents]
	}
	s.recomputeAlerts24H(nowTS)
}

func (s *State) addressesForAlert(alert model.Alert) []string {
	candidates := []string{alert.WatchAddress, alert.FromAddress, alert.ToAddress}
	if raw, ok := alert.Raw["address"].(string); ok {
		candidates = append(candidates, raw)
	}
	var out []string
	seen := make(map[string]struct{}, len(candidates))
	for _, value := range candidates {
		if value == "" {
			continue
		}
		addr := strings.ToLower(value)
		if _, watched := s.watchByAddress[addr]; !watched {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// recomputeAlerts24H rescans the alert buffer rather than keeping per-address
// timers; the buffer is small and bounded so the scan is cheap and cannot
// drift.
func (s *State) recomputeAlerts24H(nowTS int64) {
	cutoff := nowTS - int64(alertCountsWindow/time.Second)
	counts := make(map[string]int, len(s.watchByAddress))
	for _, row := range s.alerts {
		if row.Timestamp == nil || *row.Timestamp < cutoff {
			continue
		}
		for _, addr := range row.Addresses {
			counts[addr]++
		}
	}
	for addr, metric := range s.metrics {
		metric.Alerts24H = counts[addr]
	}
}

func (s *State) filterEvents(raw []model.MapEvent, nowTS int64) []model.MapEvent {
	types := toSet(s.filters.Types)
	chains := toSet(s.filters.Chains)
	pivot := nowTS - int64(s.filters.ReplayOffsetSeconds)
	start := pivot - int64(s.filters.WindowSeconds)
	out := make([]model.MapEvent, 0, len(raw))
	for _, event := range raw {
		if event.USDValue < s.filters.MinUSD {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[strings.ToLower(event.EventType)]; !ok {
				continue
			}
		}
		if len(chains) > 0 {
			if _, ok := chains[strings.ToLower(event.Chain)]; !ok {
				continue
			}
		}
		if event.Timestamp != nil && (*event.Timestamp < start || *event.Timestamp > pivot) {
			continue
		}
		out = append(out, event)
	}
	return out
}

func (s *State) filterAlerts(raw []AlertRow, nowTS int64) []AlertRow {
	types := toSet(s.filters.Types)
	chains := toSet(s.filters.Chains)
	pivot := nowTS - int64(s.filters.ReplayOffsetSeconds)
	start := pivot - int64(s.filters.WindowSeconds)
	out := make([]AlertRow, 0, len(raw))
	for _, row := range raw {
		if row.USDValue < s.filters.MinUSD {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[strings.ToLower(row.EventType)]; !ok {
				continue
			}
		}
		if len(chains) > 0 {
			if _, ok := chains[strings.ToLower(row.Chain)]; !ok {
				continue
			}
		}
		if row.Timestamp != nil && (*row.Timestamp < start || *row.Timestamp > pivot) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = struct{}{}
	}
	return out
}

func seaState(filtered []model.MapEvent, nowTS int64) SeaState {
	var score15m float64
	count5m := 0
	for _, event := range filtered {
		if event.Timestamp == nil {
			continue
		}
		if *event.Timestamp >= nowTS-15*60 {
			score15m += event.Score
		}
		if *event.Timestamp >= nowTS-5*60 {
			count5m++
		}
	}
	tier := "calm"
	switch {
	case score15m >= 300:
		tier = "storm"
	case score15m >= 120:
		tier = "rough"
	}
	return SeaState{
		Tier:      tier,
		Score15M:  roundCents(score15m),
		Events5M:  count5m,
		UpdatedAt: nowTS,
	}
}

func roundCents(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

// Snapshot renders the filtered dashboard view.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowTS := time.Now().Unix()

	filteredEvents := s.filterEvents(s.events, nowTS)
	filteredAlerts := s.filterAlerts(s.alerts, nowTS)

	whales := make([]WhaleRow, 0, len(s.watchByAddress))
	for addr, watch := range s.watchByAddress {
		row := WhaleRow{
			Address:  addr,
			Label:    watch.Label,
			Chain:    watch.Chain,
			Category: watch.Category,
		}
		if geo, ok := s.geoByAddress[addr]; ok {
			row.PrimaryCountry = geo.PrimaryCountry
			row.PrimaryRegion = geo.PrimaryRegion
			row.Confidence = geo.Confidence
			row.GeoScore = geo.Score
			lat, lon := geo.Lat, geo.Lon
			row.Lat = &lat
			row.Lon = &lon
		}
		if metric, ok := s.metrics[addr]; ok {
			row.AddressMetrics = *metric
		}
		whales = append(whales, row)
	}
	sort.Slice(whales, func(i, j int) bool {
		a, b := whales[i], whales[j]
		av, bv := floatOrZero(a.LastAlertUSD), floatOrZero(b.LastAlertUSD)
		if av != bv {
			return av > bv
		}
		if a.Alerts24H != b.Alerts24H {
			return a.Alerts24H > b.Alerts24H
		}
		if a.AlertCountTotal != b.AlertCountTotal {
			return a.AlertCountTotal > b.AlertCountTotal
		}
		return a.Address < b.Address
	})

	eventCount := len(filteredEvents)
	if len(filteredAlerts) > snapshotMaxAlerts {
		filteredAlerts = filteredAlerts[:snapshotMaxAlerts]
	}
	if len(filteredEvents) > snapshotMaxEvents {
		filteredEvents = filteredEvents[:snapshotMaxEvents]
	}

	geoCount := 0
	for _, row := range s.geoByAddress {
		if row.Source != "" {
			geoCount++
		}
	}

	return Snapshot{
		GeneratedAt: nowTS,
		StartedAt:   s.startedAt,
		Whales:      whales,
		Alerts:      filteredAlerts,
		Events:      filteredEvents,
		SeaState:    seaState(filteredEvents, nowTS),
		Filters:     s.filters,
		FiltersMeta: FiltersMeta{
			AvailableEventTypes:    sortedKeys(s.eventTypesSeen),
			AvailableChains:        sortedKeys(s.chainsSeen),
			MaxReplayOffsetSeconds: maxReplaySeconds,
		},
		WatchCount: len(s.watchByAddress),
		GeoCount:   geoCount,
		EventCount: eventCount,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
