package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"whalewatch/internal/events"
	"whalewatch/internal/model"
	"whalewatch/internal/normalize"
)

const (
	geoTableSource = "allium_identity.geo.addresses_geography"
	statusPollGap  = 2 * time.Second
)

// ExplorerClient is the slice of the ledger client the resolver needs.
type ExplorerClient interface {
	CreateQuery(ctx context.Context, title, sql string, limit int) (string, error)
	RunQueryAsync(ctx context.Context, queryID string, parameters map[string]any) (string, error)
	QueryStatus(ctx context.Context, runID string) (string, error)
	QueryResults(ctx context.Context, runID string) ([]map[string]any, error)
}

type cacheFile struct {
	UpdatedAt int64                   `json:"updated_at"`
	Rows      map[string]model.GeoRow `json:"rows"`
}

// Resolver maps watch addresses to coarse geography via the vendor explorer,
// with a JSON file cache refreshed on an interval. Every queried address gets
// a row; addresses the vendor doesn't know land on deterministic fallback
// coordinates so the map always has somewhere to draw them.
type Resolver struct {
	client       ExplorerClient
	logger       *slog.Logger
	cachePath    string
	refreshEvery time.Duration
	queryTimeout time.Duration

	mu        sync.Mutex
	updatedAt int64
	rows      map[string]model.GeoRow
}

func NewResolver(client ExplorerClient, logger *slog.Logger, cachePath string, refreshEvery, queryTimeout time.Duration) *Resolver {
	r := &Resolver{
		client:       client,
		logger:       logger,
		cachePath:    cachePath,
		refreshEvery: refreshEvery,
		queryTimeout: queryTimeout,
		rows:         make(map[string]model.GeoRow),
	}
	r.loadCache()
	return r
}

func (r *Resolver) loadCache() {
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return
	}
	var payload cacheFile
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("geo cache unreadable, ignoring", "path", r.cachePath, "error", err)
		return
	}
	r.updatedAt = payload.UpdatedAt
	for address, row := range payload.Rows {
		r.rows[normalizeAddress(address)] = row
	}
}

func (r *Resolver) saveCacheLocked() {
	payload := cacheFile{UpdatedAt: r.updatedAt, Rows: r.rows}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	if dir := filepath.Dir(r.cachePath); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(r.cachePath, data, 0o644); err != nil {
		r.logger.Warn("geo cache write failed", "path", r.cachePath, "error", err)
	}
}

// ForWatchlist returns geo rows for every address in the watchlist, refreshing
// the stale or missing subset from the vendor first. force refreshes all.
func (r *Resolver) ForWatchlist(ctx context.Context, watchlist []model.WatchAddress, force bool) (map[string]model.GeoRow, error) {
	seen := make(map[string]struct{})
	addresses := make([]string, 0, len(watchlist))
	for _, item := range watchlist {
		addr := normalizeAddress(item.Address)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		return map[string]model.GeoRow{}, nil
	}
	sort.Strings(addresses)

	r.mu.Lock()
	stale := force || time.Since(time.Unix(r.updatedAt, 0)) > r.refreshEvery
	var missing []string
	for _, addr := range addresses {
		if _, ok := r.rows[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	r.mu.Unlock()

	var refreshErr error
	if stale {
		refreshErr = r.refresh(ctx, addresses)
	} else if len(missing) > 0 {
		refreshErr = r.refresh(ctx, missing)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.GeoRow, len(addresses))
	for _, addr := range addresses {
		if row, ok := r.rows[addr]; ok {
			out[addr] = row
		}
	}
	return out, refreshErr
}

func (r *Resolver) refresh(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	literals := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		literals = append(literals, "'"+strings.ReplaceAll(addr, "'", "''")+"'")
	}
	sql := fmt.Sprintf(
		"SELECT LOWER(address) AS address, primary_country, primary_region, score, confidence, reasoning "+
			"FROM %s WHERE LOWER(address) IN (%s) LIMIT 20000",
		geoTableSource, strings.Join(literals, ", "))
	limit := len(addresses)
	if limit < 1000 {
		limit = 1000
	}
	rows, err := r.queryWithWait(ctx, sql, limit)
	if err != nil {
		return err
	}

	// Keep the highest-score row per address.
	best := make(map[string]model.GeoRow, len(rows))
	for _, row := range rows {
		address, _ := row["address"].(string)
		address = normalizeAddress(address)
		if address == "" {
			continue
		}
		score := 0.0
		if v := normalize.ToFloat(row["score"]); v != nil {
			score = *v
		}
		if existing, ok := best[address]; ok && existing.Score != nil && *existing.Score >= score {
			continue
		}
		country, _ := row["primary_country"].(string)
		region, _ := row["primary_region"].(string)
		confidence, _ := row["confidence"].(string)
		reasoning, _ := row["reasoning"].(string)
		lat, lon := countryLatLon(country, address)
		scoreCopy := score
		best[address] = model.GeoRow{
			Address:        address,
			PrimaryCountry: country,
			PrimaryRegion:  region,
			Score:          &scoreCopy,
			Confidence:     confidence,
			Reasoning:      reasoning,
			Lat:            lat,
			Lon:            lon,
			Source:         geoTableSource,
		}
	}

	r.mu.Lock()
	for _, address := range addresses {
		if row, ok := best[address]; ok {
			r.rows[address] = row
			continue
		}
		lat, lon := countryLatLon("", address)
		r.rows[address] = model.GeoRow{Address: address, Lat: lat, Lon: lon, Source: "fallback"}
	}
	r.updatedAt = time.Now().Unix()
	r.saveCacheLocked()
	r.mu.Unlock()

	r.logger.Info("geo cache refreshed", "addresses", len(addresses), "matched", len(best))
	return nil
}

// BootstrapWatchlist pulls the top-scored addresses from the vendor geo table
// as seed watch entries.
func (r *Resolver) BootstrapWatchlist(ctx context.Context, limit int, chain string) ([]model.WatchAddress, error) {
	if limit <= 0 {
		return nil, nil
	}
	if chain == "" {
		chain = "ethereum"
	}
	sql := fmt.Sprintf(
		"SELECT LOWER(address) AS address, MAX(score) AS score FROM %s "+
			"GROUP BY LOWER(address) ORDER BY score DESC NULLS LAST LIMIT %d",
		geoTableSource, limit)
	queryLimit := limit
	if queryLimit < 100 {
		queryLimit = 100
	}
	rows, err := r.queryWithWait(ctx, sql, queryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]model.WatchAddress, 0, len(rows))
	for i, row := range rows {
		address, _ := row["address"].(string)
		address = normalizeAddress(address)
		if address == "" {
			continue
		}
		out = append(out, model.WatchAddress{
			Chain:    chain,
			Address:  address,
			Label:    fmt.Sprintf("geo_whale_%d", i+1),
			Category: "geo_bootstrap",
		})
	}
	return out, nil
}

func (r *Resolver) queryWithWait(ctx context.Context, sql string, limit int) ([]map[string]any, error) {
	title := fmt.Sprintf("whalewatch_geo_%d", time.Now().Unix())
	queryID, err := r.client.CreateQuery(ctx, title, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("create explorer query: %w", err)
	}
	runID, err := r.client.RunQueryAsync(ctx, queryID, nil)
	if err != nil {
		return nil, fmt.Errorf("run explorer query: %w", err)
	}
	timeout := r.queryTimeout
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := r.client.QueryStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		switch status {
		case "success":
			return r.client.QueryResults(ctx, runID)
		case "failed":
			return nil, fmt.Errorf("explorer query failed for run %s", runID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(statusPollGap):
		}
	}
	return nil, fmt.Errorf("explorer query timed out for run %s", runID)
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// countryLatLon maps a country name to its centroid, falling back to the
// deterministic hash placement when the country is unknown.
func countryLatLon(country, address string) (float64, float64) {
	if country != "" {
		if c, ok := countryCentroids[strings.ToLower(strings.TrimSpace(country))]; ok {
			return c[0], c[1]
		}
	}
	return events.PseudoLatLon(address)
}

var countryCentroids = map[string][2]float64{
	"united states":        {39.5, -98.35},
	"usa":                  {39.5, -98.35},
	"canada":               {56.13, -106.34},
	"mexico":               {23.63, -102.55},
	"brazil":               {-14.23, -51.93},
	"argentina":            {-38.42, -63.62},
	"chile":                {-35.67, -71.54},
	"peru":                 {-9.19, -75.02},
	"colombia":             {4.57, -74.30},
	"united kingdom":       {55.38, -3.43},
	"uk":                   {55.38, -3.43},
	"ireland":              {53.41, -8.24},
	"france":               {46.23, 2.21},
	"germany":              {51.17, 10.45},
	"spain":                {40.46, -3.75},
	"portugal":             {39.40, -8.22},
	"italy":                {41.87, 12.57},
	"netherlands":          {52.13, 5.29},
	"belgium":              {50.50, 4.47},
	"switzerland":          {46.82, 8.23},
	"austria":              {47.52, 14.55},
	"poland":               {51.92, 19.15},
	"czech republic":       {49.82, 15.47},
	"sweden":               {60.13, 18.64},
	"norway":               {60.47, 8.47},
	"finland":              {61.92, 25.75},
	"denmark":              {56.26, 9.50},
	"iceland":              {64.96, -19.02},
	"russia":               {61.52, 105.32},
	"ukraine":              {48.38, 31.17},
	"turkey":               {38.96, 35.24},
	"israel":               {31.05, 34.85},
	"saudi arabia":         {23.89, 45.08},
	"uae":                  {23.42, 53.85},
	"united arab emirates": {23.42, 53.85},
	"south africa":         {-30.56, 22.94},
	"nigeria":              {9.08, 8.68},
	"kenya":                {-0.02, 37.91},
	"egypt":                {26.82, 30.80},
	"morocco":              {31.79, -7.09},
	"india":                {20.59, 78.96},
	"pakistan":             {30.38, 69.35},
	"bangladesh":           {23.68, 90.36},
	"china":                {35.86, 104.20},
	"hong kong":            {22.32, 114.17},
	"taiwan":               {23.70, 121.00},
	"japan":                {36.20, 138.25},
	"south korea":          {35.91, 127.77},
	"singapore":            {1.35, 103.82},
	"thailand":             {15.87, 100.99},
	"vietnam":              {14.06, 108.28},
	"indonesia":            {-0.79, 113.92},
	"philippines":          {12.88, 121.77},
	"australia":            {-25.27, 133.78},
	"new zealand":          {-40.90, 174.89},
}
