package dashboard

import (
	"testing"
	"time"

	"whalewatch/internal/balances"
	"whalewatch/internal/model"
)

func testWatchlist() []model.WatchAddress {
	return []model.WatchAddress{
		{Chain: "ethereum", Address: "0xAAA", Label: "Fund A"},
		{Chain: "solana", Address: "SoLBBB", Label: "Fund B"},
	}
}

func mkAlert(key, chain, txType string, usd float64, ts int64, watch string) model.Alert {
	return model.Alert{
		DedupeKey:    key,
		Chain:        chain,
		TxID:         key,
		TxType:       txType,
		USDValue:     usd,
		Timestamp:    &ts,
		WatchAddress: watch,
		Text:         "alert " + key,
	}
}

func TestIngestAlertUpdatesMetricsAndBuffers(t *testing.T) {
	s := NewState(testWatchlist(), 10, 10)
	now := time.Now().Unix()
	s.IngestAlert(mkAlert("k1", "ethereum", "transfer", 2_000_000, now, "0xAAA"))

	snap := s.Snapshot()
	if len(snap.Alerts) != 1 || len(snap.Events) != 1 {
		t.Fatalf("alert and event should be buffered: %d, %d", len(snap.Alerts), len(snap.Events))
	}
	if snap.Alerts[0].EventType != "transfer_large" {
		t.Fatalf("event type derivation: %q", snap.Alerts[0].EventType)
	}
	var fundA WhaleRow
	for _, w := range snap.Whales {
		if w.Address == "0xaaa" {
			fundA = w
		}
	}
	if fundA.AlertCountTotal != 1 || fundA.Alerts24H != 1 {
		t.Fatalf("metrics not updated: %+v", fundA)
	}
	if fundA.LastAlertUSD == nil || *fundA.LastAlertUSD != 2_000_000 {
		t.Fatalf("last alert usd: %v", fundA.LastAlertUSD)
	}
}

func TestBuffersBounded(t *testing.T) {
	s := NewState(testWatchlist(), 3, 3)
	now := time.Now().Unix()
	for i := 0; i < 6; i++ {
		s.IngestAlert(mkAlert(string(rune('a'+i)), "ethereum", "transfer", 1_500_000, now, "0xAAA"))
	}
	snap := s.Snapshot()
	if len(snap.Alerts) != 3 || len(snap.Events) != 3 {
		t.Fatalf("buffers must cap: %d, %d", len(snap.Alerts), len(snap.Events))
	}
	if snap.Alerts[0].DedupeKey != "f" {
		t.Fatalf("newest alert first, got %q", snap.Alerts[0].DedupeKey)
	}
}

func TestFiltersApplyAtReadTime(t *testing.T) {
	s := NewState(testWatchlist(), 50, 50)
	now := time.Now().Unix()
	s.IngestAlert(mkAlert("big", "ethereum", "bridge_in", 5_000_000, now, "0xAAA"))
	s.IngestAlert(mkAlert("small", "solana", "transfer", 1_100_000, now, "SoLBBB"))

	minUSD := 2_000_000.0
	s.SetFilters(FilterUpdate{MinUSD: &minUSD})
	snap := s.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].EventID != "big" {
		t.Fatalf("min_usd filter should hide the small event: %+v", snap.Events)
	}

	// Relaxing the filter restores the hidden event: raw buffers were never
	// trimmed.
	zero := 0.0
	s.SetFilters(FilterUpdate{MinUSD: &zero})
	snap = s.Snapshot()
	if len(snap.Events) != 2 {
		t.Fatalf("filters must not mutate buffers: %d", len(snap.Events))
	}

	chains := []string{"solana"}
	s.SetFilters(FilterUpdate{Chains: &chains})
	snap = s.Snapshot()
	if len(snap.Alerts) != 1 || snap.Alerts[0].Chain != "solana" {
		t.Fatalf("chain filter wrong: %+v", snap.Alerts)
	}
}

func TestSetFiltersClampsBounds(t *testing.T) {
	s := NewState(testWatchlist(), 10, 10)
	window := 10
	replay := 1_000_000
	minUSD := -5.0
	got := s.SetFilters(FilterUpdate{WindowSeconds: &window, ReplayOffsetSeconds: &replay, MinUSD: &minUSD})
	if got.WindowSeconds != 60 {
		t.Fatalf("window clamps to 60, got %d", got.WindowSeconds)
	}
	if got.ReplayOffsetSeconds != 86400 {
		t.Fatalf("replay clamps to 86400, got %d", got.ReplayOffsetSeconds)
	}
	if got.MinUSD != 0 {
		t.Fatalf("min usd clamps to 0, got %v", got.MinUSD)
	}
}

func TestReplayOffsetWindow(t *testing.T) {
	s := NewState(testWatchlist(), 50, 50)
	now := time.Now().Unix()
	s.IngestAlert(mkAlert("old", "ethereum", "transfer", 1_500_000, now-7200, "0xAAA"))
	s.IngestAlert(mkAlert("new", "ethereum", "transfer", 1_500_000, now, "0xAAA"))

	offset := 7000
	window := 3600
	s.SetFilters(FilterUpdate{ReplayOffsetSeconds: &offset, WindowSeconds: &window})
	snap := s.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].EventID != "old" {
		t.Fatalf("replay should show the historical event only: %+v", snap.Events)
	}
}

func TestUpdateBalances(t *testing.T) {
	s := NewState(testWatchlist(), 10, 10)
	total := 123456.78
	s.UpdateBalances(map[string]balances.Summary{
		"0xaaa": {HoldingsTotalUSD: &total, TokenCount: 4},
	}, time.Now().Unix())
	snap := s.Snapshot()
	for _, w := range snap.Whales {
		if w.Address == "0xaaa" {
			if w.HoldingsTotalUSD == nil || *w.HoldingsTotalUSD != total {
				t.Fatalf("holdings not applied: %+v", w)
			}
		}
		if w.HoldingsUpdatedAt == nil {
			t.Fatalf("every watched address gets an updated-at stamp")
		}
	}
}

func TestAddWatchAddresses(t *testing.T) {
	s := NewState(testWatchlist(), 10, 10)
	added := s.AddWatchAddresses([]model.WatchAddress{
		{Chain: "ethereum", Address: "0xAAA"}, // duplicate
		{Chain: "base", Address: "0xNEW", Label: "discovered_1", Category: "discovered"},
	})
	if added != 1 {
		t.Fatalf("one new address expected, got %d", added)
	}
	snap := s.Snapshot()
	if snap.WatchCount != 3 {
		t.Fatalf("watch count: %d", snap.WatchCount)
	}
	foundChain := false
	for _, c := range snap.FiltersMeta.AvailableChains {
		if c == "base" {
			foundChain = true
		}
	}
	if !foundChain {
		t.Fatalf("new chain should appear in filters meta: %v", snap.FiltersMeta.AvailableChains)
	}
}

func TestWhaleSortByLastAlert(t *testing.T) {
	s := NewState(testWatchlist(), 10, 10)
	now := time.Now().Unix()
	s.IngestAlert(mkAlert("k", "solana", "transfer", 9_000_000, now, "SoLBBB"))
	snap := s.Snapshot()
	if snap.Whales[0].Address != "solbbb" {
		t.Fatalf("alerted whale should sort first: %+v", snap.Whales[0])
	}
}

func TestSeaStateTiers(t *testing.T) {
	s := NewState(testWatchlist(), 200, 200)
	now := time.Now().Unix()
	// Enough recent high-value events to push score_15m past the storm line.
	for i := 0; i < 10; i++ {
		s.IngestAlert(mkAlert(string(rune('a'+i)), "ethereum", "bridge_out", 50_000_000, now, "0xAAA"))
	}
	snap := s.Snapshot()
	if snap.SeaState.Tier != "storm" {
		t.Fatalf("tier = %q, score_15m = %v", snap.SeaState.Tier, snap.SeaState.Score15M)
	}
	if snap.SeaState.Events5M != 10 {
		t.Fatalf("events_5m = %d", snap.SeaState.Events5M)
	}
}
