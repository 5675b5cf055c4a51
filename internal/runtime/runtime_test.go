package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/model"
)

const watchedAddr = "0x1111111111111111111111111111111111111111"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWatchlist(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "watchlist.json")
	content := `[{"chain": "ethereum", "address": "` + watchedAddr + `", "label": "watched"}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeLedger serves just enough of the vendor API for a poll cycle and a geo
// refresh to run against it.
func fakeLedger(t *testing.T, transactions any) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, payload any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/developer/wallet/transactions", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, transactions)
	})
	mux.HandleFunc("/api/v1/developer/wallet/balances", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, []any{})
	})
	mux.HandleFunc("/api/v1/explorer/queries", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"id": "q1"})
	})
	mux.HandleFunc("/api/v1/explorer/queries/q1/run-async", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"run_id": "r1"})
	})
	mux.HandleFunc("/api/v1/explorer/query-runs/r1/status", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"status": "success"})
	})
	mux.HandleFunc("/api/v1/explorer/query-runs/r1/results", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"data": []any{}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Ledger.BaseURL = baseURL
	cfg.Ledger.APIKey = "test-key"
	cfg.Ledger.MinRequestIntervalMS = 1
	cfg.Ledger.TimeoutSeconds = 5
	cfg.Watchlist.Path = writeWatchlist(t, dir)
	cfg.Dedupe.DSN = "file:" + filepath.Join(dir, "alerts.db")
	cfg.Geo.CachePath = filepath.Join(dir, "geo.json")
	cfg.Poller.DiscoverCounterparties = false
	return cfg
}

func TestPollNowFeedsAlertLogAndState(t *testing.T) {
	now := time.Now().Unix()
	payload := []any{map[string]any{
		"address": watchedAddr,
		"items": []any{map[string]any{
			"transaction_hash": "0xbig",
			"chain":            "ethereum",
			"activity_type":    "transfer",
			"from_address":     watchedAddr,
			"to_address":       "0x2222222222222222222222222222222222222222",
			"usd_value":        float64(5_000_000),
			"block_timestamp":  float64(now - 10),
		}},
	}}
	server := fakeLedger(t, payload)
	rt, err := New(testConfig(t, server.URL), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.close()
	if err := rt.store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := rt.PollNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	recent := rt.RecentAlerts(0)
	if len(recent) != 1 || recent[0].TxID != "0xbig" {
		t.Fatalf("alert log should carry the emitted alert: %+v", recent)
	}
	snap := rt.state.Snapshot()
	if len(snap.Alerts) != 1 {
		t.Fatalf("dashboard should ingest the alert: %d", len(snap.Alerts))
	}

	if got := rt.RecentAlerts(1); len(got) != 1 {
		t.Fatalf("limit should cap the log read: %d", len(got))
	}
}

func TestDiscoveredAddressGetsGeoRow(t *testing.T) {
	server := fakeLedger(t, []any{})
	rt, err := New(testConfig(t, server.URL), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.close()

	discovered := model.WatchAddress{
		Chain:    "ethereum",
		Address:  "0x3333333333333333333333333333333333333333",
		Label:    "discovered_1",
		Category: "discovered",
	}
	rt.state.AddWatchAddresses([]model.WatchAddress{discovered})
	rt.resolveDiscoveredGeo(discovered)

	snap := rt.state.Snapshot()
	if snap.GeoCount < 1 {
		t.Fatalf("discovered address should be placed before the next scheduled refresh")
	}
	found := false
	for _, w := range snap.Whales {
		if w.Address == discovered.Address {
			found = true
			if w.Lat == nil || w.Lon == nil {
				t.Fatalf("discovered whale has no coordinates: %+v", w)
			}
		}
	}
	if !found {
		t.Fatalf("discovered whale missing from snapshot: %+v", snap.Whales)
	}
}
