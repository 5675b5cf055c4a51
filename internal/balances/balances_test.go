package balances

import (
	"testing"
)

func TestSummarizeScalesRawBalance(t *testing.T) {
	payload := []any{
		map[string]any{
			"address": "0xWallet",
			"balances": []any{
				map[string]any{
					"token_symbol": "USDC",
					"raw_balance":  float64(1_500_000_000),
					"decimals":     float64(6),
					"price_usd":    float64(1.0),
				},
			},
		},
	}
	out := Summarize(payload)
	summary, ok := out["0xwallet"]
	if !ok {
		t.Fatalf("wallet key should be lowercased: %v", out)
	}
	if summary.HoldingsTotalUSD == nil || *summary.HoldingsTotalUSD != 1500.0 {
		t.Fatalf("raw 1.5e9 at 6 decimals and $1 = $1500, got %v", summary.HoldingsTotalUSD)
	}
	if summary.TokenCount != 1 {
		t.Fatalf("token count: %d", summary.TokenCount)
	}
	if len(summary.TopHoldings) != 1 || summary.TopHoldings[0].Amount == nil || *summary.TopHoldings[0].Amount != 1500.0 {
		t.Fatalf("top holding amount wrong: %+v", summary.TopHoldings)
	}
}

func TestSummarizeDropsJunkRows(t *testing.T) {
	payload := []any{
		map[string]any{
			"address": "0xwallet",
			"items": []any{
				// Spam token with absurd price.
				map[string]any{"symbol": "SCAM", "amount": 10.0, "price": float64(5_000_000)},
				// Below tracking floor.
				map[string]any{"symbol": "DUST", "usd_value": 0.001},
				// Above the usd ceiling.
				map[string]any{"symbol": "GLITCH", "usd_value": 2e11},
				// Legitimate.
				map[string]any{"symbol": "ETH", "amount": 2.0, "price": float64(3000)},
			},
		},
	}
	out := Summarize(payload)
	summary := out["0xwallet"]
	if summary.TokenCount != 1 {
		t.Fatalf("only the legitimate row survives, got %d", summary.TokenCount)
	}
	if summary.HoldingsTotalUSD == nil || *summary.HoldingsTotalUSD != 6000 {
		t.Fatalf("total = %v, want 6000", summary.HoldingsTotalUSD)
	}
}

func TestSummarizeTopHoldingsRankedAndCapped(t *testing.T) {
	items := []any{
		map[string]any{"symbol": "A", "usd_value": 100.0},
		map[string]any{"symbol": "B", "usd_value": 400.0},
		map[string]any{"symbol": "C", "usd_value": 300.0},
		map[string]any{"symbol": "D", "usd_value": 200.0},
	}
	payload := []any{map[string]any{"address": "0xw", "tokens": items}}
	summary := Summarize(payload)["0xw"]
	if summary.TokenCount != 4 {
		t.Fatalf("token count: %d", summary.TokenCount)
	}
	if len(summary.TopHoldings) != 3 {
		t.Fatalf("top holdings cap at 3: %d", len(summary.TopHoldings))
	}
	if summary.TopHoldings[0].Symbol != "B" || summary.TopHoldings[1].Symbol != "C" || summary.TopHoldings[2].Symbol != "D" {
		t.Fatalf("ranking wrong: %+v", summary.TopHoldings)
	}
}

func TestSummarizeEmptyWalletHasNilTotal(t *testing.T) {
	payload := []any{map[string]any{"address": "0xw", "items": []any{
		map[string]any{"symbol": "DUST", "usd_value": 0.001},
	}}}
	out := Summarize(payload)
	if summary, ok := out["0xw"]; ok && summary.HoldingsTotalUSD != nil {
		t.Fatalf("no accepted rows must not produce a total: %+v", summary)
	}
}

func TestSummarizeWrappedPayload(t *testing.T) {
	payload := map[string]any{
		"wallets": []any{
			map[string]any{
				"address":  "0xa",
				"holdings": []any{map[string]any{"symbol": "ETH", "usd_value": 500.0}},
			},
		},
	}
	summary, ok := Summarize(payload)["0xa"]
	if !ok || summary.TokenCount != 1 {
		t.Fatalf("wrapped payload not flattened: %+v", summary)
	}
}
