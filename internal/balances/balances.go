package balances

import (
	"math"
	"sort"
	"strings"

	"whalewatch/internal/normalize"
)

// Sanity bounds. Vendor balance feeds occasionally carry junk rows (spam
// tokens priced absurdly); rows outside these bounds are dropped rather than
// poisoning wallet totals.
const (
	maxTokenUSD    = 100_000_000_000.0
	minTokenUSD    = 0.01
	maxTokenPrice  = 1_000_000.0
	maxTokenAmount = 1_000_000_000_000_000.0
)

// Holding is one token position within a wallet.
type Holding struct {
	Symbol       string   `json:"symbol,omitempty"`
	TokenAddress string   `json:"token_address,omitempty"`
	USDValue     float64  `json:"usd_value"`
	Amount       *float64 `json:"amount,omitempty"`
	PriceUSD     *float64 `json:"price_usd,omitempty"`
}

// Summary aggregates a wallet's accepted holdings. HoldingsTotalUSD is nil
// when nothing usable was found, so the dashboard can show "unknown" instead
// of zero.
type Summary struct {
	HoldingsTotalUSD *float64  `json:"holdings_total_usd"`
	TokenCount       int       `json:"holdings_token_count"`
	TopHoldings      []Holding `json:"top_holdings"`
}

type balanceRow struct {
	watchAddress string
	row          map[string]any
}

var nestedTokenKeys = []string{"items", "balances", "data", "tokens", "assets", "holdings"}

// Summarize flattens an arbitrary balances payload into per-wallet summaries
// keyed by lowercased address. Unusable rows are skipped silently.
func Summarize(payload any) map[string]Summary {
	type accum struct {
		total    float64
		holdings []Holding
	}
	byAddress := make(map[string]*accum)

	for _, br := range flattenRows(payload) {
		wallet := walletAddress(br)
		if wallet == "" {
			continue
		}
		usd := tokenUSDValue(br.row)
		if usd == nil || *usd < minTokenUSD || *usd > maxTokenUSD {
			continue
		}
		amount := tokenAmount(br.row)
		if amount != nil && (*amount < 0 || *amount > maxTokenAmount) {
			continue
		}
		price := tokenPrice(br.row)
		if price != nil && (*price <= 0 || *price > maxTokenPrice) {
			continue
		}
		acc, ok := byAddress[wallet]
		if !ok {
			acc = &accum{}
			byAddress[wallet] = acc
		}
		acc.total += *usd
		acc.holdings = append(acc.holdings, Holding{
			Symbol:       tokenSymbol(br.row),
			TokenAddress: tokenAddress(br.row),
			USDValue:     *usd,
			Amount:       amount,
			PriceUSD:     price,
		})
	}

	out := make(map[string]Summary, len(byAddress))
	for address, acc := range byAddress {
		sort.Slice(acc.holdings, func(i, j int) bool {
			return acc.holdings[i].USDValue > acc.holdings[j].USDValue
		})
		summary := Summary{TokenCount: len(acc.holdings)}
		if total := math.Round(acc.total*100) / 100; total > 0 && len(acc.holdings) > 0 {
			summary.HoldingsTotalUSD = &total
		}
		top := acc.holdings
		if len(top) > 3 {
			top = top[:3]
		}
		summary.TopHoldings = top
		out[address] = summary
	}
	return out
}

func flattenRows(payload any) []balanceRow {
	var out []balanceRow
	expand := func(item map[string]any) {
		watched := normalizeAddress(stringValue(item["address"]))
		for _, key := range nestedTokenKeys {
			if list, ok := item[key].([]any); ok {
				for _, token := range list {
					if row, ok := token.(map[string]any); ok {
						out = append(out, balanceRow{watchAddress: watched, row: row})
					}
				}
				return
			}
		}
		out = append(out, balanceRow{watchAddress: watched, row: item})
	}
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			if row, ok := item.(map[string]any); ok {
				expand(row)
			}
		}
	case map[string]any:
		for _, key := range []string{"items", "balances", "data", "wallets", "accounts"} {
			if list, ok := v[key].([]any); ok {
				for _, item := range list {
					if row, ok := item.(map[string]any); ok {
						expand(row)
					}
				}
				return out
			}
		}
		out = append(out, balanceRow{row: v})
	}
	return out
}

func walletAddress(br balanceRow) string {
	if br.watchAddress != "" {
		return br.watchAddress
	}
	return normalizeAddress(pickString(br.row,
		"wallet_address", "owner_address", "holder_address", "account_address", "address"))
}

func tokenSymbol(row map[string]any) string {
	if v := pickString(row, "token_symbol", "symbol", "ticker", "currency"); v != "" {
		return v
	}
	for _, key := range []string{"token", "asset"} {
		if nested, ok := row[key].(map[string]any); ok {
			if v := pickString(nested, "symbol", "ticker"); v != "" {
				return v
			}
			if info, ok := nested["info"].(map[string]any); ok {
				if v := pickString(info, "symbol", "ticker"); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func tokenAddress(row map[string]any) string {
	if v := pickString(row, "token_address", "asset_address", "contract_address", "mint"); v != "" {
		return v
	}
	for _, key := range []string{"token", "asset"} {
		if nested, ok := row[key].(map[string]any); ok {
			if v := pickString(nested, "address", "token_address", "mint"); v != "" {
				return v
			}
		}
	}
	return ""
}

// tokenAmount prefers a human amount; raw integer balances are scaled down by
// the token's decimals when those are plausible.
func tokenAmount(row map[string]any) *float64 {
	if v := pickFloat(row, "amount", "balance", "quantity", "token_amount"); v != nil {
		return v
	}
	if amount, ok := row["amount"].(map[string]any); ok {
		if v := pickFloat(amount, "amount", "raw_amount"); v != nil {
			return v
		}
	}
	if raw := pickFloat(row, "raw_balance", "raw_balance_str"); raw != nil {
		if dec := tokenDecimals(row); dec != nil && *dec >= 0 && *dec <= 36 {
			scaled := *raw / math.Pow(10, float64(*dec))
			return &scaled
		}
		return raw
	}
	return nil
}

func tokenDecimals(row map[string]any) *int {
	if v := pickFloat(row, "decimals"); v != nil {
		d := int(*v)
		return &d
	}
	for _, key := range []string{"token", "asset"} {
		if nested, ok := row[key].(map[string]any); ok {
			if v := pickFloat(nested, "decimals"); v != nil {
				d := int(*v)
				return &d
			}
		}
	}
	return nil
}

func tokenPrice(row map[string]any) *float64 {
	if v := pickFloat(row, "price_usd", "usd_price", "price"); v != nil {
		return v
	}
	for _, key := range []string{"token", "asset"} {
		if nested, ok := row[key].(map[string]any); ok {
			if v := pickFloat(nested, "price", "price_usd", "usd_price"); v != nil {
				return v
			}
			if attrs, ok := nested["attributes"].(map[string]any); ok {
				if v := pickFloat(attrs, "price", "price_usd", "usd_price"); v != nil {
					return v
				}
			}
		}
	}
	return nil
}

func tokenUSDValue(row map[string]any) *float64 {
	if v := pickFloat(row, "usd_value", "balance_usd", "value_usd", "amount_usd", "usd", "usd_balance", "usdBalance"); v != nil {
		return v
	}
	if amount, ok := row["amount"].(map[string]any); ok {
		if v := pickFloat(amount, "usd_value", "value_usd", "amount_usd", "usd"); v != nil {
			return v
		}
	}
	amount := tokenAmount(row)
	price := tokenPrice(row)
	if amount != nil && price != nil {
		usd := *amount * *price
		return &usd
	}
	return nil
}

func pickString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := row[key].(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func pickFloat(row map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v := normalize.ToFloat(row[key]); v != nil {
			return v
		}
	}
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
