package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"whalewatch/internal/model"
)

// Field aliases tolerated across the vendor's payload shapes. Extraction
// checks the transfer sub-record first, then the row, then nested objects.
var (
	nestedListKeys   = []string{"items", "transactions", "data", "activities", "events"}
	txTypeKeys       = []string{"activity_type", "type", "event_type", "operation", "kind"}
	chainKeys        = []string{"chain", "network", "source_chain"}
	tokenAddressKeys = []string{"token_address", "mint", "asset_address", "contract_address"}
	tokenNestedKeys  = []string{"address", "token_address", "mint"}
	symbolKeys       = []string{"token_symbol", "symbol", "asset_symbol", "currency"}
	symbolNestedKeys = []string{"symbol", "ticker"}
	txIDKeys         = []string{"transaction_hash", "tx_hash", "hash", "signature", "id"}
	timestampKeys    = []string{"block_timestamp", "timestamp", "time", "created_at"}
	usdKeys          = []string{"usd_value", "value_usd", "amount_usd", "valueUsd", "usd"}
	fromKeys         = []string{"from_address", "sender", "from", "source_address"}
	toKeys           = []string{"to_address", "receiver", "to", "destination_address"}
	amountKeys       = []string{"token_amount", "amount", "quantity", "value", "raw_amount", "amount_raw"}
)

type flatRow struct {
	watchAddress string
	row          map[string]any
}

// Transactions flattens an arbitrary ledger payload into normalized records.
// Rows that cannot be interpreted are skipped; the function never fails.
func Transactions(payload any, chainByAddress map[string]string) []model.NormalizedTransaction {
	out := make([]model.NormalizedTransaction, 0)
	for _, fr := range flatten(payload) {
		tx := fr.row
		fallbackChain := ""
		if fr.watchAddress != "" {
			fallbackChain = chainByAddress[strings.ToLower(fr.watchAddress)]
		}
		chain := extractChain(tx, fallbackChain)
		txID := extractTxID(tx)
		ts := extractTimestamp(tx)

		for _, entry := range transferEntries(tx) {
			raw := make(map[string]any, len(tx)+2)
			for k, v := range tx {
				raw[k] = v
			}
			if entry.index >= 0 {
				raw["asset_transfer_index"] = entry.index
			}
			if entry.transfer != nil {
				raw["asset_transfer"] = entry.transfer
			}
			out = append(out, model.NormalizedTransaction{
				TxID:          txID,
				Chain:         chain,
				TxType:        inferTxType(tx, entry.transfer),
				FromAddress:   extractSide(tx, entry.transfer, fromKeys),
				ToAddress:     extractSide(tx, entry.transfer, toKeys),
				TokenAddress:  extractTokenAddress(tx, entry.transfer),
				TokenSymbol:   extractSymbol(tx, entry.transfer),
				Amount:        extractAmount(tx, entry.transfer),
				USDValue:      extractUSDValue(tx, entry.transfer),
				Timestamp:     ts,
				TransferIndex: entry.index,
				WatchAddress:  fr.watchAddress,
				Raw:           raw,
			})
		}
	}
	return out
}

func flatten(payload any) []flatRow {
	var out []flatRow
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				continue
			}
			watched, _ := row["address"].(string)
			var nested []any
			for _, key := range nestedListKeys {
				if list, ok := row[key].([]any); ok {
					nested = list
					break
				}
			}
			if nested == nil {
				out = append(out, flatRow{watchAddress: watched, row: row})
				continue
			}
			for _, tx := range nested {
				if txRow, ok := tx.(map[string]any); ok {
					out = append(out, flatRow{watchAddress: watched, row: txRow})
				}
			}
		}
	case map[string]any:
		for _, key := range nestedListKeys {
			if list, ok := v[key].([]any); ok {
				for _, tx := range list {
					if txRow, ok := tx.(map[string]any); ok {
						watched, _ := txRow["address"].(string)
						out = append(out, flatRow{watchAddress: watched, row: txRow})
					}
				}
				return out
			}
		}
		out = append(out, flatRow{row: v})
	}
	return out
}

type transferEntry struct {
	index    int
	transfer map[string]any
}

func transferEntries(tx map[string]any) []transferEntry {
	transfers, ok := tx["asset_transfers"].([]any)
	if !ok {
		return []transferEntry{{index: -1}}
	}
	var rows []transferEntry
	for i, item := range transfers {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, transferEntry{index: i, transfer: m})
		}
	}
	if len(rows) == 0 {
		return []transferEntry{{index: -1}}
	}
	return rows
}

func firstTransfer(tx map[string]any) map[string]any {
	for _, entry := range transferEntries(tx) {
		if entry.transfer != nil {
			return entry.transfer
		}
	}
	return nil
}

func pickString(data map[string]any, keys []string) string {
	if data == nil {
		return ""
	}
	for _, key := range keys {
		if v, ok := data[key].(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func pickFloat(data map[string]any, keys []string) *float64 {
	if data == nil {
		return nil
	}
	for _, key := range keys {
		if v := ToFloat(data[key]); v != nil {
			return v
		}
	}
	return nil
}

func subObject(data map[string]any, key string) map[string]any {
	if data == nil {
		return nil
	}
	m, _ := data[key].(map[string]any)
	return m
}

func inferTxType(tx, transfer map[string]any) string {
	txType := pickString(transfer, txTypeKeys)
	if txType == "" {
		txType = pickString(tx, txTypeKeys)
	}
	if txType == "" {
		txType = "transfer"
	}
	return strings.ToLower(txType)
}

func extractChain(tx map[string]any, fallback string) string {
	chain := pickString(tx, chainKeys)
	if chain == "" {
		chain = fallback
	}
	if chain == "" {
		chain = "unknown"
	}
	return strings.ToLower(chain)
}

func extractTokenAddress(tx, transfer map[string]any) string {
	if v := pickString(transfer, tokenAddressKeys); v != "" {
		return v
	}
	if asset := subObject(transfer, "asset"); asset != nil {
		if v := pickString(asset, tokenNestedKeys); v != "" {
			return v
		}
	}
	if v := pickString(tx, tokenAddressKeys); v != "" {
		return v
	}
	if token := subObject(tx, "token"); token != nil {
		if v := pickString(token, tokenNestedKeys); v != "" {
			return v
		}
	}
	if asset := subObject(firstTransfer(tx), "asset"); asset != nil {
		if v := pickString(asset, tokenNestedKeys); v != "" {
			return v
		}
	}
	return ""
}

func extractSymbol(tx, transfer map[string]any) string {
	if v := pickString(transfer, symbolKeys); v != "" {
		return v
	}
	if asset := subObject(transfer, "asset"); asset != nil {
		if v := pickString(asset, symbolNestedKeys); v != "" {
			return v
		}
	}
	if v := pickString(tx, symbolKeys); v != "" {
		return v
	}
	if token := subObject(tx, "token"); token != nil {
		if v := pickString(token, symbolNestedKeys); v != "" {
			return v
		}
	}
	if asset := subObject(firstTransfer(tx), "asset"); asset != nil {
		if v := pickString(asset, symbolNestedKeys); v != "" {
			return v
		}
	}
	return ""
}

func extractTxID(tx map[string]any) string {
	if v := pickString(tx, txIDKeys); v != "" {
		return v
	}
	return "tx_" + ShortHash(tx)
}

func extractTimestamp(tx map[string]any) *int64 {
	for _, key := range timestampKeys {
		if ts := ParseTimestamp(tx[key]); ts != nil {
			return ts
		}
	}
	return nil
}

func extractUSDValue(tx, transfer map[string]any) *float64 {
	usdNested := []string{"usd_value", "value_usd", "amount_usd", "usd"}
	if amount := subObject(transfer, "amount"); amount != nil {
		if v := pickFloat(amount, usdNested); v != nil {
			return v
		}
	}
	if v := pickFloat(transfer, usdNested); v != nil {
		return v
	}
	if v := pickFloat(tx, usdKeys); v != nil {
		return v
	}
	if token := subObject(tx, "token"); token != nil {
		if v := pickFloat(token, []string{"usd_value", "value_usd", "price_usd"}); v != nil {
			return v
		}
	}
	if amount := subObject(firstTransfer(tx), "amount"); amount != nil {
		if v := pickFloat(amount, usdNested); v != nil {
			return v
		}
	}
	return nil
}

func extractAmount(tx, transfer map[string]any) *float64 {
	if amount := subObject(transfer, "amount"); amount != nil {
		if v := pickFloat(amount, []string{"amount", "raw_amount"}); v != nil {
			return v
		}
	}
	if v := pickFloat(transfer, []string{"amount", "quantity", "value"}); v != nil {
		return v
	}
	if v := pickFloat(tx, amountKeys); v != nil {
		return v
	}
	if token := subObject(tx, "token"); token != nil {
		if v := pickFloat(token, []string{"amount", "quantity", "balance_change"}); v != nil {
			return v
		}
		if raw := pickFloat(token, []string{"raw_amount", "raw_balance"}); raw != nil {
			if dec := pickFloat(token, []string{"decimals"}); dec != nil && *dec >= 0 && *dec <= 36 {
				scaled := *raw / math.Pow(10, *dec)
				return &scaled
			}
			return raw
		}
	}
	ft := firstTransfer(tx)
	if amount := subObject(ft, "amount"); amount != nil {
		if v := pickFloat(amount, []string{"amount", "raw_amount"}); v != nil {
			return v
		}
	}
	if v := pickFloat(ft, []string{"amount", "quantity", "value"}); v != nil {
		return v
	}
	return nil
}

func extractSide(tx, transfer map[string]any, keys []string) string {
	if v := pickString(transfer, keys); v != "" {
		return v
	}
	if v := pickString(tx, keys); v != "" {
		return v
	}
	if v := pickString(firstTransfer(tx), keys); v != "" {
		return v
	}
	return ""
}

// ToFloat coerces strings (commas tolerated), ints and floats. Anything else
// yields nil.
func ToFloat(value any) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
		return nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if cleaned == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return &f
		}
		return nil
	default:
		return nil
	}
}

// ParseTimestamp accepts unix seconds, unix milliseconds (detected by
// magnitude) and ISO-8601 strings, returning unix seconds UTC.
func ParseTimestamp(value any) *int64 {
	switch v := value.(type) {
	case float64:
		return unixSeconds(int64(v))
	case int:
		return unixSeconds(int64(v))
	case int64:
		return unixSeconds(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return unixSeconds(n)
		}
		if f, err := v.Float64(); err == nil {
			return unixSeconds(int64(f))
		}
		return nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return nil
		}
		if isDigits(raw) {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return unixSeconds(n)
			}
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, raw); err == nil {
				ts := t.UTC().Unix()
				return &ts
			}
		}
		return nil
	default:
		return nil
	}
}

func unixSeconds(ts int64) *int64 {
	if ts > 10_000_000_000 {
		ts = ts / 1000
	}
	return &ts
}

func isDigits(s string) bool {
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ShortHash produces a stable 16-hex-char digest of a row's sorted key/value
// pairs, used when the vendor omits a transaction id.
func ShortHash(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, data[k])
	}
	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])[:16]
}
