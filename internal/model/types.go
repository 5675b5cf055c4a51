package model

import "strings"

// WatchAddress is one monitored address. chain + lowercased address is the
// identity key; entries are only ever appended, never removed.
type WatchAddress struct {
	Chain    string `json:"chain" yaml:"chain"`
	Address  string `json:"address" yaml:"address"`
	Label    string `json:"label" yaml:"label"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Key returns the identity key for a watch address.
func (w WatchAddress) Key() string {
	return w.Chain + ":" + strings.ToLower(w.Address)
}

// AddressRef is the shape the ledger API expects for address batches.
type AddressRef struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// TokenRef identifies a token for price lookups.
type TokenRef struct {
	Chain        string `json:"chain"`
	TokenAddress string `json:"token_address"`
}

// NormalizedTransaction is one flattened ledger record. A raw row carrying
// several asset transfers explodes into one record per transfer, each tagged
// with its TransferIndex so dedupe keys stay distinct.
type NormalizedTransaction struct {
	TxID          string         `json:"tx_id"`
	Chain         string         `json:"chain"`
	TxType        string         `json:"tx_type"`
	FromAddress   string         `json:"from_address,omitempty"`
	ToAddress     string         `json:"to_address,omitempty"`
	TokenAddress  string         `json:"token_address,omitempty"`
	TokenSymbol   string         `json:"token_symbol,omitempty"`
	Amount        *float64       `json:"amount,omitempty"`
	USDValue      *float64       `json:"usd_value,omitempty"`
	Timestamp     *int64         `json:"timestamp,omitempty"`
	TransferIndex int            `json:"transfer_index"`
	WatchAddress  string         `json:"watch_address,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// PriceQuote is a token price. Cached entries older than the cache TTL are
// treated as absent.
type PriceQuote struct {
	Chain        string  `json:"chain"`
	TokenAddress string  `json:"token_address"`
	Price        float64 `json:"price"`
	Symbol       string  `json:"symbol,omitempty"`
	FetchedAt    int64   `json:"fetched_at"`
}

// Entity describes a party involved in an alert.
type Entity struct {
	Address     string   `json:"address"`
	DisplayName string   `json:"display_name"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Alert is the immutable output of the alert builder.
type Alert struct {
	DedupeKey      string             `json:"dedupe_key"`
	Text           string             `json:"text"`
	USDValue       float64            `json:"usd_value"`
	Score          float64            `json:"score"`
	ScoreReasons   []string           `json:"score_reasons,omitempty"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
	TxID           string             `json:"tx_id"`
	Chain          string             `json:"chain"`
	TxType         string             `json:"tx_type"`
	Timestamp      *int64             `json:"timestamp,omitempty"`
	WatchAddress   string             `json:"watch_address,omitempty"`
	FromAddress    string             `json:"from_address,omitempty"`
	ToAddress      string             `json:"to_address,omitempty"`
	TokenSymbol    string             `json:"token_symbol,omitempty"`
	TokenAddress   string             `json:"token_address,omitempty"`
	Amount         *float64           `json:"amount,omitempty"`
	Entities       map[string]Entity  `json:"entities,omitempty"`
	DeepLink       string             `json:"deep_link,omitempty"`
	Raw            map[string]any     `json:"raw,omitempty"`
}

// GeoRow is one entry of the geo cache file. Lat/Lon are always populated,
// from vendor data, a country centroid, or the deterministic hash fallback.
type GeoRow struct {
	Address        string   `json:"address"`
	PrimaryCountry string   `json:"primary_country,omitempty"`
	PrimaryRegion  string   `json:"primary_region,omitempty"`
	Score          *float64 `json:"score,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	Source         string   `json:"source"`
}

// GeoPoint is one endpoint of a map event. GeoSource records placement
// provenance: "geo" (vendor data), "pseudo" (hash of the address), or
// "anchored" (pseudo recomputed as an offset from the opposite endpoint).
type GeoPoint struct {
	Address    string  `json:"address"`
	Label      string  `json:"label,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Country    string  `json:"country,omitempty"`
	Region     string  `json:"region,omitempty"`
	Confidence string  `json:"confidence,omitempty"`
	GeoSource  string  `json:"geo_source"`
}

// MapEvent is the ephemeral projection of an alert for the dashboard map.
type MapEvent struct {
	EventID        string             `json:"event_id"`
	Timestamp      *int64             `json:"timestamp,omitempty"`
	Chain          string             `json:"chain"`
	TxID           string             `json:"tx_id"`
	TxType         string             `json:"tx_type"`
	EventType      string             `json:"event_type"`
	Effect         string             `json:"effect"`
	Severity       string             `json:"severity"`
	Score          float64            `json:"score"`
	ScoreModel     float64            `json:"score_model"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
	ScoreReasons   []string           `json:"score_reasons,omitempty"`
	USDValue       float64            `json:"usd_value"`
	TokenSymbol    string             `json:"token_symbol,omitempty"`
	TokenAddress   string             `json:"token_address,omitempty"`
	Amount         *float64           `json:"amount,omitempty"`
	FromAddress    string             `json:"from_address,omitempty"`
	ToAddress      string             `json:"to_address,omitempty"`
	WatchAddress   string             `json:"watch_address,omitempty"`
	Source         *GeoPoint          `json:"source,omitempty"`
	Target         *GeoPoint          `json:"target,omitempty"`
	Entities       map[string]Entity  `json:"entities,omitempty"`
	DeepLink       string             `json:"deep_link,omitempty"`
	Text           string             `json:"text,omitempty"`
}
