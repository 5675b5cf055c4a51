package events

import (
	"crypto/sha256"
	"math"
	"strings"
	"time"

	"whalewatch/internal/model"
)

// EventType buckets a raw transaction type for map rendering. The set is
// closed; anything unrecognized falls back to TransferLarge.
type EventType string

const (
	BridgeMove    EventType = "bridge_move"
	DexSwap       EventType = "dex_swap"
	Burn          EventType = "burn"
	Mint          EventType = "mint"
	LPEvent       EventType = "lp_event"
	TransferLarge EventType = "transfer_large"
)

// Classify maps a raw tx type onto the closed event-type set. Total: every
// input classifies.
func Classify(txType string) EventType {
	t := strings.ToLower(txType)
	switch {
	case strings.Contains(t, "bridge"):
		return BridgeMove
	case strings.Contains(t, "trade"), strings.Contains(t, "swap"):
		return DexSwap
	case strings.Contains(t, "burn"):
		return Burn
	case strings.Contains(t, "mint"):
		return Mint
	case strings.Contains(t, "liquidity"), strings.Contains(t, "lp_"):
		return LPEvent
	default:
		return TransferLarge
	}
}

// Effect names the visual animation for an event type.
func Effect(eventType EventType) string {
	switch eventType {
	case BridgeMove:
		return "arc"
	case DexSwap:
		return "spiral"
	case Burn:
		return "collapse"
	case Mint:
		return "fountain"
	case LPEvent:
		return "surge"
	default:
		return "ripple"
	}
}

// Multiplier weights the model score by event type.
func Multiplier(eventType EventType) float64 {
	switch eventType {
	case BridgeMove:
		return 1.25
	case DexSwap:
		return 1.2
	case Burn:
		return 1.15
	case Mint:
		return 1.1
	case LPEvent:
		return 1.05
	default:
		return 1.0
	}
}

// SeverityForUSD buckets a dollar value into the map's sea-state bands.
func SeverityForUSD(usd float64) string {
	switch {
	case usd >= 1_000_000:
		return "storm"
	case usd >= 100_000:
		return "rough"
	default:
		return "calm"
	}
}

// ModelScore is the type-weighted magnitude score with linear age decay
// (floor 0.35 after an hour). Events without a timestamp do not decay.
func ModelScore(eventType EventType, usd float64, now time.Time, eventTS *int64) float64 {
	if usd < 0 {
		usd = 0
	}
	score := math.Log10(usd+10) * 10 * Multiplier(eventType)
	if eventTS != nil && *eventTS > 0 {
		age := now.Unix() - *eventTS
		if age < 0 {
			age = 0
		}
		decay := 1.0 - float64(age)/3600.0
		if decay < 0.35 {
			decay = 0.35
		}
		score *= decay
	}
	return math.Round(score*100) / 100
}

// PseudoLatLon derives a deterministic placement for an address with no geo
// data: first digest byte spans latitude [-70, 70], second spans longitude
// [-180, 180].
func PseudoLatLon(address string) (float64, float64) {
	digest := sha256.Sum256([]byte(address))
	lat := float64(digest[0])/255.0*140.0 - 70.0
	lon := float64(digest[1])/255.0*360.0 - 180.0
	return lat, lon
}

// AnchoredLatLon re-derives a pseudo placement as a small deterministic
// offset from a geolocated opposite endpoint, so arcs stay regional. Latitude
// clamps to ±84; longitude wraps.
func AnchoredLatLon(address string, anchorLat, anchorLon float64) (float64, float64) {
	digest := sha256.Sum256([]byte(address + ":anchor"))
	lat := anchorLat + (float64(digest[0])/255.0-0.5)*8.0
	lon := anchorLon + (float64(digest[1])/255.0-0.5)*12.0
	if lat > 84 {
		lat = 84
	}
	if lat < -84 {
		lat = -84
	}
	if lon > 180 {
		lon -= 360
	}
	if lon < -180 {
		lon += 360
	}
	return lat, lon
}

func addressPoint(address string, geoByAddress map[string]model.GeoRow, watchByAddress map[string]model.WatchAddress) *model.GeoPoint {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if normalized == "" {
		return nil
	}
	point := &model.GeoPoint{Address: normalized}
	if row, ok := geoByAddress[normalized]; ok && row.Source != "" {
		point.Lat = row.Lat
		point.Lon = row.Lon
		point.Country = row.PrimaryCountry
		point.Region = row.PrimaryRegion
		point.Confidence = row.Confidence
		point.GeoSource = "geo"
	} else {
		point.Lat, point.Lon = PseudoLatLon(normalized)
		point.GeoSource = "pseudo"
	}
	if watch, ok := watchByAddress[normalized]; ok {
		point.Label = watch.Label
	}
	return point
}

// BuildMapEvent projects an alert onto the map. Endpoint placement prefers
// real geo data, falls back to pseudo placement, and anchors a pseudo side
// next to a geolocated opposite side when one exists.
func BuildMapEvent(alert model.Alert, now time.Time, geoByAddress map[string]model.GeoRow, watchByAddress map[string]model.WatchAddress) model.MapEvent {
	eventType := Classify(alert.TxType)

	sourceAddr := alert.FromAddress
	if sourceAddr == "" {
		sourceAddr = alert.WatchAddress
	}
	source := addressPoint(sourceAddr, geoByAddress, watchByAddress)
	target := addressPoint(alert.ToAddress, geoByAddress, watchByAddress)
	if source == nil {
		for _, addr := range []string{alert.WatchAddress, alert.FromAddress, alert.ToAddress} {
			if source = addressPoint(addr, geoByAddress, watchByAddress); source != nil {
				break
			}
		}
	}
	if target == nil {
		target = source
	}

	if source != nil && target != nil && source != target {
		if source.GeoSource == "pseudo" && target.GeoSource == "geo" {
			source.Lat, source.Lon = AnchoredLatLon(source.Address, target.Lat, target.Lon)
			source.GeoSource = "anchored"
		}
		if target.GeoSource == "pseudo" && (source.GeoSource == "geo" || source.GeoSource == "anchored") {
			target.Lat, target.Lon = AnchoredLatLon(target.Address, source.Lat, source.Lon)
			target.GeoSource = "anchored"
		}
	}

	if source != nil {
		if entity, ok := alert.Entities[source.Address]; ok && entity.DisplayName != "" {
			source.Label = entity.DisplayName
		}
	}
	if target != nil && target != source {
		if entity, ok := alert.Entities[target.Address]; ok && entity.DisplayName != "" {
			target.Label = entity.DisplayName
		}
	}

	modelScore := ModelScore(eventType, alert.USDValue, now, alert.Timestamp)
	finalScore := modelScore
	if alert.Score > 0 {
		finalScore = math.Round(alert.Score*100) / 100
	}

	return model.MapEvent{
		EventID:        alert.DedupeKey,
		Timestamp:      alert.Timestamp,
		Chain:          alert.Chain,
		TxID:           alert.TxID,
		TxType:         alert.TxType,
		EventType:      string(eventType),
		Effect:         Effect(eventType),
		Severity:       SeverityForUSD(alert.USDValue),
		Score:          finalScore,
		ScoreModel:     modelScore,
		ScoreBreakdown: alert.ScoreBreakdown,
		ScoreReasons:   alert.ScoreReasons,
		USDValue:       alert.USDValue,
		TokenSymbol:    alert.TokenSymbol,
		TokenAddress:   alert.TokenAddress,
		Amount:         alert.Amount,
		FromAddress:    alert.FromAddress,
		ToAddress:      alert.ToAddress,
		WatchAddress:   alert.WatchAddress,
		Source:         source,
		Target:         target,
		Entities:       alert.Entities,
		DeepLink:       alert.DeepLink,
		Text:           alert.Text,
	}
}
