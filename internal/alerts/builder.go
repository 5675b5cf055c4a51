package alerts

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"whalewatch/internal/model"
	"whalewatch/internal/score"
)

// Builder turns a priced, scored transaction into an emit-ready alert.
type Builder struct {
	DashboardBaseURL string
}

// DedupeKey is stable across restarts: chain:tx_id:tx_type, with the transfer
// index appended when one transaction fans out into several transfers.
func DedupeKey(tx model.NormalizedTransaction) string {
	key := fmt.Sprintf("%s:%s:%s", tx.Chain, tx.TxID, tx.TxType)
	if tx.TransferIndex >= 0 {
		key += ":" + strconv.Itoa(tx.TransferIndex)
	}
	return key
}

func (b *Builder) Build(tx model.NormalizedTransaction, watch model.WatchAddress, usd float64, result score.Result, entities map[string]model.Entity) model.Alert {
	alert := model.Alert{
		DedupeKey:      DedupeKey(tx),
		Text:           b.text(tx, watch, usd),
		USDValue:       usd,
		Score:          result.Score,
		ScoreReasons:   result.Reasons,
		ScoreBreakdown: result.Breakdown,
		TxID:           tx.TxID,
		Chain:          tx.Chain,
		TxType:         tx.TxType,
		Timestamp:      tx.Timestamp,
		WatchAddress:   tx.WatchAddress,
		FromAddress:    tx.FromAddress,
		ToAddress:      tx.ToAddress,
		TokenSymbol:    tx.TokenSymbol,
		TokenAddress:   tx.TokenAddress,
		Amount:         tx.Amount,
		Entities:       entities,
		Raw:            tx.Raw,
	}
	if b.DashboardBaseURL != "" {
		alert.DeepLink = fmt.Sprintf("%s/#/tx/%s/%s",
			strings.TrimRight(b.DashboardBaseURL, "/"), tx.Chain, tx.TxID)
	}
	return alert
}

func (b *Builder) text(tx model.NormalizedTransaction, watch model.WatchAddress, usd float64) string {
	emoji, phrase := describeTxType(tx.TxType)
	label := watch.Label
	if label == "" {
		label = shortAddr(tx.WatchAddress)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s on %s: %s", emoji, phrase, strings.ToUpper(tx.Chain), label)
	if tx.Amount != nil && tx.TokenSymbol != "" {
		fmt.Fprintf(&sb, " moved %s %s", formatAmount(*tx.Amount), tx.TokenSymbol)
	}
	fmt.Fprintf(&sb, " (%s)", FormatUSD(usd))
	if tx.FromAddress != "" && tx.ToAddress != "" {
		fmt.Fprintf(&sb, " %s -> %s", shortAddr(tx.FromAddress), shortAddr(tx.ToAddress))
	}
	return sb.String()
}

func describeTxType(txType string) (string, string) {
	t := strings.ToLower(txType)
	switch {
	case strings.Contains(t, "bridge"):
		return "🌉", "Bridge move"
	case strings.Contains(t, "swap"), strings.Contains(t, "trade"):
		return "🔄", "Large swap"
	case strings.Contains(t, "burn"):
		return "🔥", "Token burn"
	case strings.Contains(t, "mint"):
		return "✨", "Token mint"
	case strings.Contains(t, "lp"), strings.Contains(t, "liquidity"):
		return "💧", "Liquidity event"
	default:
		return "🐋", "Whale transfer"
	}
}

func shortAddr(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-6:]
}

// formatAmount renders a token amount with thousands separators, trimming
// decimals for large values.
func formatAmount(amount float64) string {
	abs := math.Abs(amount)
	var s string
	switch {
	case abs >= 1000:
		s = strconv.FormatFloat(amount, 'f', 0, 64)
	case abs >= 1:
		s = strconv.FormatFloat(amount, 'f', 2, 64)
	default:
		s = strconv.FormatFloat(amount, 'f', 6, 64)
	}
	return groupThousands(s)
}

// FormatUSD renders a dollar value like $12,345,678.
func FormatUSD(usd float64) string {
	return "$" + groupThousands(strconv.FormatFloat(math.Round(usd), 'f', 0, 64))
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}
	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	out := sb.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// EntitiesForWatch maps labeled, categorized endpoints of a transaction to
// entity annotations; exchange-category watches carry the "exchange" tag used
// by the scorer.
func EntitiesForWatch(tx model.NormalizedTransaction, watchlist map[string]model.WatchAddress) map[string]model.Entity {
	entities := make(map[string]model.Entity)
	for _, addr := range []string{tx.FromAddress, tx.ToAddress} {
		if addr == "" {
			continue
		}
		watch, ok := watchlist[tx.Chain+":"+strings.ToLower(addr)]
		if !ok || watch.Label == "" {
			continue
		}
		entity := model.Entity{Address: strings.ToLower(addr), DisplayName: watch.Label, Category: watch.Category}
		if cat := strings.ToLower(watch.Category); strings.Contains(cat, "exchange") || strings.Contains(cat, "cex") {
			entity.Tags = append(entity.Tags, "exchange")
		}
		entities[strings.ToLower(addr)] = entity
	}
	return entities
}
