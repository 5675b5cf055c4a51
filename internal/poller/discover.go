package poller

import (
	"fmt"
	"strings"

	"whalewatch/internal/model"
)

const discoveredCategory = "discovered"

// evmChains are the chains whose addresses must be 0x + 40 hex chars.
var evmChains = map[string]bool{
	"ethereum":  true,
	"base":      true,
	"arbitrum":  true,
	"optimism":  true,
	"polygon":   true,
	"bsc":       true,
	"avalanche": true,
}

func isHex(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// plausibleAddress filters junk counterparties. On EVM chains only
// 0x + 40 hex chars passes; elsewhere a 0x-prefixed value must still be a
// full EVM address, and anything else just needs enough length to not be a
// truncated or placeholder value.
func plausibleAddress(chain, address string) bool {
	evmShaped := strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X")
	if evmChains[strings.ToLower(chain)] || evmShaped {
		return evmShaped && len(address) == 42 && isHex(address[2:])
	}
	return len(address) >= 20
}

// maybeDiscover promotes a large transaction's counterparties into the
// watchlist, up to the configured cap. Both endpoints are considered; the
// watch address itself, already-watched addresses and implausible values are
// ignored.
func (p *Poller) maybeDiscover(tx model.NormalizedTransaction, usd float64) {
	if !p.discover || usd < p.discoverMinUSD {
		return
	}
	watched := strings.ToLower(strings.TrimSpace(tx.WatchAddress))
	for _, candidate := range []string{tx.FromAddress, tx.ToAddress} {
		address := strings.ToLower(strings.TrimSpace(candidate))
		if address == "" || address == watched || !plausibleAddress(tx.Chain, address) {
			continue
		}
		p.discoverOne(tx.Chain, address, usd)
	}
}

func (p *Poller) discoverOne(chain, address string, usd float64) {
	key := chain + ":" + address

	p.watchMu.Lock()
	if _, watched := p.watchByKey[key]; watched {
		p.watchMu.Unlock()
		return
	}
	if p.discoveredCount >= p.discoverMax {
		p.watchMu.Unlock()
		return
	}
	p.discoveredCount++
	watch := model.WatchAddress{
		Chain:    chain,
		Address:  address,
		Label:    fmt.Sprintf("discovered_%d", p.discoveredCount),
		Category: discoveredCategory,
	}
	p.addWatchLocked(watch)
	p.watchMu.Unlock()

	p.logger.Info("discovered counterparty",
		"chain", watch.Chain, "address", watch.Address, "usd_value", usd)
	if p.onDiscover != nil {
		p.onDiscover(watch)
	}
}
