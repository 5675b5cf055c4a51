package watchlist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"whalewatch/internal/model"
)

// Load reads a watchlist file. YAML and JSON are both accepted (yaml.v3
// parses JSON as a subset). Two shapes are supported: a flat list of
// watch entries, or a nested chain -> category -> label: address map.
// Duplicate chain:address pairs collapse to the last occurrence.
func Load(path string) ([]model.WatchAddress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse watchlist %s: %w", path, err)
	}

	var records []model.WatchAddress
	switch v := payload.(type) {
	case []any:
		records = fromFlatList(v)
	case map[string]any:
		records = fromNestedMap(v)
	default:
		return nil, fmt.Errorf("watchlist %s: expected a list or a map", path)
	}

	deduped := make(map[string]int, len(records))
	out := make([]model.WatchAddress, 0, len(records))
	for _, item := range records {
		key := item.Key()
		if i, ok := deduped[key]; ok {
			out[i] = item
			continue
		}
		deduped[key] = len(out)
		out = append(out, item)
	}
	return out, nil
}

func fromFlatList(data []any) []model.WatchAddress {
	var records []model.WatchAddress
	for _, item := range data {
		row, ok := toStringMap(item)
		if !ok {
			continue
		}
		chain := strings.ToLower(strings.TrimSpace(asString(row["chain"])))
		address := strings.TrimSpace(asString(row["address"]))
		if chain == "" || address == "" {
			continue
		}
		label := asString(row["label"])
		if label == "" {
			label = asString(row["name"])
		}
		if label == "" {
			label = address
		}
		records = append(records, model.WatchAddress{
			Chain:    chain,
			Address:  address,
			Label:    label,
			Category: asString(row["category"]),
		})
	}
	return records
}

func fromNestedMap(data map[string]any) []model.WatchAddress {
	var records []model.WatchAddress
	appendEntry := func(chain, category string, entry any) {
		var address, label string
		if row, ok := toStringMap(entry); ok {
			address = strings.TrimSpace(asString(row["address"]))
			label = asString(row["label"])
			if label == "" {
				label = asString(row["name"])
			}
			if category == "" {
				category = asString(row["category"])
			}
		} else {
			address = strings.TrimSpace(asString(entry))
		}
		if address == "" {
			return
		}
		if label == "" {
			label = address
		}
		records = append(records, model.WatchAddress{
			Chain:    chain,
			Address:  address,
			Label:    label,
			Category: category,
		})
	}

	for chain, groups := range data {
		chainName := strings.ToLower(strings.TrimSpace(chain))
		switch g := groups.(type) {
		case map[string]any:
			for category, entries := range g {
				switch e := entries.(type) {
				case map[string]any:
					for label, address := range e {
						addr := strings.TrimSpace(asString(address))
						if addr == "" {
							continue
						}
						records = append(records, model.WatchAddress{
							Chain:    chainName,
							Address:  addr,
							Label:    label,
							Category: category,
						})
					}
				case []any:
					for _, entry := range e {
						appendEntry(chainName, category, entry)
					}
				}
			}
		case []any:
			for _, entry := range g {
				appendEntry(chainName, "", entry)
			}
		}
	}
	return records
}

// toStringMap converts yaml.v3's map[any]any decoding of nested maps.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
