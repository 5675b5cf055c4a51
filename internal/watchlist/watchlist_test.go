package watchlist

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFlatListJSON(t *testing.T) {
	path := writeTemp(t, "watch.json", `[
		{"chain": "Ethereum", "address": "0xAAA", "label": "Fund A", "category": "fund"},
		{"chain": "solana", "address": "SoL1", "name": "Fund B"},
		{"chain": "", "address": "0xskip"},
		{"chain": "base", "address": ""}
	]`)
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Chain != "ethereum" {
		t.Fatalf("chain must lowercase: %q", got[0].Chain)
	}
	if got[1].Label != "Fund B" {
		t.Fatalf("name alias not honored: %q", got[1].Label)
	}
}

func TestLoadNestedMapYAML(t *testing.T) {
	path := writeTemp(t, "watch.yaml", `
ethereum:
  exchange:
    Binance Hot: "0xbbb"
    Kraken Cold: "0xccc"
  fund:
    - address: "0xddd"
      label: Fund D
solana:
  - SoLPlainAddress111111
`)
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
	byAddr := make(map[string]string)
	byCat := make(map[string]string)
	for _, w := range got {
		byAddr[w.Address] = w.Label
		byCat[w.Address] = w.Category
	}
	if byAddr["0xbbb"] != "Binance Hot" || byCat["0xbbb"] != "exchange" {
		t.Fatalf("label->address map entry wrong: %v %v", byAddr["0xbbb"], byCat["0xbbb"])
	}
	if byAddr["0xddd"] != "Fund D" || byCat["0xddd"] != "fund" {
		t.Fatalf("list entry wrong")
	}
	if byAddr["SoLPlainAddress111111"] != "SoLPlainAddress111111" {
		t.Fatalf("bare string entries label as themselves")
	}
}

func TestLoadDeduplicates(t *testing.T) {
	path := writeTemp(t, "watch.json", `[
		{"chain": "ethereum", "address": "0xAAA", "label": "first"},
		{"chain": "ethereum", "address": "0xaaa", "label": "second"}
	]`)
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("case-insensitive duplicates must collapse: %d", len(got))
	}
	if got[0].Label != "second" {
		t.Fatalf("last occurrence wins: %q", got[0].Label)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("missing file must error")
	}
}

func TestLoadScalarPayload(t *testing.T) {
	path := writeTemp(t, "watch.yaml", `42`)
	if _, err := Load(path); err == nil {
		t.Fatalf("scalar payload must error")
	}
}
