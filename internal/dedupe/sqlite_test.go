package dedupe

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "alerts.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSQLiteMarkAndCheck(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := "ethereum:0xabc:transfer"

	seen, err := store.HasSeen(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatalf("fresh key must be unseen")
	}
	if err := store.MarkSeen(ctx, key); err != nil {
		t.Fatal(err)
	}
	seen, err = store.HasSeen(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatalf("marked key must read back as seen")
	}

	other, err := store.HasSeen(ctx, "ethereum:0xdef:transfer")
	if err != nil {
		t.Fatal(err)
	}
	if other {
		t.Fatalf("unrelated key must stay unseen")
	}
}

func TestSQLiteMarkSeenIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := "solana:sig123:dex_swap:2"
	for i := 0; i < 3; i++ {
		if err := store.MarkSeen(ctx, key); err != nil {
			t.Fatalf("repeat mark %d: %v", i, err)
		}
	}
	seen, err := store.HasSeen(ctx, key)
	if err != nil || !seen {
		t.Fatalf("seen=%v err=%v", seen, err)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "alerts.db")

	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkSeen(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLite(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if err := reopened.Init(ctx); err != nil {
		t.Fatal(err)
	}
	seen, err := reopened.HasSeen(ctx, "k1")
	if err != nil || !seen {
		t.Fatalf("key must survive a restart: seen=%v err=%v", seen, err)
	}
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStore("dynamodb", ""); err == nil {
		t.Fatalf("unknown driver must error")
	}
}
