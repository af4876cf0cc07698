package layoutcache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	billing "civicsync/internal/billing/domain"
	"civicsync/internal/layoutcache"
	registry "civicsync/internal/registry/domain"
)

func sampleLayout() ([]registry.Account, map[string]billing.Snapshot) {
	accounts := []registry.Account{
		{ID: "a1", ServiceType: registry.ServicePower, ConsumerID: "111", ProfileID: "prof-1"},
	}
	bills := map[string]billing.Snapshot{
		"a1": {Status: billing.StatusUnpaid, AmountDue: 420.50, FetchedAt: time.Now().UTC()},
	}
	return accounts, bills
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cache, err := layoutcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	accounts, bills := sampleLayout()
	cache.Save(accounts, bills)

	snap := cache.Load()
	if snap == nil {
		t.Fatalf("expected a fresh snapshot")
	}
	if len(snap.Accounts) != 1 || snap.Accounts[0].ID != "a1" {
		t.Fatalf("unexpected accounts: %+v", snap.Accounts)
	}
	if got := snap.BillData["a1"]; got.AmountDue != 420.50 {
		t.Fatalf("unexpected bill data: %+v", got)
	}
	if snap.Timestamp.IsZero() {
		t.Fatalf("snapshot must carry its write time")
	}
}

func TestLoadDiscardsStaleSnapshotWhole(t *testing.T) {
	cache, err := layoutcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	written := time.Now().UTC()
	cache.SetClock(func() time.Time { return written })
	accounts, bills := sampleLayout()
	cache.Save(accounts, bills)

	// Two hours old: still fresh.
	cache.SetClock(func() time.Time { return written.Add(2 * time.Hour) })
	if cache.Load() == nil {
		t.Fatalf("a 2h-old snapshot is inside the freshness window")
	}

	// Past the window: the whole snapshot is discarded, accounts
	// included, never partially trusted.
	cache.SetClock(func() time.Time { return written.Add(layoutcache.DefaultMaxAge + time.Minute) })
	if cache.Load() != nil {
		t.Fatalf("a snapshot past the freshness window must be discarded")
	}
}

func TestLoadReturnsNilWhenAbsentOrMalformed(t *testing.T) {
	dir := t.TempDir()
	cache, err := layoutcache.New(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if cache.Load() != nil {
		t.Fatalf("missing snapshot must load as nil")
	}

	if err := os.WriteFile(filepath.Join(dir, "layout_snapshot.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write malformed snapshot: %v", err)
	}
	if cache.Load() != nil {
		t.Fatalf("malformed snapshot must load as nil")
	}
}

func TestSaveSwallowsStorageFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	cache, err := layoutcache.New(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	// MkdirAll fails under a plain file; Save must not panic or error
	// out to the caller.
	accounts, bills := sampleLayout()
	cache.Save(accounts, bills)

	if cache.Load() != nil {
		t.Fatalf("nothing should have been persisted")
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	cache, err := layoutcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	accounts, bills := sampleLayout()
	cache.Save(accounts, bills)

	bills["a1"] = billing.Paid(time.Now().UTC())
	cache.Save(accounts, bills)

	snap := cache.Load()
	if snap == nil {
		t.Fatalf("expected a snapshot")
	}
	if got := snap.BillData["a1"]; got.Status != billing.StatusPaid || got.AmountDue != 0 {
		t.Fatalf("latest save must win, got %+v", got)
	}
}
