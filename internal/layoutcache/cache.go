package layoutcache

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	billing "civicsync/internal/billing/domain"
	"civicsync/internal/observability/metrics"
	registry "civicsync/internal/registry/domain"
)

const snapshotFile = "layout_snapshot.json"

// DefaultMaxAge is the freshness window; a snapshot older than this is
// discarded whole, never partially trusted.
const DefaultMaxAge = 24 * time.Hour

// Snapshot is the single persisted layout record.
type Snapshot struct {
	Accounts  []registry.Account          `json:"accounts"`
	BillData  map[string]billing.Snapshot `json:"bill_data"`
	Timestamp time.Time                   `json:"timestamp"`
}

// Cache is a time-boxed local snapshot of {accounts, bill statuses}
// used only to seed the initial render before the network responds.
// Storage failures are swallowed: caching is an optimization, not a
// correctness requirement.
type Cache struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

// New constructs a cache rooted at dir.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("layoutcache: empty storage dir")
	}
	return &Cache{dir: dir, maxAge: DefaultMaxAge, now: time.Now}, nil
}

// SetMaxAge overrides the freshness window.
func (c *Cache) SetMaxAge(maxAge time.Duration) {
	if maxAge > 0 {
		c.maxAge = maxAge
	}
}

// SetClock overrides the clock, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Save writes a snapshot with the current timestamp. Errors are logged
// and otherwise ignored.
func (c *Cache) Save(accounts []registry.Account, billData map[string]billing.Snapshot) {
	snap := Snapshot{
		Accounts:  accounts,
		BillData:  billData,
		Timestamp: c.now().UTC(),
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		metrics.ObserveCacheSave(metrics.ResultError)
		log.Printf("layoutcache: encode snapshot: %v", err)
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		metrics.ObserveCacheSave(metrics.ResultError)
		log.Printf("layoutcache: create dir: %v", err)
		return
	}
	target := filepath.Join(c.dir, snapshotFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		metrics.ObserveCacheSave(metrics.ResultError)
		log.Printf("layoutcache: write snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		metrics.ObserveCacheSave(metrics.ResultError)
		log.Printf("layoutcache: replace snapshot: %v", err)
		return
	}
	metrics.ObserveCacheSave(metrics.ResultSuccess)
}

// Load returns the stored snapshot, or nil if it is absent, malformed,
// or older than the freshness window.
func (c *Cache) Load() *Snapshot {
	payload, err := os.ReadFile(filepath.Join(c.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			metrics.ObserveCacheLoad("miss")
		} else {
			metrics.ObserveCacheLoad("error")
			log.Printf("layoutcache: read snapshot: %v", err)
		}
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		metrics.ObserveCacheLoad("error")
		log.Printf("layoutcache: decode snapshot: %v", err)
		return nil
	}
	if snap.Timestamp.IsZero() || c.now().Sub(snap.Timestamp) > c.maxAge {
		metrics.ObserveCacheLoad("stale")
		return nil
	}
	metrics.ObserveCacheLoad("hit")
	return &snap
}
