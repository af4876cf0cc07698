package charts

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

// HistoryBackend is the upstream billing-history capability.
type HistoryBackend interface {
	BillingHistory(ctx context.Context, serviceType, consumerID string) ([]upstream.HistoryEntry, error)
}

// HistoryReader serves per-account billing history with a TTL memo so
// repeated chart renders do not re-walk the upstream portals.
type HistoryReader struct {
	backend HistoryBackend
	memo    *gocache.Cache
}

// NewHistoryReader constructs a reader with the given memo TTL.
func NewHistoryReader(backend HistoryBackend, ttl time.Duration) (*HistoryReader, error) {
	if backend == nil {
		return nil, errors.New("charts: nil history backend")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &HistoryReader{
		backend: backend,
		memo:    gocache.New(ttl, 2*ttl),
	}, nil
}

// History returns the ordered billing history for an account.
func (r *HistoryReader) History(ctx context.Context, account registry.Account) ([]upstream.HistoryEntry, error) {
	key := historyKey(account)
	if cached, ok := r.memo.Get(key); ok {
		if history, ok := cached.([]upstream.HistoryEntry); ok {
			return history, nil
		}
	}
	history, err := r.backend.BillingHistory(ctx, string(account.ServiceType), account.ConsumerID)
	if err != nil {
		return nil, fmt.Errorf("charts: history for %s: %w", account.ID, err)
	}
	r.memo.SetDefault(key, history)
	return history, nil
}

// EvictAccount drops any memoized history for a removed account.
func (r *HistoryReader) EvictAccount(account registry.Account) {
	r.memo.Delete(historyKey(account))
}

func historyKey(account registry.Account) string {
	return string(account.ServiceType) + "_" + account.ConsumerID
}
