package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	billing "civicsync/internal/billing/domain"
	"civicsync/internal/billing/infrastructure/memory"
	"civicsync/internal/eventbus"
	"civicsync/internal/observability/metrics"
	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

// BillFetcher is the upstream capability the orchestrator consumes.
type BillFetcher interface {
	FetchBill(ctx context.Context, serviceType, consumerID, numberPlate string) (upstream.BillResult, error)
}

// SnapshotUpdated is published after a snapshot is applied to the store.
type SnapshotUpdated struct {
	AccountID  string
	Snapshot   billing.Snapshot
	OccurredAt time.Time
}

// Orchestrator issues one independent fetch per account and merges
// results without blocking on each other. One account's failure never
// prevents, delays, or invalidates another account's result.
type Orchestrator struct {
	fetcher BillFetcher
	store   *memory.Store
	bus     eventbus.Bus
	group   singleflight.Group
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(fetcher BillFetcher, store *memory.Store, bus eventbus.Bus) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("orchestrator: nil fetcher")
	}
	if store == nil {
		return nil, errors.New("orchestrator: nil store")
	}
	return &Orchestrator{fetcher: fetcher, store: store, bus: bus}, nil
}

// Store exposes the snapshot store for read-side collaborators.
func (o *Orchestrator) Store() *memory.Store {
	return o.store
}

// Sync fetches bills for every account that has no snapshot yet. An
// account that already holds a snapshot, including an error snapshot,
// is not retried; only an explicit Refresh retries it. Fetches run
// concurrently; Sync returns once all of them have settled.
func (o *Orchestrator) Sync(ctx context.Context, accounts []registry.Account) {
	var wg sync.WaitGroup
	for _, account := range accounts {
		if _, ok := o.store.Get(account.ID); ok {
			continue
		}
		if o.store.InFlight(account.ID) {
			continue
		}
		wg.Add(1)
		go func(account registry.Account) {
			defer wg.Done()
			o.fetchOne(ctx, account)
		}(account)
	}
	wg.Wait()
}

// Refresh re-runs the single-account flow and always supersedes the
// stored snapshot, success or failure. Concurrent refreshes for the
// same account id are coalesced; the survivors all observe the single
// fetch's result.
func (o *Orchestrator) Refresh(ctx context.Context, account registry.Account) billing.Snapshot {
	result, _, _ := o.group.Do(account.ID, func() (any, error) {
		return o.fetchOne(ctx, account), nil
	})
	snap, ok := result.(billing.Snapshot)
	if !ok {
		return billing.Failed(time.Now().UTC())
	}
	return snap
}

// Evict drops all local fetch state for an account id. Outstanding
// fetches for it will discard their results.
func (o *Orchestrator) Evict(accountID string) {
	o.store.Evict(accountID)
	metrics.SetInFlightFetches(len(o.store.InFlightIDs()))
}

// fetchOne performs one account fetch and applies the result. The
// generation observed before the call guards against applying a late
// response for an account that was removed meanwhile.
func (o *Orchestrator) fetchOne(ctx context.Context, account registry.Account) billing.Snapshot {
	start := time.Now()
	generation := o.store.Generation(account.ID)

	o.store.SetInFlight(account.ID, true)
	metrics.SetInFlightFetches(len(o.store.InFlightIDs()))

	result, err := o.fetcher.FetchBill(ctx, string(account.ServiceType), account.ConsumerID, account.NumberPlate)
	now := time.Now().UTC()

	// Clear the in-flight flag before publishing so subscribers observe
	// a settled state.
	o.store.SetInFlight(account.ID, false)
	metrics.SetInFlightFetches(len(o.store.InFlightIDs()))

	var snap billing.Snapshot
	if err != nil {
		metrics.ObserveBillFetch(string(account.ServiceType), metrics.ResultError, time.Since(start))
		if ctx.Err() != nil {
			// The consuming view is gone; discard rather than record a
			// failure it will never see.
			return billing.Failed(now)
		}
		snap = billing.Failed(now)
	} else {
		metrics.ObserveBillFetch(string(account.ServiceType), metrics.ResultSuccess, time.Since(start))
		snap = billing.Snapshot{
			Status:        billing.NormalizeStatus(result.Status),
			AmountDue:     result.AmountDue,
			UnitsConsumed: result.UnitsConsumed,
			ConsumerName:  result.ConsumerName,
			DueDate:       result.DueDate,
			BillingPeriod: result.BillingPeriod,
			FetchedAt:     now,
		}
	}

	if !o.store.PutIfCurrent(account.ID, generation, snap) {
		return snap
	}
	o.publish(ctx, account.ID, snap)
	return snap
}

// Apply writes a snapshot directly, used by the payment applier for
// its optimistic transition.
func (o *Orchestrator) Apply(ctx context.Context, accountID string, snap billing.Snapshot) {
	o.store.Put(accountID, snap)
	o.publish(ctx, accountID, snap)
}

func (o *Orchestrator) publish(ctx context.Context, accountID string, snap billing.Snapshot) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(ctx, SnapshotUpdated{
		AccountID:  accountID,
		Snapshot:   snap,
		OccurredAt: time.Now().UTC(),
	})
}
