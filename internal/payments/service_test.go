package payments_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	billingapp "civicsync/internal/billing/application"
	billing "civicsync/internal/billing/domain"
	"civicsync/internal/billing/infrastructure/memory"
	"civicsync/internal/layoutcache"
	"civicsync/internal/payments"
	registryapp "civicsync/internal/registry/application"
	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

type stubPaymentBackend struct {
	mu           sync.Mutex
	initiateResp upstream.PaymentResponse
	initiateErr  error
	initiateGate chan struct{}
	status       string
	statusErr    error
	confirmed    []string
}

func (b *stubPaymentBackend) InitiatePayment(ctx context.Context, accountID, serviceType, consumerID string) (upstream.PaymentResponse, error) {
	b.mu.Lock()
	gate := b.initiateGate
	resp, err := b.initiateResp, b.initiateErr
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return upstream.PaymentResponse{}, ctx.Err()
		}
	}
	return resp, err
}

func (b *stubPaymentBackend) PaymentStatus(ctx context.Context, sessionID string) (upstream.PaymentSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statusErr != nil {
		return upstream.PaymentSession{}, b.statusErr
	}
	return upstream.PaymentSession{Status: b.status}, nil
}

func (b *stubPaymentBackend) ConfirmPayment(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	b.confirmed = append(b.confirmed, sessionID)
	b.mu.Unlock()
	return nil
}

type stubBillFetcher struct {
	mu     sync.Mutex
	result upstream.BillResult
	calls  int
}

func (f *stubBillFetcher) FetchBill(ctx context.Context, serviceType, consumerID, numberPlate string) (upstream.BillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, nil
}

type noopProfileStore struct{}

func (noopProfileStore) ListProfiles(ctx context.Context) ([]registry.Profile, error) {
	return nil, nil
}
func (noopProfileStore) CreateProfile(ctx context.Context, name string) (registry.Profile, error) {
	return registry.Profile{}, nil
}
func (noopProfileStore) DeleteProfile(ctx context.Context, profileID string) error { return nil }
func (noopProfileStore) AddAccount(ctx context.Context, profileID string, draft registry.AccountDraft) (registry.Account, error) {
	return registry.Account{}, nil
}
func (noopProfileStore) RemoveAccount(ctx context.Context, profileID, accountID string) error {
	return nil
}

type fixture struct {
	backend *stubPaymentBackend
	fetcher *stubBillFetcher
	store   *memory.Store
	cache   *layoutcache.Cache
	service *payments.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := &stubPaymentBackend{
		initiateResp: upstream.PaymentResponse{Success: true, SessionID: "up-77", QRCodeBase64: "cXI="},
	}
	fetcher := &stubBillFetcher{result: upstream.BillResult{Status: "unpaid", AmountDue: 640}}

	store := memory.NewStore()
	orch, err := billingapp.NewOrchestrator(fetcher, store, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	reg, err := registryapp.NewService(noopProfileStore{}, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	reg.Seed([]registry.Account{
		{ID: "acct-1", ServiceType: registry.ServicePower, ConsumerID: "111", ProfileID: "prof-1"},
	})
	store.Put("acct-1", billing.Snapshot{Status: billing.StatusUnpaid, AmountDue: 640, FetchedAt: time.Now().UTC()})

	cache, err := layoutcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	service, err := payments.NewService(backend, orch, reg, cache)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	t.Cleanup(service.Close)

	return &fixture{backend: backend, fetcher: fetcher, store: store, cache: cache, service: service}
}

func waitForSession(t *testing.T, service *payments.Service, id string, cond func(payments.Session) bool) payments.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := service.Session(id)
		if err != nil {
			t.Fatalf("session %s: %v", id, err)
		}
		if cond(session) {
			return session
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached expected state", id)
	return payments.Session{}
}

func TestInitiateReturnsBeforeReferenceArrives(t *testing.T) {
	f := newFixture(t)
	f.backend.initiateGate = make(chan struct{})

	session, err := f.service.Initiate(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if session.State != payments.StateAwaitingConfirmation {
		t.Fatalf("unexpected initial state: %s", session.State)
	}
	if session.QRReady {
		t.Fatalf("reference must not be ready before the backend responds")
	}

	close(f.backend.initiateGate)
	settled := waitForSession(t, f.service, session.ID, func(s payments.Session) bool { return s.QRReady })
	if settled.QRCodeBase64 != "cXI=" || settled.UpstreamID != "up-77" {
		t.Fatalf("reference not attached: %+v", settled)
	}
}

func TestInitiateUnknownAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.service.Initiate(context.Background(), "nope"); !errors.Is(err, payments.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConfirmAppliesOptimisticPaidTransition(t *testing.T) {
	f := newFixture(t)

	session, err := f.service.Initiate(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	waitForSession(t, f.service, session.ID, func(s payments.Session) bool { return s.QRReady })

	confirmed, err := f.service.Confirm(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.State != payments.StatePendingSettlement {
		t.Fatalf("confirm must land in pending settlement, got %s", confirmed.State)
	}

	snap, ok := f.store.Get("acct-1")
	if !ok || snap.Status != billing.StatusPaid || snap.AmountDue != 0 {
		t.Fatalf("optimistic transition must zero the snapshot immediately, got %+v", snap)
	}

	persisted := f.cache.Load()
	if persisted == nil {
		t.Fatalf("confirm must persist the layout")
	}
	if got := persisted.BillData["acct-1"]; got.Status != billing.StatusPaid {
		t.Fatalf("persisted layout must carry the paid snapshot, got %+v", got)
	}
}

func TestConfirmUnknownSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.service.Confirm(context.Background(), "pay-missing"); !errors.Is(err, payments.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestReconcilerPromotesSettledSession(t *testing.T) {
	f := newFixture(t)
	f.backend.status = "completed"

	session, _ := f.service.Initiate(context.Background(), "acct-1")
	waitForSession(t, f.service, session.ID, func(s payments.Session) bool { return s.QRReady })
	if _, err := f.service.Confirm(context.Background(), session.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	payments.NewReconciler(f.service, time.Second).RunOnce(context.Background())

	final, _ := f.service.Session(session.ID)
	if final.State != payments.StatePaid {
		t.Fatalf("settled session must be promoted to paid, got %s", final.State)
	}
}

func TestReconcilerRevertsContradictedSession(t *testing.T) {
	f := newFixture(t)
	f.backend.status = "failed"

	session, _ := f.service.Initiate(context.Background(), "acct-1")
	waitForSession(t, f.service, session.ID, func(s payments.Session) bool { return s.QRReady })
	if _, err := f.service.Confirm(context.Background(), session.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	payments.NewReconciler(f.service, time.Second).RunOnce(context.Background())

	final, _ := f.service.Session(session.ID)
	if final.State != payments.StateReverted {
		t.Fatalf("contradicted session must be reverted, got %s", final.State)
	}

	// The snapshot is repopulated from a real fetch, not guessed.
	snap, _ := f.store.Get("acct-1")
	if snap.Status != billing.StatusUnpaid || snap.AmountDue != 640 {
		t.Fatalf("revert must re-fetch the real bill, got %+v", snap)
	}
	f.fetcher.mu.Lock()
	calls := f.fetcher.calls
	f.fetcher.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one revert re-fetch, got %d", calls)
	}
}

func TestReconcilerKeepsUnverifiableSessionPaid(t *testing.T) {
	f := newFixture(t)
	f.backend.initiateErr = errors.New("gateway down")
	f.backend.initiateResp = upstream.PaymentResponse{}

	session, _ := f.service.Initiate(context.Background(), "acct-1")
	// The reference fetch fails; the session never gains an upstream id.
	time.Sleep(20 * time.Millisecond)
	if _, err := f.service.Confirm(context.Background(), session.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	payments.NewReconciler(f.service, time.Second).RunOnce(context.Background())

	final, _ := f.service.Session(session.ID)
	if final.State != payments.StatePaid {
		t.Fatalf("unverifiable session keeps its optimistic paid state, got %s", final.State)
	}
}

func TestReconcilerLeavesPendingSessionAlone(t *testing.T) {
	f := newFixture(t)
	f.backend.status = "pending"

	session, _ := f.service.Initiate(context.Background(), "acct-1")
	waitForSession(t, f.service, session.ID, func(s payments.Session) bool { return s.QRReady })
	if _, err := f.service.Confirm(context.Background(), session.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	payments.NewReconciler(f.service, time.Second).RunOnce(context.Background())

	final, _ := f.service.Session(session.ID)
	if final.State != payments.StatePendingSettlement {
		t.Fatalf("an unsettled session stays pending, got %s", final.State)
	}
}
