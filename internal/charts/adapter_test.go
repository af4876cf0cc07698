package charts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	billing "civicsync/internal/billing/domain"
	"civicsync/internal/charts"
	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

type stubChartBackend struct {
	charts upstream.ChartData
	err    error
	calls  int
}

func (b *stubChartBackend) ChartData(ctx context.Context, accounts []registry.Account, billData map[string]any) (upstream.ChartData, error) {
	b.calls++
	if b.err != nil {
		return upstream.ChartData{}, b.err
	}
	return b.charts, nil
}

type inflightFlag bool

func (f inflightFlag) AnyInFlight() bool { return bool(f) }

func auth(status string, amount float64) billing.Snapshot {
	return billing.Snapshot{Status: status, AmountDue: amount, FetchedAt: time.Now().UTC()}
}

func TestComputeRefusesMidSync(t *testing.T) {
	backend := &stubChartBackend{}
	adapter, err := charts.NewAdapter(backend, inflightFlag(true))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	_, err = adapter.Compute(context.Background(), nil, nil)
	if !errors.Is(err, charts.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatalf("mid-sync compute must not reach the backend")
	}
}

func TestComputePrefersBackendSeries(t *testing.T) {
	backend := &stubChartBackend{charts: upstream.ChartData{
		ComparisonData: []upstream.ComparisonBucket{{Service: "KSEB", Amount: 900, Fill: "#d97706"}},
		TrendData:      []map[string]any{{"month": "Jul", "kseb": 450.0}},
		TrendLines:     []upstream.TrendLine{{Key: "kseb", Color: "#d97706", Label: "KSEB"}},
	}}
	adapter, err := charts.NewAdapter(backend, inflightFlag(false))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	data, err := adapter.Compute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(data.TrendData) != 1 || len(data.TrendLines) != 1 {
		t.Fatalf("backend trend series must be relayed, got %+v", data)
	}
}

func TestComputeFallsBackWithoutTrendData(t *testing.T) {
	backend := &stubChartBackend{err: errors.New("backend down")}
	adapter, err := charts.NewAdapter(backend, inflightFlag(false))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	accounts := []registry.Account{
		{ID: "a1", ServiceType: registry.ServicePower, ConsumerID: "111"},
		{ID: "a2", ServiceType: registry.ServiceWater, ConsumerID: "222"},
	}
	bills := map[string]billing.Snapshot{
		"a1": auth(billing.StatusUnpaid, 500),
		"a2": billing.Failed(time.Now().UTC()),
	}

	data, err := adapter.Compute(context.Background(), accounts, bills)
	if err != nil {
		t.Fatalf("fallback compute: %v", err)
	}

	// The failed water fetch contributes nothing: one bucket, and no
	// invented trend series.
	if len(data.ComparisonData) != 1 {
		t.Fatalf("expected a single comparison bucket, got %+v", data.ComparisonData)
	}
	bucket := data.ComparisonData[0]
	if bucket.Service != "KSEB" || bucket.Amount != 500 || bucket.Fill != "#d97706" {
		t.Fatalf("unexpected bucket: %+v", bucket)
	}
	if data.TrendData == nil || len(data.TrendData) != 0 {
		t.Fatalf("fallback trend data must be empty, not synthesized: %+v", data.TrendData)
	}
	if data.TrendLines == nil || len(data.TrendLines) != 0 {
		t.Fatalf("fallback trend lines must be empty: %+v", data.TrendLines)
	}
}

func TestReduceSumsPerServiceWithExactRounding(t *testing.T) {
	accounts := []registry.Account{
		{ID: "a1", ServiceType: registry.ServicePower, ConsumerID: "111"},
		{ID: "a2", ServiceType: registry.ServicePower, ConsumerID: "112"},
		{ID: "a3", ServiceType: registry.ServiceWater, ConsumerID: "222"},
	}
	bills := map[string]billing.Snapshot{
		"a1": auth(billing.StatusUnpaid, 0.1),
		"a2": auth(billing.StatusUnpaid, 0.2),
		"a3": auth(billing.StatusUnpaid, 150),
	}

	data := charts.Reduce(accounts, bills)
	if len(data.ComparisonData) != 2 {
		t.Fatalf("expected two buckets, got %+v", data.ComparisonData)
	}
	// Buckets come out in display order: power before water.
	if data.ComparisonData[0].Service != "KSEB" || data.ComparisonData[0].Amount != 0.3 {
		t.Fatalf("0.1+0.2 must round to exactly 0.3, got %+v", data.ComparisonData[0])
	}
	if data.ComparisonData[1].Service != "KWA" || data.ComparisonData[1].Amount != 150 {
		t.Fatalf("unexpected water bucket: %+v", data.ComparisonData[1])
	}
}

func TestReduceSkipsAccountsWithoutSnapshots(t *testing.T) {
	accounts := []registry.Account{
		{ID: "a1", ServiceType: registry.ServicePower, ConsumerID: "111"},
		{ID: "pending", ServiceType: registry.ServiceWater, ConsumerID: "222"},
	}
	bills := map[string]billing.Snapshot{
		"a1": auth(billing.StatusUnpaid, 75),
	}

	data := charts.Reduce(accounts, bills)
	if len(data.ComparisonData) != 1 || data.ComparisonData[0].Service != "KSEB" {
		t.Fatalf("accounts without snapshots must not appear, got %+v", data.ComparisonData)
	}
}

type countingHistoryBackend struct {
	mu      sync.Mutex
	calls   int
	err     error
	history []upstream.HistoryEntry
}

func (b *countingHistoryBackend) BillingHistory(ctx context.Context, serviceType, consumerID string) ([]upstream.HistoryEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.history, nil
}

func (b *countingHistoryBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestHistoryIsMemoized(t *testing.T) {
	backend := &countingHistoryBackend{history: []upstream.HistoryEntry{
		{Date: "Jul 2026", Amount: 350, Status: "paid"},
	}}
	reader, err := charts.NewHistoryReader(backend, time.Minute)
	if err != nil {
		t.Fatalf("new history reader: %v", err)
	}

	account := registry.Account{ID: "a1", ServiceType: registry.ServicePower, ConsumerID: "111"}
	for i := 0; i < 3; i++ {
		history, err := reader.History(context.Background(), account)
		if err != nil {
			t.Fatalf("history call %d: %v", i, err)
		}
		if len(history) != 1 || history[0].Amount != 350 {
			t.Fatalf("unexpected history: %+v", history)
		}
	}
	if got := backend.callCount(); got != 1 {
		t.Fatalf("repeated reads within TTL must hit the memo, got %d backend calls", got)
	}
}

func TestHistoryEvictAccountForcesRefetch(t *testing.T) {
	backend := &countingHistoryBackend{}
	reader, err := charts.NewHistoryReader(backend, time.Minute)
	if err != nil {
		t.Fatalf("new history reader: %v", err)
	}

	account := registry.Account{ID: "a1", ServiceType: registry.ServiceWater, ConsumerID: "222"}
	if _, err := reader.History(context.Background(), account); err != nil {
		t.Fatalf("first history: %v", err)
	}
	reader.EvictAccount(account)
	if _, err := reader.History(context.Background(), account); err != nil {
		t.Fatalf("second history: %v", err)
	}
	if got := backend.callCount(); got != 2 {
		t.Fatalf("eviction must force a refetch, got %d backend calls", got)
	}
}

func TestHistoryErrorIsNotCached(t *testing.T) {
	backend := &countingHistoryBackend{err: errors.New("backend down")}
	reader, err := charts.NewHistoryReader(backend, time.Minute)
	if err != nil {
		t.Fatalf("new history reader: %v", err)
	}

	account := registry.Account{ID: "a1", ServiceType: registry.ServicePower, ConsumerID: "111"}
	if _, err := reader.History(context.Background(), account); err == nil {
		t.Fatalf("expected backend error")
	}

	backend.mu.Lock()
	backend.err = nil
	backend.history = []upstream.HistoryEntry{{Date: "Aug 2026", Amount: 120}}
	backend.mu.Unlock()

	history, err := reader.History(context.Background(), account)
	if err != nil {
		t.Fatalf("history after recovery: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("recovered history must come from the backend, got %+v", history)
	}
}
