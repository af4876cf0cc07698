package charts

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billing "civicsync/internal/billing/domain"
	"civicsync/internal/observability/metrics"
	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

// ErrSyncInProgress is returned while any account fetch is still in
// flight; aggregates over a partially-loaded state would be wrong.
var ErrSyncInProgress = errors.New("charts: bill sync in progress")

// Backend is the upstream chart capability.
type Backend interface {
	ChartData(ctx context.Context, accounts []registry.Account, billData map[string]any) (upstream.ChartData, error)
}

// InFlightChecker reports whether any bill fetch is outstanding.
type InFlightChecker interface {
	AnyInFlight() bool
}

// Adapter computes chart-ready aggregates. The backend computes
// calendar-aware series; on backend failure the adapter falls back to
// a reduced comparison-only aggregate over already-fetched snapshots
// and suppresses trend data entirely rather than synthesizing it.
type Adapter struct {
	backend  Backend
	inflight InFlightChecker
}

// NewAdapter constructs an adapter.
func NewAdapter(backend Backend, inflight InFlightChecker) (*Adapter, error) {
	if backend == nil {
		return nil, errors.New("charts: nil backend")
	}
	if inflight == nil {
		return nil, errors.New("charts: nil inflight checker")
	}
	return &Adapter{backend: backend, inflight: inflight}, nil
}

// Compute returns the chart set for the current accounts and bill
// data. It refuses to run mid-fetch.
func (a *Adapter) Compute(ctx context.Context, accounts []registry.Account, billData map[string]billing.Snapshot) (upstream.ChartData, error) {
	if a.inflight.AnyInFlight() {
		return upstream.ChartData{}, ErrSyncInProgress
	}

	start := time.Now()
	payload := make(map[string]any, len(billData))
	for id, snap := range billData {
		payload[id] = snap
	}

	charts, err := a.backend.ChartData(ctx, accounts, payload)
	if err == nil {
		metrics.ObserveChartCompute("upstream", metrics.ResultSuccess, time.Since(start))
		return charts, nil
	}
	metrics.ObserveChartCompute("upstream", metrics.ResultError, time.Since(start))

	fallback := Reduce(accounts, billData)
	metrics.ObserveChartCompute("fallback", metrics.ResultSuccess, time.Since(start))
	return fallback, nil
}

// Reduce builds the comparison-only fallback: one bucket per distinct
// service type, summing the current amounts due of authoritative
// snapshots. Trend series stay empty; the backend returned nothing
// real to plot and nothing is invented locally.
func Reduce(accounts []registry.Account, billData map[string]billing.Snapshot) upstream.ChartData {
	totals := make(map[registry.ServiceType]decimal.Decimal)
	for _, account := range accounts {
		snap, ok := billData[account.ID]
		if !ok || !snap.Authoritative() {
			continue
		}
		totals[account.ServiceType] = totals[account.ServiceType].Add(decimal.NewFromFloat(snap.AmountDue))
	}

	comparison := make([]upstream.ComparisonBucket, 0, len(totals))
	for _, serviceType := range registry.AllServiceTypes() {
		total, ok := totals[serviceType]
		if !ok {
			continue
		}
		meta := serviceType.Meta()
		amount, _ := total.Round(2).Float64()
		comparison = append(comparison, upstream.ComparisonBucket{
			Service: meta.Name,
			Amount:  amount,
			Fill:    meta.Color,
		})
	}

	return upstream.ChartData{
		ComparisonData: comparison,
		TrendData:      []map[string]any{},
		TrendLines:     []upstream.TrendLine{},
	}
}
