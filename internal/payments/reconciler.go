package payments

import (
	"context"
	"log"
	"time"

	billing "civicsync/internal/billing/domain"
	"civicsync/internal/observability/metrics"
)

// Reconciler periodically checks pending-settlement sessions against
// the backend. The optimistic paid transition trades consistency for
// responsiveness; this closes the loop: a completed settlement
// promotes the session to Paid, a failed one reverts the snapshot to
// unpaid and records the divergence.
type Reconciler struct {
	service  *Service
	interval time.Duration
}

// NewReconciler constructs a reconciler.
func NewReconciler(service *Service, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{service: service, interval: interval}
}

// Start begins the reconcile loop.
func (r *Reconciler) Start(ctx context.Context) {
	if r == nil || r.service == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles every pending session.
func (r *Reconciler) RunOnce(ctx context.Context) {
	for _, session := range r.service.pendingSessions() {
		r.reconcile(ctx, session)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, session Session) {
	if session.UpstreamID == "" {
		// The reference fetch never succeeded, so there is no backend
		// session to verify against. The optimistic state stands.
		metrics.ObservePaymentReconcile("unverifiable")
		r.service.transition(session.ID, StatePaid)
		return
	}

	status, err := r.service.backend.PaymentStatus(ctx, session.UpstreamID)
	if err != nil {
		metrics.ObservePaymentReconcile("error")
		log.Printf("payments: reconcile %s: %v", session.ID, err)
		return
	}

	switch status.Status {
	case "completed":
		metrics.ObservePaymentReconcile("settled")
		r.service.transition(session.ID, StatePaid)
	case "failed", "cancelled":
		metrics.ObservePaymentReconcile("reverted")
		metrics.ObservePaymentDivergence()
		log.Printf("payments: backend contradicts optimistic paid for %s, reverting", session.AccountID)
		r.service.transition(session.ID, StateReverted)
		// Re-fetch rather than guess the pre-payment amount; only the
		// source of truth may repopulate the snapshot.
		if account, ok := r.service.registry.Account(session.AccountID); ok {
			r.service.orchestrator.Refresh(ctx, account)
		} else {
			r.service.orchestrator.Apply(ctx, session.AccountID, billing.Failed(time.Now().UTC()))
		}
		r.service.persistLayout()
	default:
		metrics.ObservePaymentReconcile("pending")
	}
}
