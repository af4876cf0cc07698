package payments

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	billingapp "civicsync/internal/billing/application"
	billing "civicsync/internal/billing/domain"
	"civicsync/internal/layoutcache"
	"civicsync/internal/observability/metrics"
	registryapp "civicsync/internal/registry/application"
	"civicsync/internal/upstream"
)

// Session states. Paid is never reached directly from user
// confirmation: the optimistic transition lands in PendingSettlement
// and the reconciler promotes or reverts it.
const (
	StateAwaitingConfirmation = "awaiting_confirmation"
	StatePendingSettlement    = "pending_settlement"
	StatePaid                 = "paid"
	StateReverted             = "reverted"
)

// ErrSessionNotFound signals an unknown session id.
var ErrSessionNotFound = errors.New("payments: session not found")

// ErrAccountNotFound signals a session request for an unlinked account.
var ErrAccountNotFound = errors.New("payments: account not found")

// Session is one payment attempt for one account.
type Session struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	State        string    `json:"state"`
	QRCodeBase64 string    `json:"qr_code_base64,omitempty"`
	QRReady      bool      `json:"qr_ready"`
	UpstreamID   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Backend is the upstream payment capability.
type Backend interface {
	InitiatePayment(ctx context.Context, accountID, serviceType, consumerID string) (upstream.PaymentResponse, error)
	PaymentStatus(ctx context.Context, sessionID string) (upstream.PaymentSession, error)
	ConfirmPayment(ctx context.Context, sessionID string) error
}

// Service applies payment state transitions. The paid transition is
// optimistic: it is triggered purely by local user confirmation and
// persists immediately, independent of backend settlement.
type Service struct {
	backend      Backend
	orchestrator *billingapp.Orchestrator
	registry     *registryapp.Service
	cache        *layoutcache.Cache

	mu       sync.RWMutex
	sessions map[string]*Session

	// lifetime bounds the background QR and confirm calls so late
	// responses after Close are discarded.
	lifetime context.Context
	cancel   context.CancelFunc
}

// NewService constructs a payment service.
func NewService(backend Backend, orchestrator *billingapp.Orchestrator, registry *registryapp.Service, cache *layoutcache.Cache) (*Service, error) {
	if backend == nil {
		return nil, errors.New("payments: nil backend")
	}
	if orchestrator == nil {
		return nil, errors.New("payments: nil orchestrator")
	}
	if registry == nil {
		return nil, errors.New("payments: nil registry")
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Service{
		backend:      backend,
		orchestrator: orchestrator,
		registry:     registry,
		cache:        cache,
		sessions:     make(map[string]*Session),
		lifetime:     lifetime,
		cancel:       cancel,
	}, nil
}

// Close cancels outstanding background calls.
func (s *Service) Close() {
	s.cancel()
}

// Initiate opens a payment session for an account. It returns
// immediately so the UI can render a payment affordance; the scannable
// reference is fetched asynchronously and attached when it arrives. If
// the remote call fails the session keeps its default affordance.
func (s *Service) Initiate(ctx context.Context, accountID string) (Session, error) {
	account, ok := s.registry.Account(accountID)
	if !ok {
		return Session{}, ErrAccountNotFound
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        "pay-" + uuid.NewString(),
		AccountID: accountID,
		State:     StateAwaitingConfirmation,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	go s.fetchReference(session.ID, account.ID, string(account.ServiceType), account.ConsumerID)

	return *session, nil
}

func (s *Service) fetchReference(sessionID, accountID, serviceType, consumerID string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(s.lifetime, 90*time.Second)
	defer cancel()

	resp, err := s.backend.InitiatePayment(ctx, accountID, serviceType, consumerID)
	if err != nil || !resp.Success {
		metrics.ObservePaymentInitiate(metrics.ResultError, time.Since(start))
		if err != nil {
			log.Printf("payments: reference fetch failed for %s: %v", accountID, err)
		} else {
			log.Printf("payments: reference fetch failed for %s: %s", accountID, resp.ErrorMessage)
		}
		return
	}
	metrics.ObservePaymentInitiate(metrics.ResultSuccess, time.Since(start))

	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok {
		session.QRCodeBase64 = resp.QRCodeBase64
		session.QRReady = true
		session.UpstreamID = resp.SessionID
		session.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
}

// Confirm applies the optimistic paid transition: the account snapshot
// becomes zero-due and paid immediately, the layout is persisted, and
// no network response is awaited. The session enters
// PendingSettlement for the reconciler to verify.
func (s *Service) Confirm(ctx context.Context, sessionID string) (Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	session.State = StatePendingSettlement
	session.UpdatedAt = time.Now().UTC()
	accountID := session.AccountID
	upstreamID := session.UpstreamID
	snapshot := *session
	s.mu.Unlock()

	s.orchestrator.Apply(ctx, accountID, billing.Paid(time.Now().UTC()))
	s.persistLayout()

	if upstreamID != "" {
		go func() {
			confirmCtx, cancel := context.WithTimeout(s.lifetime, 30*time.Second)
			defer cancel()
			if err := s.backend.ConfirmPayment(confirmCtx, upstreamID); err != nil {
				log.Printf("payments: upstream confirm failed for %s: %v", sessionID, err)
			}
		}()
	}
	return snapshot, nil
}

// Session returns a session by id.
func (s *Service) Session(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *session, nil
}

func (s *Service) persistLayout() {
	if s.cache == nil {
		return
	}
	s.cache.Save(s.registry.Accounts(), s.orchestrator.Store().All())
}

func (s *Service) pendingSessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []Session
	for _, session := range s.sessions {
		if session.State == StatePendingSettlement {
			pending = append(pending, *session)
		}
	}
	return pending
}

func (s *Service) transition(sessionID, state string) {
	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok {
		session.State = state
		session.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
}
