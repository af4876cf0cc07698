package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicsync/internal/eventbus"
	"civicsync/internal/observability/metrics"
	registry "civicsync/internal/registry/domain"
)

// ProfileStore is the upstream capability the registry consumes.
type ProfileStore interface {
	ListProfiles(ctx context.Context) ([]registry.Profile, error)
	CreateProfile(ctx context.Context, name string) (registry.Profile, error)
	DeleteProfile(ctx context.Context, profileID string) error
	AddAccount(ctx context.Context, profileID string, draft registry.AccountDraft) (registry.Account, error)
	RemoveAccount(ctx context.Context, profileID, accountID string) error
}

// AccountAdded is published after an account enters the local mirror.
type AccountAdded struct {
	Account    registry.Account
	OccurredAt time.Time
}

// AccountRemoved is published after an account leaves the local
// mirror. Subscribers must evict any derived state for the id.
type AccountRemoved struct {
	Account    registry.Account
	OccurredAt time.Time
}

// Service owns the local mirror of profiles and accounts. The remote
// registry is the source of truth; the mirror keeps the session usable
// when it is unreachable.
type Service struct {
	store ProfileStore
	bus   eventbus.Bus

	mu       sync.RWMutex
	profiles []registry.Profile
	accounts []registry.Account
}

// NewService constructs a registry service.
func NewService(store ProfileStore, bus eventbus.Bus) (*Service, error) {
	if store == nil {
		return nil, errors.New("registry service: nil profile store")
	}
	return &Service{store: store, bus: bus}, nil
}

// LoadAll loads every profile and flattens profile-scoped accounts into
// one list tagged with their owning profile id.
func (s *Service) LoadAll(ctx context.Context) ([]registry.Account, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry service: load profiles: %w", err)
	}
	var accounts []registry.Account
	for _, profile := range profiles {
		for _, account := range profile.Accounts {
			account.ProfileID = profile.ID
			accounts = append(accounts, account)
		}
	}

	s.mu.Lock()
	s.profiles = profiles
	s.accounts = accounts
	s.mu.Unlock()

	metrics.SetLinkedAccounts(len(accounts))
	return accounts, nil
}

// Seed restores the account mirror from a cached layout snapshot so
// the first render has data before the network responds. Live LoadAll
// results supersede it.
func (s *Service) Seed(accounts []registry.Account) {
	s.mu.Lock()
	if len(s.accounts) == 0 {
		s.accounts = append([]registry.Account(nil), accounts...)
	}
	count := len(s.accounts)
	s.mu.Unlock()
	metrics.SetLinkedAccounts(count)
}

// Accounts returns a copy of the local account mirror.
func (s *Service) Accounts() []registry.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]registry.Account(nil), s.accounts...)
}

// Profiles returns a copy of the local profile mirror.
func (s *Service) Profiles() []registry.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]registry.Profile(nil), s.profiles...)
}

// Account looks up an account by id in the local mirror.
func (s *Service) Account(accountID string) (registry.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.accounts {
		if account.ID == accountID {
			return account, true
		}
	}
	return registry.Account{}, false
}

// CreateProfile creates a named profile upstream and mirrors it.
func (s *Service) CreateProfile(ctx context.Context, name string) (registry.Profile, error) {
	if name == "" {
		return registry.Profile{}, errors.New("registry service: empty profile name")
	}
	profile, err := s.store.CreateProfile(ctx, name)
	if err != nil {
		return registry.Profile{}, fmt.Errorf("registry service: create profile: %w", err)
	}
	s.mu.Lock()
	s.profiles = append(s.profiles, profile)
	s.mu.Unlock()
	return profile, nil
}

// DeleteProfile removes a profile and all accounts it owns from the
// local mirror. The upstream delete decides the remote cascade; local
// removal is unconditional.
func (s *Service) DeleteProfile(ctx context.Context, profileID string) error {
	err := s.store.DeleteProfile(ctx, profileID)
	if err != nil {
		log.Printf("registry service: upstream profile delete failed, removing locally: %v", err)
	}

	var removed []registry.Account
	s.mu.Lock()
	profiles := s.profiles[:0]
	for _, profile := range s.profiles {
		if profile.ID != profileID {
			profiles = append(profiles, profile)
		}
	}
	s.profiles = profiles
	accounts := s.accounts[:0]
	for _, account := range s.accounts {
		if account.ProfileID == profileID {
			removed = append(removed, account)
			continue
		}
		accounts = append(accounts, account)
	}
	s.accounts = accounts
	count := len(s.accounts)
	s.mu.Unlock()

	metrics.SetLinkedAccounts(count)
	for _, account := range removed {
		s.publishRemoved(ctx, account)
	}
	return err
}

// AddAccount registers an account under a profile. When the upstream
// call fails the account is synthesized locally so the session stays
// usable; the caller receives ErrRegistration alongside the local
// account and must treat it as unreconciled.
func (s *Service) AddAccount(ctx context.Context, profileID string, draft registry.AccountDraft) (registry.Account, error) {
	account := registry.Account{
		ServiceType: draft.ServiceType,
		ConsumerID:  draft.ConsumerID,
		NumberPlate: draft.NumberPlate,
		Label:       draft.Label,
		ProfileID:   profileID,
	}
	if err := account.Validate(); err != nil {
		return registry.Account{}, err
	}

	created, err := s.store.AddAccount(ctx, profileID, draft)
	var regErr error
	if err != nil {
		account.ID = "local-" + uuid.NewString()
		account.LocalOnly = true
		regErr = fmt.Errorf("%w: %v", registry.ErrRegistration, err)
	} else {
		account = created
		account.ProfileID = profileID
	}

	s.mu.Lock()
	s.accounts = append(s.accounts, account)
	count := len(s.accounts)
	s.mu.Unlock()

	metrics.SetLinkedAccounts(count)
	if s.bus != nil {
		_ = s.bus.Publish(ctx, AccountAdded{Account: account, OccurredAt: time.Now().UTC()})
	}
	return account, regErr
}

// RemoveAccount deletes an account. The upstream delete is best
// effort; local removal happens regardless so the view never shows a
// removed account as present. Subscribers of AccountRemoved evict the
// cached bill entry and any in-flight fetch flag.
func (s *Service) RemoveAccount(ctx context.Context, account registry.Account) error {
	var err error
	if !account.LocalOnly {
		err = s.store.RemoveAccount(ctx, account.ProfileID, account.ID)
		if err != nil {
			log.Printf("registry service: upstream account delete failed, removing locally: %v", err)
		}
	}

	s.mu.Lock()
	accounts := s.accounts[:0]
	for _, existing := range s.accounts {
		if existing.ID != account.ID {
			accounts = append(accounts, existing)
		}
	}
	s.accounts = accounts
	count := len(s.accounts)
	s.mu.Unlock()

	metrics.SetLinkedAccounts(count)
	s.publishRemoved(ctx, account)
	return err
}

func (s *Service) publishRemoved(ctx context.Context, account registry.Account) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, AccountRemoved{Account: account, OccurredAt: time.Now().UTC()})
}
