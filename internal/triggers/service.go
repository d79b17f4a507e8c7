package triggers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// Service is the entry point for creating, listing and deleting trigger
// subscriptions, delegating provider-specific logic to the Registry.
type Service struct {
	store    catalog.Store
	registry *Registry
	logger   *log.Logger
}

func NewService(store catalog.Store, registry *Registry) *Service {
	return &Service{
		store:    store,
		registry: registry,
		logger:   log.New(log.Writer(), "[TRIGGERS] ", log.LstdFlags),
	}
}

// Create registers a new trigger: generates a webhook secret, asks the
// provider connector to subscribe, then persists the resulting row.
func (s *Service) Create(ctx context.Context, projectID, appName, ownerID, eventType, callbackURL string) (*catalog.Trigger, error) {
	connector, ok := s.registry.Get(appName)
	if !ok {
		return nil, ocxerr.NotAllowed(fmt.Sprintf("no trigger connector registered for app %q", appName))
	}

	linked, err := s.store.GetLinkedAccount(ctx, projectID, appName, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolve linked account: %w", err)
	}
	if linked == nil {
		return nil, ocxerr.NotFound("linked account")
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate trigger secret: %w", err)
	}

	trig := &catalog.Trigger{
		ID:                   uuid.NewString(),
		ProjectID:            projectID,
		AppName:              appName,
		LinkedAccountOwnerID: ownerID,
		EventType:            eventType,
		Status:               catalog.TriggerStatusPending,
		Secret:               secret,
		CallbackURL:          callbackURL,
	}

	if err := connector.Register(ctx, trig, linked); err != nil {
		trig.Status = catalog.TriggerStatusFailed
		trig.RegistrationAttempts = 1
		if createErr := s.store.CreateTrigger(ctx, trig); createErr != nil {
			s.logger.Printf("failed to persist failed trigger registration: %v", createErr)
		}
		return nil, fmt.Errorf("register trigger with provider: %w", err)
	}

	trig.Status = catalog.TriggerStatusActive
	if err := s.store.CreateTrigger(ctx, trig); err != nil {
		return nil, fmt.Errorf("persist trigger: %w", err)
	}

	s.logger.Printf("created trigger id=%s project=%s app=%s event=%s", trig.ID, projectID, appName, eventType)
	return trig, nil
}

func (s *Service) Delete(ctx context.Context, projectID, triggerID string) error {
	trig, err := s.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return fmt.Errorf("get trigger: %w", err)
	}
	if trig == nil || trig.ProjectID != projectID {
		return ocxerr.NotFound("trigger")
	}

	if connector, ok := s.registry.Get(trig.AppName); ok {
		linked, err := s.store.GetLinkedAccount(ctx, trig.ProjectID, trig.AppName, trig.LinkedAccountOwnerID)
		if err != nil {
			return fmt.Errorf("resolve linked account: %w", err)
		}
		if linked != nil {
			if err := connector.Unregister(ctx, trig, linked); err != nil {
				s.logger.Printf("failed to unregister trigger %s with provider: %v", trig.ID, err)
			}
		}
	}

	return s.store.DeleteTrigger(ctx, triggerID)
}

func (s *Service) List(ctx context.Context, projectID string, cursor catalog.Cursor, limit int) (catalog.Page[catalog.Trigger], error) {
	return s.store.ListTriggers(ctx, projectID, cursor, limit)
}

// RenewExpiring runs the connector's Renew on up to 100 triggers expiring
// within withinSec seconds and persists each one Renew accepts. No
// connector in this package contacts its provider in Renew, so ExpiresAt
// is not extended. Called from the background scheduler (C8).
func (s *Service) RenewExpiring(ctx context.Context, withinSec int) (int, error) {
	cutoff := time.Now().Add(time.Duration(withinSec) * time.Second)
	expiring, err := s.store.ListTriggersExpiringBefore(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("list expiring triggers: %w", err)
	}

	renewed := 0
	for i := range expiring {
		trig := &expiring[i]
		connector, ok := s.registry.Get(trig.AppName)
		if !ok {
			continue
		}
		linked, err := s.store.GetLinkedAccount(ctx, trig.ProjectID, trig.AppName, trig.LinkedAccountOwnerID)
		if err != nil || linked == nil {
			continue
		}
		if err := connector.Renew(ctx, trig, linked); err != nil {
			s.logger.Printf("failed to renew trigger %s: %v", trig.ID, err)
			continue
		}
		if err := s.store.UpdateTrigger(ctx, trig); err != nil {
			s.logger.Printf("failed to persist renewed trigger %s: %v", trig.ID, err)
			continue
		}
		renewed++
	}
	return renewed, nil
}

// ExpireStale marks every trigger whose ExpiresAt has already passed as
// expired, so the receiver can reject deliveries for it without a
// provider round-trip.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListTriggersExpiringBefore(ctx, time.Now(), 500)
	if err != nil {
		return 0, fmt.Errorf("list stale triggers: %w", err)
	}
	count := 0
	for i := range stale {
		trig := &stale[i]
		trig.Status = catalog.TriggerStatusExpired
		if err := s.store.UpdateTrigger(ctx, trig); err != nil {
			s.logger.Printf("failed to expire trigger %s: %v", trig.ID, err)
			continue
		}
		count++
	}
	return count, nil
}

// RetryFailedRegistrations re-attempts Register for every trigger stuck
// in TriggerStatusFailed, up to maxAttempts total tries.
func (s *Service) RetryFailedRegistrations(ctx context.Context, maxAttempts int) (int, error) {
	failed, err := s.store.ListTriggersByStatus(ctx, catalog.TriggerStatusFailed, 100)
	if err != nil {
		return 0, fmt.Errorf("list failed triggers: %w", err)
	}

	retried := 0
	for i := range failed {
		trig := &failed[i]
		if trig.RegistrationAttempts >= maxAttempts {
			continue
		}
		connector, ok := s.registry.Get(trig.AppName)
		if !ok {
			continue
		}
		linked, err := s.store.GetLinkedAccount(ctx, trig.ProjectID, trig.AppName, trig.LinkedAccountOwnerID)
		if err != nil || linked == nil {
			continue
		}

		trig.RegistrationAttempts++
		if err := connector.Register(ctx, trig, linked); err != nil {
			s.logger.Printf("retry %d/%d failed for trigger %s: %v", trig.RegistrationAttempts, maxAttempts, trig.ID, err)
			if updateErr := s.store.UpdateTrigger(ctx, trig); updateErr != nil {
				s.logger.Printf("failed to persist retry attempt for trigger %s: %v", trig.ID, updateErr)
			}
			continue
		}

		trig.Status = catalog.TriggerStatusActive
		if err := s.store.UpdateTrigger(ctx, trig); err != nil {
			s.logger.Printf("failed to persist recovered trigger %s: %v", trig.ID, err)
			continue
		}
		retried++
	}
	return retried, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
