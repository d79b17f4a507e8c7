// Package background runs the gateway's periodic maintenance jobs —
// trigger renewal/expiry, event retention cleanup, registration retry,
// and OAuth1 temp-token cleanup — on a cron schedule.
package background

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/triggers"
)

type Scheduler struct {
	cron            *cron.Cron
	triggerService  *triggers.Service
	feedbackStore   catalog.FeedbackStore
	store           catalog.Store
	logger          *log.Logger
	renewBeforeSec  int
	eventRetainDays int
	maxRetries      int
}

type Config struct {
	RenewBeforeExpirySec   int
	EventRetentionDays     int
	MaxRegistrationRetries int
}

func NewScheduler(store catalog.Store, fbStore catalog.FeedbackStore, triggerService *triggers.Service, cfg Config) *Scheduler {
	return &Scheduler{
		cron:            cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		triggerService:  triggerService,
		feedbackStore:   fbStore,
		store:           store,
		logger:          log.New(log.Writer(), "[BACKGROUND] ", log.LstdFlags),
		renewBeforeSec:  cfg.RenewBeforeExpirySec,
		eventRetainDays: cfg.EventRetentionDays,
		maxRetries:      cfg.MaxRegistrationRetries,
	}
}

// Start registers every job and begins the cron scheduler's own
// goroutine loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"renew_expiring_triggers", "*/5 * * * *", s.renewExpiringTriggers},
		{"expire_stale_triggers", "*/10 * * * *", s.expireStaleTriggers},
		{"cleanup_expired_events", "0 3 * * *", s.cleanupExpiredEvents},
		{"retry_failed_registrations", "*/15 * * * *", s.retryFailedRegistrations},
		{"cleanup_oauth1_temp_tokens", "*/30 * * * *", s.cleanupOAuth1TempTokens},
	}

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Printf("background scheduler started with %d jobs", len(jobs))
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) renewExpiringTriggers() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.triggerService.RenewExpiring(ctx, s.renewBeforeSec)
	if err != nil {
		s.logger.Printf("renew_expiring_triggers failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("renew_expiring_triggers renewed %d triggers", n)
	}
}

func (s *Scheduler) expireStaleTriggers() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.triggerService.ExpireStale(ctx)
	if err != nil {
		s.logger.Printf("expire_stale_triggers failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("expire_stale_triggers expired %d triggers", n)
	}
}

func (s *Scheduler) cleanupExpiredEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.store.DeleteTriggerEventsOlderThan(ctx, s.eventRetainDays)
	if err != nil {
		s.logger.Printf("cleanup_expired_events failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("cleanup_expired_events deleted %d events", n)
	}
}

func (s *Scheduler) retryFailedRegistrations() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.triggerService.RetryFailedRegistrations(ctx, s.maxRetries)
	if err != nil {
		s.logger.Printf("retry_failed_registrations failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("retry_failed_registrations recovered %d triggers", n)
	}
}

func (s *Scheduler) cleanupOAuth1TempTokens() {
	if s.feedbackStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.feedbackStore.DeleteExpiredOAuth1TempTokens(ctx)
	if err != nil {
		s.logger.Printf("cleanup_oauth1_temp_tokens failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("cleanup_oauth1_temp_tokens deleted %d tokens", n)
	}
}
