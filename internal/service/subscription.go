package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/storage"
	"shadowrealms_backend/pkg/utils/validation"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("email not found")
)

// RequestInfo is what the HTTP layer knows about the caller.
type RequestInfo struct {
	IP        string
	UserAgent string
	Referrer  string
}

type Confirmation struct {
	SubscriberID string
	Email        string
	Via          storage.Tier
	Degraded     bool
}

// Tracker receives the audit trail and daily counters. Failures are logged
// and never fail the request.
type Tracker interface {
	LogActivity(ctx context.Context, action model.ActivityAction, email, ip, details string) error
	RecordPageView(ctx context.Context) error
	RecordSubscription(ctx context.Context) error
}

type noopTracker struct{}

func (noopTracker) LogActivity(context.Context, model.ActivityAction, string, string, string) error {
	return nil
}
func (noopTracker) RecordPageView(context.Context) error     { return nil }
func (noopTracker) RecordSubscription(context.Context) error { return nil }

type SubscriptionService struct {
	store   *storage.Failover
	tracker Tracker
	now     func() time.Time

	mu       sync.RWMutex
	mirror   []model.Subscriber
	degraded map[string]model.Subscriber
	stopLive func()
}

func NewSubscriptionService(store *storage.Failover, tracker Tracker) *SubscriptionService {
	if tracker == nil {
		tracker = noopTracker{}
	}
	return &SubscriptionService{
		store:    store,
		tracker:  tracker,
		now:      func() time.Time { return time.Now().UTC() },
		degraded: make(map[string]model.Subscriber),
	}
}

// Load fills the duplicate-check mirror. A primary with live updates keeps it
// current from then on; otherwise the mirror is a one-off read of whichever
// tier answers.
func (s *SubscriptionService) Load(ctx context.Context) error {
	log := logging.Module("subscriptions")

	if live, ok := s.store.Primary.(storage.LiveBackend); ok {
		s.mu.Lock()
		subscribed := s.stopLive != nil
		s.mu.Unlock()

		if !subscribed {
			stop, err := live.Subscribe(ctx, s.replaceMirror)
			if err == nil {
				s.mu.Lock()
				s.stopLive = stop
				s.mu.Unlock()
				s.loadPending(ctx)
				return nil
			}
			log.Warn().Err(err).Str("primary", live.Name()).Msg("live feed unavailable, reading once")
		}
	}

	subs, tier, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	s.replaceMirror(subs)
	if tier == storage.TierPrimary {
		s.loadPending(ctx)
	}
	log.Info().Int("subscribers", len(subs)).Str("tier", string(tier)).Msg("Loaded subscribers")
	return nil
}

func (s *SubscriptionService) loadPending(ctx context.Context) {
	pending, err := s.store.Pending(ctx)
	if err != nil {
		logging.Module("subscriptions").Warn().Err(err).Msg("failed to read secondary store")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = make(map[string]model.Subscriber, len(pending))
	for _, sub := range pending {
		if sub.IsActive() {
			s.degraded[sub.Email] = sub
		}
	}
}

func (s *SubscriptionService) replaceMirror(subs []model.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = subs
}

func (s *SubscriptionService) known(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.degraded[email]; ok {
		return true
	}
	return storage.ContainsActive(s.mirror, email)
}

func (s *SubscriptionService) remember(sub model.Subscriber, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if degraded {
		s.degraded[sub.Email] = sub
		return
	}
	if !storage.ContainsActive(s.mirror, sub.Email) {
		s.mirror = append(s.mirror, sub)
	}
}

// snapshot returns the active subscribers the service knows about, newest
// first, including those parked in the secondary store.
func (s *SubscriptionService) snapshot() []model.Subscriber {
	s.mu.RLock()
	degraded := make([]model.Subscriber, 0, len(s.degraded))
	for _, sub := range s.degraded {
		degraded = append(degraded, sub)
	}
	merged := storage.MergeActive(s.mirror, degraded)
	s.mu.RUnlock()
	return merged
}

// Register validates, de-duplicates and stores email. A client that goes
// away mid-request does not cancel the write.
func (s *SubscriptionService) Register(ctx context.Context, email string, info RequestInfo) (Confirmation, error) {
	log := logging.Module("subscriptions")
	ctx = context.WithoutCancel(ctx)

	normalized := validation.NormalizeEmail(email)
	if !validation.IsValidEmail(normalized) {
		s.track(ctx, model.ActionInvalidEmail, email, info.IP, "")
		return Confirmation{}, ErrInvalidEmail
	}

	if s.known(normalized) {
		s.track(ctx, model.ActionDuplicateEmail, normalized, info.IP, "")
		return Confirmation{}, ErrDuplicateEmail
	}

	sub := &model.Subscriber{
		Email:        normalized,
		SubscribedAt: s.now(),
		Source:       model.SourceWebsite,
		Status:       model.StatusActive,
		IPAddress:    info.IP,
		UserAgent:    info.UserAgent,
		Referrer:     info.Referrer,
	}

	tier, err := s.store.Write(ctx, sub)
	if errors.Is(err, storage.ErrDuplicate) {
		s.track(ctx, model.ActionDuplicateEmail, normalized, info.IP, "")
		return Confirmation{}, ErrDuplicateEmail
	}
	if err != nil {
		log.Error().Err(err).Str("email", normalized).Msg("Failed to store subscriber")
		s.track(ctx, model.ActionDBError, normalized, info.IP, err.Error())
		return Confirmation{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	degraded := tier == storage.TierSecondary
	s.remember(*sub, degraded)

	action := model.ActionSubscribeSuccess
	if degraded {
		action = model.ActionSubscribeDegraded
	}
	s.track(ctx, action, normalized, info.IP, "")
	if err := s.tracker.RecordSubscription(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to update daily stats")
	}

	log.Info().Str("email", normalized).Str("id", sub.ID).Str("tier", string(tier)).Msg("New subscriber")
	return Confirmation{
		SubscriberID: sub.ID,
		Email:        normalized,
		Via:          tier,
		Degraded:     degraded,
	}, nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, email string, info RequestInfo) error {
	ctx = context.WithoutCancel(ctx)

	normalized := validation.NormalizeEmail(email)
	if !validation.IsValidEmail(normalized) {
		return ErrInvalidEmail
	}

	err := s.store.Unsubscribe(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		logging.Module("subscriptions").Error().Err(err).Str("email", normalized).Msg("Unsubscribe failed")
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	delete(s.degraded, normalized)
	mirror := make([]model.Subscriber, len(s.mirror))
	copy(mirror, s.mirror)
	for i := range mirror {
		if mirror[i].Email == normalized {
			mirror[i].Status = model.StatusUnsubscribed
		}
	}
	s.mirror = mirror
	s.mu.Unlock()

	s.track(ctx, model.ActionUnsubscribe, normalized, info.IP, "")
	return nil
}

// Visit records a landing page view.
func (s *SubscriptionService) Visit(ctx context.Context, info RequestInfo) {
	ctx = context.WithoutCancel(ctx)
	s.track(ctx, model.ActionPageVisit, "", info.IP, info.UserAgent)
	if err := s.tracker.RecordPageView(ctx); err != nil {
		logging.Module("subscriptions").Warn().Err(err).Msg("failed to update daily stats")
	}
}

// Reconcile replays degraded writes into the primary store and refreshes the
// mirror from whatever is left pending.
func (s *SubscriptionService) Reconcile(ctx context.Context) (storage.ReconcileResult, error) {
	result, err := s.store.Reconcile(ctx)
	if result.Replayed+result.Duplicates > 0 {
		s.mu.Lock()
		live := s.stopLive != nil
		s.mu.Unlock()
		if !live {
			if subs, _, listErr := s.store.ListAll(ctx); listErr == nil {
				s.replaceMirror(subs)
			}
		}
		s.loadPending(ctx)
	}
	if err != nil {
		return result, err
	}
	if result != (storage.ReconcileResult{}) {
		logging.Module("subscriptions").Info().
			Int("replayed", result.Replayed).
			Int("duplicates", result.Duplicates).
			Int("failed", result.Failed).
			Msg("Reconciled secondary store")
	}
	return result, nil
}

// Forget drops the mirror after the stores were wiped.
func (s *SubscriptionService) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = nil
	s.degraded = make(map[string]model.Subscriber)
}

func (s *SubscriptionService) Close() {
	s.mu.Lock()
	stop := s.stopLive
	s.stopLive = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *SubscriptionService) track(ctx context.Context, action model.ActivityAction, email, ip, details string) {
	if err := s.tracker.LogActivity(ctx, action, email, ip, details); err != nil {
		logging.Module("subscriptions").Warn().Err(err).Str("action", string(action)).Msg("failed to write activity log")
	}
}
