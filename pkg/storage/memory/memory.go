// Package memory is an in-process subscriber store. It backs ephemeral runs
// (PRIMARY_STORE=memory) and doubles as the fake used across the test suite.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/storage"
)

type Store struct {
	name string

	mu           sync.Mutex
	subs         []model.Subscriber
	failure      error
	delay        time.Duration
	adds         int
	listeners    map[int]func([]model.Subscriber)
	nextListener int
}

func New(name string) *Store {
	if name == "" {
		name = "memory"
	}
	return &Store{
		name:      name,
		listeners: make(map[int]func([]model.Subscriber)),
	}
}

func (s *Store) Name() string {
	return s.name
}

// SetFailure makes every following call return err. Pass nil to heal the store.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// SetDelay holds every following call for d, or until its context ends.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Adds counts Add calls that reached the store, successful or not.
func (s *Store) Adds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds
}

func (s *Store) gate(ctx context.Context) error {
	s.mu.Lock()
	failure, delay := s.failure, s.delay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}
	return ctx.Err()
}

func (s *Store) Add(ctx context.Context, sub *model.Subscriber) error {
	s.mu.Lock()
	s.adds++
	s.mu.Unlock()

	if err := s.gate(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if storage.ContainsActive(s.subs, sub.Email) {
		s.mu.Unlock()
		return storage.ErrDuplicate
	}
	rec := *sub
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubscribedAt.IsZero() {
		rec.SubscribedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	s.subs = append(s.subs, rec)
	sub.ID = rec.ID
	sub.SubscribedAt = rec.SubscribedAt
	sub.Status = rec.Status
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]model.Subscriber, error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subs), nil
}

func (s *Store) RemoveAll(ctx context.Context) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) Unsubscribe(ctx context.Context, email string) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	found := false
	for i := range s.subs {
		if s.subs[i].Email == email && s.subs[i].IsActive() {
			s.subs[i].Status = model.StatusUnsubscribed
			found = true
		}
	}
	s.mu.Unlock()

	if !found {
		return storage.ErrNotFound
	}
	s.notify()
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.subs = slices.DeleteFunc(s.subs, func(sub model.Subscriber) bool {
		return slices.Contains(ids, sub.ID)
	})
	s.mu.Unlock()

	s.notify()
	return nil
}

// Subscribe calls fn right away with the current set and again after every
// mutation, synchronously on the mutating goroutine.
func (s *Store) Subscribe(ctx context.Context, fn func([]model.Subscriber)) (func(), error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	snapshot := slices.Clone(s.subs)
	s.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *Store) notify() {
	s.mu.Lock()
	snapshot := slices.Clone(s.subs)
	fns := make([]func([]model.Subscriber), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(snapshot))
	}
}

var (
	_ storage.LiveBackend  = (*Store)(nil)
	_ storage.Unsubscriber = (*Store)(nil)
	_ storage.Deleter      = (*Store)(nil)
)
