package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/logging"
)

type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

const DefaultTimeout = 3 * time.Second

// Failover writes to the primary store and falls back to the secondary one
// when the primary errors out, runs out of quota or does not answer within
// Timeout. A duplicate reported by the primary is final and never retried.
type Failover struct {
	Primary   Backend
	Secondary Backend // optional
	Timeout   time.Duration
}

func NewFailover(primary, secondary Backend, timeout time.Duration) *Failover {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Failover{
		Primary:   primary,
		Secondary: secondary,
		Timeout:   timeout,
	}
}

// within runs fn with a deadline. A backend that ignores its context still
// gets abandoned at the deadline; whatever it finishes later is not rolled back.
func within[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(ctx)
		done <- outcome{val, err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

func (f *Failover) call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := within(ctx, f.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (f *Failover) list(ctx context.Context, backend Backend) ([]model.Subscriber, error) {
	return within(ctx, f.Timeout, backend.ListAll)
}

// add hands backend a copy of sub so that an abandoned call cannot race with
// the next tier. sub picks up whatever the backend filled in on success.
func (f *Failover) add(ctx context.Context, backend Backend, sub *model.Subscriber) error {
	rec, err := within(ctx, f.Timeout, func(ctx context.Context) (model.Subscriber, error) {
		rec := *sub
		return rec, backend.Add(ctx, &rec)
	})
	if err == nil {
		*sub = rec
	}
	return err
}

// Write persists sub and reports which tier accepted it.
func (f *Failover) Write(ctx context.Context, sub *model.Subscriber) (Tier, error) {
	primaryErr := f.add(ctx, f.Primary, sub)
	if primaryErr == nil {
		return TierPrimary, nil
	}
	if errors.Is(primaryErr, ErrDuplicate) {
		return TierPrimary, primaryErr
	}

	log := logging.Module("storage")
	log.Warn().Err(primaryErr).Str("primary", f.Primary.Name()).Msg("primary write failed, falling back")

	if f.Secondary == nil {
		return TierPrimary, fmt.Errorf("%w: %s: %v", ErrUnavailable, f.Primary.Name(), primaryErr)
	}

	secondaryErr := f.add(ctx, f.Secondary, sub)
	if secondaryErr == nil {
		return TierSecondary, nil
	}
	if errors.Is(secondaryErr, ErrDuplicate) {
		return TierSecondary, secondaryErr
	}

	log.Error().Err(secondaryErr).Str("secondary", f.Secondary.Name()).Msg("secondary write failed")
	return TierSecondary, fmt.Errorf("%w: %s: %v; %s: %v", ErrUnavailable,
		f.Primary.Name(), primaryErr, f.Secondary.Name(), secondaryErr)
}

// ListAll reads from the primary, or from the secondary when the primary is down.
func (f *Failover) ListAll(ctx context.Context) ([]model.Subscriber, Tier, error) {
	subs, primaryErr := f.list(ctx, f.Primary)
	if primaryErr == nil {
		return subs, TierPrimary, nil
	}
	if f.Secondary == nil {
		return nil, TierPrimary, fmt.Errorf("%w: %v", ErrUnavailable, primaryErr)
	}

	subs, secondaryErr := f.list(ctx, f.Secondary)
	if secondaryErr != nil {
		return nil, TierSecondary, fmt.Errorf("%w: %v; %v", ErrUnavailable, primaryErr, secondaryErr)
	}
	return subs, TierSecondary, nil
}

// Pending lists what is parked in the secondary store.
func (f *Failover) Pending(ctx context.Context) ([]model.Subscriber, error) {
	if f.Secondary == nil {
		return nil, nil
	}
	return f.list(ctx, f.Secondary)
}

// Unsubscribe tries the primary first, then the secondary, since a degraded
// write may not have been replayed yet.
func (f *Failover) Unsubscribe(ctx context.Context, email string) error {
	var errs []error
	for _, backend := range []Backend{f.Primary, f.Secondary} {
		if backend == nil {
			continue
		}
		u, ok := backend.(Unsubscriber)
		if !ok {
			continue
		}
		err := f.call(ctx, func(ctx context.Context) error {
			return u.Unsubscribe(ctx, email)
		})
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return fmt.Errorf("%w: no backend supports unsubscribe", ErrUnavailable)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, errors.Join(errs...))
		}
	}
	return ErrNotFound
}

// ReconcileResult summarises one replay of the secondary store into the primary.
type ReconcileResult struct {
	Replayed   int
	Duplicates int
	Failed     int
}

// Reconcile replays records parked in the secondary store into the primary and
// removes them from the secondary once the primary has them. Records the
// primary already holds are dropped as duplicates.
func (f *Failover) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	if f.Secondary == nil {
		return result, nil
	}

	pending, err := f.Pending(ctx)
	if err != nil {
		return result, fmt.Errorf("list secondary: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	done := make([]string, 0, len(pending))
	for i := range pending {
		sub := pending[i]
		err := f.add(ctx, f.Primary, &sub)
		switch {
		case err == nil:
			result.Replayed++
			done = append(done, pending[i].ID)
		case errors.Is(err, ErrDuplicate):
			result.Duplicates++
			done = append(done, pending[i].ID)
		default:
			result.Failed++
		}
	}

	if len(done) == 0 {
		return result, fmt.Errorf("%w: primary rejected every pending record", ErrUnavailable)
	}

	// Deleting by id keeps writes that landed in the secondary while we replayed.
	if d, ok := f.Secondary.(Deleter); ok {
		err = f.call(ctx, func(ctx context.Context) error {
			return d.Delete(ctx, done...)
		})
	} else if len(done) == len(pending) {
		err = f.call(ctx, f.Secondary.RemoveAll)
	}
	if err != nil {
		return result, fmt.Errorf("clean secondary: %w", err)
	}
	return result, nil
}

// RemoveAll empties both tiers. The secondary is cleared even when the
// primary fails, and every failure is returned.
func (f *Failover) RemoveAll(ctx context.Context) error {
	var errs []error
	for _, backend := range []Backend{f.Primary, f.Secondary} {
		if backend == nil {
			continue
		}
		if err := f.call(ctx, backend.RemoveAll); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}
