// Package quota decides whether an account may consume one more free
// question today, and records consumption. Day boundaries are UTC calendar
// dates; the stored counter is only reset lazily, on the next write after a
// rollover.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mathsnap/internal/models"
	"mathsnap/internal/services"
)

// AccountStore is the persistence surface the tracker needs.
type AccountStore interface {
	Snapshot(ctx context.Context, email string) (*models.AccountSnapshot, error)
	// ConsumeQuestion atomically advances the counter subject to the daily
	// ceiling, returning the counter value after the attempt and whether the
	// increment was accepted.
	ConsumeQuestion(ctx context.Context, email, today string, max int) (int, bool, error)
}

// Decision is the outcome of one quota check or consumption attempt.
type Decision struct {
	Allowed bool
	Used    int
	Premium bool
}

type Tracker struct {
	store AccountStore
	cache *Cache
	max   int
	now   func() time.Time
}

func NewTracker(store AccountStore, cache *Cache, max int) *Tracker {
	return &Tracker{
		store: store,
		cache: cache,
		max:   max,
		now:   time.Now,
	}
}

// Max returns the daily ceiling for non-premium accounts.
func (t *Tracker) Max() int {
	return t.max
}

// Today returns the current UTC calendar date string.
func (t *Tracker) Today() string {
	return t.now().UTC().Format(models.DateLayout)
}

// ResetsAt returns the next UTC midnight, when the free counter rolls over.
func (t *Tracker) ResetsAt() time.Time {
	return t.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// CheckAndConsume evaluates the daily quota for an account and, when consume
// is true, records one unit of usage.
//
// An unknown account fails closed with a zero Decision and no error. A
// premium account is always allowed and never counted. A check-only call
// never blocks; it only reports the effective used count after the lazy day
// reset, possibly from a snapshot up to the cache TTL old. Consumption always
// goes to the authoritative store and invalidates the cache afterwards.
// A store failure is returned as an error, never as a quota outcome.
func (t *Tracker) CheckAndConsume(ctx context.Context, email string, consume bool) (Decision, error) {
	snap, err := t.load(ctx, email, consume)
	if errors.Is(err, services.ErrNotFound) {
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("quota: load account: %w", err)
	}

	if snap.IsPremium {
		return Decision{Allowed: true, Premium: true}, nil
	}

	today := t.Today()
	effective := 0
	if snap.LastUseDate == today {
		effective = snap.QuestionsUsed
	}

	if !consume {
		return Decision{Allowed: true, Used: effective}, nil
	}

	if effective >= t.max {
		return Decision{Allowed: false, Used: effective}, nil
	}

	used, allowed, err := t.store.ConsumeQuestion(ctx, email, today, t.max)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return Decision{}, nil
		}
		return Decision{}, fmt.Errorf("quota: consume: %w", err)
	}

	if t.cache != nil {
		if err := t.cache.Invalidate(ctx, email); err != nil {
			log.Printf("quota: cache invalidation for %s failed: %v", email, err)
		}
	}

	return Decision{Allowed: allowed, Used: used}, nil
}

// InvalidateAccount drops any cached snapshot for the account. Callers that
// mutate quota-relevant fields outside the tracker (the admin premium toggle)
// use this to keep checks fresh.
func (t *Tracker) InvalidateAccount(ctx context.Context, email string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Invalidate(ctx, email); err != nil {
		log.Printf("quota: cache invalidation for %s failed: %v", email, err)
	}
}

// Status reports current consumption without consuming.
func (t *Tracker) Status(ctx context.Context, email string) (models.QuotaStatus, error) {
	decision, err := t.CheckAndConsume(ctx, email, false)
	if err != nil {
		return models.QuotaStatus{}, err
	}

	status := models.QuotaStatus{
		Used:    decision.Used,
		Limit:   t.max,
		Premium: decision.Premium,
	}
	if !decision.Premium {
		status.Remaining = t.max - decision.Used
		if status.Remaining < 0 {
			status.Remaining = 0
		}
		status.ResetsAt = t.ResetsAt().Format(time.RFC3339)
	}

	return status, nil
}

// load fetches the account snapshot, via the cache for check-only calls.
// Consumption re-derives from the store so the ceiling comparison never acts
// on a stale counter.
func (t *Tracker) load(ctx context.Context, email string, consume bool) (*models.AccountSnapshot, error) {
	if !consume && t.cache != nil {
		if snap := t.cache.Get(ctx, email); snap != nil {
			return snap, nil
		}
	}

	snap, err := t.store.Snapshot(ctx, email)
	if err != nil {
		return nil, err
	}
	if t.cache != nil {
		t.cache.Set(ctx, snap)
	}

	return snap, nil
}
