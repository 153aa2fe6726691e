package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathsnap/internal/models"
	"mathsnap/internal/services"
)

type fakeStore struct {
	accounts      map[string]*models.AccountSnapshot
	snapshotCalls int
	consumeCalls  int
	failing       bool
}

var errStoreDown = errors.New("store unreachable")

func newFakeStore(accounts ...*models.AccountSnapshot) *fakeStore {
	s := &fakeStore{accounts: make(map[string]*models.AccountSnapshot)}
	for _, a := range accounts {
		s.accounts[a.Email] = a
	}
	return s
}

func (s *fakeStore) Snapshot(ctx context.Context, email string) (*models.AccountSnapshot, error) {
	s.snapshotCalls++
	if s.failing {
		return nil, errStoreDown
	}
	snap, ok := s.accounts[email]
	if !ok {
		return nil, services.ErrNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *fakeStore) ConsumeQuestion(ctx context.Context, email, today string, max int) (int, bool, error) {
	s.consumeCalls++
	if s.failing {
		return 0, false, errStoreDown
	}
	snap, ok := s.accounts[email]
	if !ok {
		return 0, false, services.ErrNotFound
	}
	if snap.IsPremium {
		return 0, true, nil
	}
	used := 0
	if snap.LastUseDate == today {
		used = snap.QuestionsUsed
	}
	if used >= max {
		return used, false, nil
	}
	snap.QuestionsUsed = used + 1
	snap.LastUseDate = today
	return snap.QuestionsUsed, true, nil
}

var fixedNow = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func newTestTracker(store AccountStore, cache *Cache, max int) *Tracker {
	tr := NewTracker(store, cache, max)
	tr.now = func() time.Time { return fixedNow }
	return tr
}

func today() string {
	return fixedNow.Format(models.DateLayout)
}

func yesterday() string {
	return fixedNow.AddDate(0, 0, -1).Format(models.DateLayout)
}

func TestConsumeUnderLimit(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 2, LastUseDate: today(),
	})
	tr := newTestTracker(store, nil, 5)

	decision, err := tr.CheckAndConsume(context.Background(), "a@x.com", true)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 3, decision.Used)
	assert.Equal(t, 3, store.accounts["a@x.com"].QuestionsUsed)
	assert.Equal(t, today(), store.accounts["a@x.com"].LastUseDate)
}

func TestConsumeAtLimitBlocksWithoutWrite(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 5, LastUseDate: today(),
	})
	tr := newTestTracker(store, nil, 5)

	decision, err := tr.CheckAndConsume(context.Background(), "a@x.com", true)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 5, decision.Used)
	assert.Equal(t, 5, store.accounts["a@x.com"].QuestionsUsed)
	assert.Zero(t, store.consumeCalls, "no write should be attempted at the ceiling")
}

func TestPremiumBypassesQuota(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "vip@x.com", IsPremium: true, QuestionsUsed: 99, LastUseDate: today(),
	})
	tr := newTestTracker(store, nil, 5)

	for i := 0; i < 3; i++ {
		decision, err := tr.CheckAndConsume(context.Background(), "vip@x.com", true)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.True(t, decision.Premium)
		assert.Equal(t, 0, decision.Used)
	}
	assert.Equal(t, 99, store.accounts["vip@x.com"].QuestionsUsed, "premium counter must not move")
	assert.Zero(t, store.consumeCalls)
}

func TestDayRollover(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 5, LastUseDate: yesterday(),
	})
	tr := newTestTracker(store, nil, 5)
	ctx := context.Background()

	// Check-only: yesterday's exhausted counter reads as zero today.
	decision, err := tr.CheckAndConsume(ctx, "a@x.com", false)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, decision.Used)
	assert.Equal(t, 5, store.accounts["a@x.com"].QuestionsUsed, "check must not write the reset")

	// First consume of the new day restarts the counter at 1.
	decision, err = tr.CheckAndConsume(ctx, "a@x.com", true)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Used)
	assert.Equal(t, 1, store.accounts["a@x.com"].QuestionsUsed)
	assert.Equal(t, today(), store.accounts["a@x.com"].LastUseDate)
}

func TestUnknownAccountFailsClosed(t *testing.T) {
	tr := newTestTracker(newFakeStore(), nil, 5)
	ctx := context.Background()

	for _, consume := range []bool{false, true} {
		decision, err := tr.CheckAndConsume(ctx, "ghost@x.com", consume)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, 0, decision.Used)
	}
}

func TestLastFreeQuestionThenBlocked(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 4, LastUseDate: today(),
	})
	tr := newTestTracker(store, nil, 5)
	ctx := context.Background()

	decision, err := tr.CheckAndConsume(ctx, "a@x.com", true)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 5, decision.Used)

	decision, err = tr.CheckAndConsume(ctx, "a@x.com", true)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 5, decision.Used)
	assert.Equal(t, 5, store.accounts["a@x.com"].QuestionsUsed)
}

func TestCheckNeverBlocks(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 5, LastUseDate: today(),
	})
	tr := newTestTracker(store, nil, 5)

	decision, err := tr.CheckAndConsume(context.Background(), "a@x.com", false)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "check-only calls only report, never refuse")
	assert.Equal(t, 5, decision.Used)
}

func TestStoreFailureIsAnError(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{Email: "a@x.com", LastUseDate: today()})
	store.failing = true
	tr := newTestTracker(store, nil, 5)

	_, err := tr.CheckAndConsume(context.Background(), "a@x.com", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown, "store failure must not look like a quota outcome")
}

func TestStatusReportsRemainingAndReset(t *testing.T) {
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 3, LastUseDate: today(),
	})
	tr := newTestTracker(store, nil, 5)

	status, err := tr.Status(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Used)
	assert.Equal(t, 2, status.Remaining)
	assert.Equal(t, 5, status.Limit)
	assert.Equal(t, "2025-03-15T00:00:00Z", status.ResetsAt)
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, ttl), mr
}

func TestCheckServedFromCache(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 1, LastUseDate: today(),
	})
	tr := newTestTracker(store, cache, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := tr.CheckAndConsume(ctx, "a@x.com", false)
		require.NoError(t, err)
		assert.Equal(t, 1, decision.Used)
	}
	assert.Equal(t, 1, store.snapshotCalls, "repeat checks should hit the cache")
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 1, LastUseDate: today(),
	})
	tr := newTestTracker(store, cache, 5)
	ctx := context.Background()

	_, err := tr.CheckAndConsume(ctx, "a@x.com", false)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = tr.CheckAndConsume(ctx, "a@x.com", false)
	require.NoError(t, err)
	assert.Equal(t, 2, store.snapshotCalls, "expired entry should fall through to the store")
}

func TestConsumeInvalidatesCache(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 1, LastUseDate: today(),
	})
	tr := newTestTracker(store, cache, 5)
	ctx := context.Background()

	// Prime the cache with used=1.
	decision, err := tr.CheckAndConsume(ctx, "a@x.com", false)
	require.NoError(t, err)
	assert.Equal(t, 1, decision.Used)

	decision, err = tr.CheckAndConsume(ctx, "a@x.com", true)
	require.NoError(t, err)
	assert.Equal(t, 2, decision.Used)

	// The next check must see the write, not the primed entry.
	decision, err = tr.CheckAndConsume(ctx, "a@x.com", false)
	require.NoError(t, err)
	assert.Equal(t, 2, decision.Used)
}

func TestConsumeBypassesStaleCache(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	store := newFakeStore(&models.AccountSnapshot{
		Email: "a@x.com", QuestionsUsed: 4, LastUseDate: today(),
	})
	tr := newTestTracker(store, cache, 5)
	ctx := context.Background()

	// Prime the cache, then advance the store behind its back.
	_, err := tr.CheckAndConsume(ctx, "a@x.com", false)
	require.NoError(t, err)
	store.accounts["a@x.com"].QuestionsUsed = 5

	decision, err := tr.CheckAndConsume(ctx, "a@x.com", true)
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "consumption must re-derive from the authoritative store")
	assert.Equal(t, 5, decision.Used)
}
