package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

func seedSubscriber(t *testing.T, store *Store, userID, username string) {
	t.Helper()
	ctx := context.Background()
	name := username
	require.NoError(t, store.CreateUser(ctx, &domain.User{
		ID:       userID,
		Email:    userID + "@example.com",
		Username: &name,
	}))
	require.NoError(t, store.SaveSubscription(ctx, &domain.Subscription{
		ID:     "sub-" + userID,
		UserID: userID,
		Status: domain.SubscriptionActive,
	}))
}

func newRecord(id, userID, name string) *domain.CustomDomain {
	return &domain.CustomDomain{
		ID:               id,
		UserID:           userID,
		Domain:           name,
		Status:           domain.DomainStatusPending,
		VerificationCode: "code-" + id,
		CNAMETarget:      "tinypm.app",
	}
}

func TestMemoryStore_CreateCustomDomain(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedSubscriber(t, store, "user-1", "alice")

	require.NoError(t, store.CreateCustomDomain(ctx, newRecord("d1", "user-1", "links.alice.dev")))

	got, err := store.GetCustomDomainByDomain(ctx, "links.alice.dev")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, domain.DomainStatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	err = store.CreateCustomDomain(ctx, newRecord("d2", "user-1", "links.alice.dev"))
	assert.ErrorIs(t, err, storage.ErrDomainExists)

	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "user-2", Email: "bob@example.com"}))
	err = store.CreateCustomDomain(ctx, newRecord("d3", "user-2", "bob.dev"))
	assert.ErrorIs(t, err, storage.ErrSubscriptionRequired)

	list, err := store.ListCustomDomainsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_ExpiredSubscriptionRejected(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "user-1", Email: "a@example.com"}))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveSubscription(ctx, &domain.Subscription{
		ID:               "sub-1",
		UserID:           "user-1",
		Status:           domain.SubscriptionActive,
		CurrentPeriodEnd: &past,
	}))

	err := store.CreateCustomDomain(ctx, newRecord("d1", "user-1", "alice.dev"))
	assert.ErrorIs(t, err, storage.ErrSubscriptionRequired)
}

func TestMemoryStore_BeginVerificationAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedSubscriber(t, store, "user-1", "alice")
	require.NoError(t, store.CreateCustomDomain(ctx, newRecord("d1", "user-1", "alice.dev")))

	now := time.Now()
	won, err := store.BeginVerificationAttempt(ctx, "d1", storage.AttemptClaim{
		ObservedAttempts: 0,
		Now:              now,
		MaxAttempts:      5,
	})
	require.NoError(t, err)
	assert.True(t, won)

	// 观察值已过期
	won, err = store.BeginVerificationAttempt(ctx, "d1", storage.AttemptClaim{
		ObservedAttempts: 0,
		Now:              now,
		MaxAttempts:      5,
	})
	require.NoError(t, err)
	assert.False(t, won)

	got, err := store.GetCustomDomain(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.VerificationAttempts)
	assert.Equal(t, domain.DomainStatusDNSVerification, got.Status)
	require.NotNil(t, got.LastAttemptAt)
	assert.True(t, got.LastAttemptAt.Equal(now))

	_, err = store.BeginVerificationAttempt(ctx, "missing", storage.AttemptClaim{MaxAttempts: 5})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_BeginVerificationAttemptRespectsCap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedSubscriber(t, store, "user-1", "alice")
	record := newRecord("d1", "user-1", "alice.dev")
	record.VerificationAttempts = 5
	require.NoError(t, store.CreateCustomDomain(ctx, record))

	won, err := store.BeginVerificationAttempt(ctx, "d1", storage.AttemptClaim{
		ObservedAttempts: 5,
		Now:              time.Now(),
		MaxAttempts:      5,
	})
	require.NoError(t, err)
	assert.False(t, won)
}

func TestMemoryStore_ConcurrentVerificationSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedSubscriber(t, store, "user-1", "alice")
	require.NoError(t, store.CreateCustomDomain(ctx, newRecord("d1", "user-1", "alice.dev")))

	var wins int32
	var wg sync.WaitGroup
	now := time.Now()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.BeginVerificationAttempt(ctx, "d1", storage.AttemptClaim{
				ObservedAttempts: 0,
				Now:              now,
				MaxAttempts:      5,
			})
			if err == nil && won {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	got, err := store.GetCustomDomain(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.VerificationAttempts)
}

func TestMemoryStore_FindActiveByHostname(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedSubscriber(t, store, "user-1", "alice")
	require.NoError(t, store.CreateCustomDomain(ctx, newRecord("d1", "user-1", "alice.dev")))

	_, err := store.FindActiveByHostname(ctx, "alice.dev")
	assert.ErrorIs(t, err, storage.ErrNotFound, "pending domains are not routable")

	record, err := store.GetCustomDomain(ctx, "d1")
	require.NoError(t, err)
	verifiedAt := time.Now()
	record.Status = domain.DomainStatusActive
	record.VerifiedAt = &verifiedAt
	require.NoError(t, store.SaveVerificationResult(ctx, record))

	route, err := store.FindActiveByHostname(ctx, "alice.dev")
	require.NoError(t, err)
	assert.Equal(t, "alice", route.Username)
	assert.Equal(t, "user-1", route.UserID)
	assert.Equal(t, "d1", route.DomainID)

	assert.ErrorIs(t, store.DeleteCustomDomain(ctx, "d1", "someone-else"), storage.ErrNotFound)
	require.NoError(t, store.DeleteCustomDomain(ctx, "d1", "user-1"))

	_, err = store.FindActiveByHostname(ctx, "alice.dev")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	subject := "google-123"
	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "u1", Email: "a@example.com", GoogleSubject: &subject}))
	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "u2", Email: "b@example.com"}))

	assert.ErrorIs(t, store.CreateUser(ctx, &domain.User{ID: "u3", Email: "a@example.com"}), storage.ErrEmailExists)

	got, err := store.GetUserByGoogleSubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	require.NoError(t, store.ClaimUsername(ctx, "u1", "alice"))
	assert.ErrorIs(t, store.ClaimUsername(ctx, "u2", "alice"), storage.ErrUsernameTaken)
	require.NoError(t, store.ClaimUsername(ctx, "u1", "alice2"))
	require.NoError(t, store.ClaimUsername(ctx, "u2", "alice"), "released names can be claimed again")

	got, err = store.GetUserByUsername(ctx, "alice2")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_Blocks(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	for i, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, store.CreateBlock(ctx, &domain.Block{
			ID:        id,
			UserID:    "u1",
			Type:      domain.BlockTypeLink,
			URL:       "https://example.com/" + id,
			Position:  i,
			IsVisible: true,
		}))
	}

	require.NoError(t, store.ReorderBlocks(ctx, "u1", []string{"b3", "b1", "b2"}))
	blocks, err := store.ListBlocksByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, []string{"b3", "b1", "b2"}, []string{blocks[0].ID, blocks[1].ID, blocks[2].ID})

	assert.ErrorIs(t, store.ReorderBlocks(ctx, "u2", []string{"b1"}), storage.ErrNotFound)

	require.NoError(t, store.DeleteBlock(ctx, "b1", "u1"))
	blocks, err = store.ListBlocksByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, 0, blocks[0].Position)
	assert.Equal(t, 1, blocks[1].Position)

	require.NoError(t, store.RecordClick(ctx, &domain.BlockClick{ID: "c1", BlockID: "b2", UserID: "u1"}))
	require.NoError(t, store.RecordClick(ctx, &domain.BlockClick{ID: "c2", BlockID: "b2", UserID: "u1"}))

	stats, err := store.ClickStats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "b3", stats[0].BlockID)
	assert.Equal(t, int64(2), stats[1].Clicks)
}

func TestMemoryStore_IncrementRateLimit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementRateLimit(ctx, "verify:u1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	now = now.Add(2 * time.Minute)
	got, err := store.IncrementRateLimit(ctx, "verify:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "window resets after expiry")
}
