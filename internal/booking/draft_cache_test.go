package booking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDraftCache(t *testing.T) (DraftCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDraftCache(client), mr
}

func TestDraftCacheRoundTrip(t *testing.T) {
	cache, mr := newTestDraftCache(t)
	ctx := context.Background()

	d := Draft{
		OrderID:     "order-1",
		DoctorID:    uuid.New(),
		Date:        "2026-03-09",
		SlotNumber:  4,
		SlotCount:   2,
		BookingFee:  decimal.RequireFromString("1500"),
		TotalAmount: decimal.RequireFromString("3000"),
		Currency:    "LKR",
	}
	require.NoError(t, cache.Put(ctx, d.OrderID, d, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("booking:draft:order-1"))

	got, err := cache.Get(ctx, d.OrderID)
	require.NoError(t, err)
	assert.Equal(t, d.DoctorID, got.DoctorID)
	assert.True(t, got.TotalAmount.Equal(d.TotalAmount))

	require.NoError(t, cache.Remove(ctx, d.OrderID))
	_, err = cache.Get(ctx, d.OrderID)
	assert.ErrorIs(t, err, ErrDraftExpiredOrMissing)
}

func TestDraftCacheExpiry(t *testing.T) {
	cache, mr := newTestDraftCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "order-2", Draft{OrderID: "order-2"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := cache.Get(ctx, "order-2")
	assert.ErrorIs(t, err, ErrDraftExpiredOrMissing)
}

func TestDraftCacheRejectsZeroTTL(t *testing.T) {
	cache, _ := newTestDraftCache(t)
	err := cache.Put(context.Background(), "order-3", Draft{}, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDraftCacheUnavailable(t *testing.T) {
	cache, mr := newTestDraftCache(t)
	mr.Close()

	_, err := cache.Get(context.Background(), "order-4")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDraftExpiredOrMissing)
}
