package staging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-dashboard/internal/models"
)

func sampleBatch(watchlist string) *models.StagingBatch {
	return &models.StagingBatch{
		WatchlistName: watchlist,
		Successful:    []models.Instrument{{Symbol: "AAPL", Conid: "265598", CompanyName: "APPLE INC"}},
		Failed:        []models.FailedSymbol{{Symbol: "ZZZZ", Reason: "Symbol not found"}},
		CreatedAt:     time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Put(ctx, "s1", sampleBatch("Tech")))
	got, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sampleBatch("Tech"), got)

	other, err := m.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, m.Delete(ctx, "s1"))
	got, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)

	require.NoError(t, m.Put(ctx, "s1", sampleBatch("Tech")))
	require.NoError(t, m.Put(ctx, "s1", sampleBatch("Energy")))

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Energy", got.WatchlistName)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)
	m := NewMemoryStore(10 * time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "s1", sampleBatch("Tech")))

	now = now.Add(9 * time.Minute)
	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(time.Minute)
	got, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, m.Len())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(0)

	batch := sampleBatch("Tech")
	require.NoError(t, m.Put(ctx, "s1", batch))
	batch.Successful[0].Symbol = "CHANGED"

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Successful[0].Symbol)

	got.Failed = nil
	again, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, again.Failed, 1)
}

// TestRedisStore needs a disposable Redis; set REDIS_TEST_ADDR to run it.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()

	r, err := DialRedis(ctx, addr, time.Minute)
	require.NoError(t, err)
	defer r.Close()
	r.prefix = "ibkr-dashboard-test:" + t.Name() + ":"

	got, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.Put(ctx, "s1", sampleBatch("Tech")))
	got, err = r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sampleBatch("Tech"), got)

	ttl, err := r.client.TTL(ctx, r.key("s1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, r.Delete(ctx, "s1"))
	_, err = r.client.Get(ctx, r.key("s1")).Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestDialRedisUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := DialRedis(ctx, "127.0.0.1:1", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis at 127.0.0.1:1")
}
