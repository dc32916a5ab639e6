package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCartRepository_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	repo := NewCartRepository(client, time.Minute)
	session := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, keyPrefix+session) })

	st := cart.NewStore(cart.Empty())
	a := product.Product{ID: "A", Name: "Alpha", Price: decimal.RequireFromString("100.50")}
	st.Add(a)
	st.Add(a)
	st.Add(product.Product{ID: "B", Name: "Beta", Price: decimal.NewFromInt(250)})

	require.NoError(t, repo.Save(ctx, session, st.Snapshot()))

	ttl, err := client.TTL(ctx, keyPrefix+session).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	got, err := repo.Load(ctx, session)
	require.NoError(t, err)
	items := got.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, decimal.RequireFromString("100.50").Equal(items[0].UnitPrice))
	assert.Equal(t, "B", items[1].ProductID)
	assert.True(t, decimal.RequireFromString("451").Equal(got.Total()))
}

func TestCartRepository_UnknownSession(t *testing.T) {
	client := getRedisClient(t)
	repo := NewCartRepository(client, time.Minute)

	got, err := repo.Load(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestCartRepository_EmptyDeletes(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	repo := NewCartRepository(client, time.Minute)
	session := uuid.NewString()

	c := cart.Reduce(cart.Empty(), cart.Add{Product: product.Product{ID: "A", Price: decimal.NewFromInt(1)}})
	require.NoError(t, repo.Save(ctx, session, c))
	require.NoError(t, repo.Save(ctx, session, cart.Empty()))

	n, err := client.Exists(ctx, keyPrefix+session).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCartRepository_Sessions(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	repo := NewCartRepository(client, time.Minute)
	session := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, keyPrefix+session) })

	first := cart.NewSessions(repo, nil)
	st, err := first.Get(ctx, session)
	require.NoError(t, err)
	st.Add(product.Product{ID: "A", Name: "Alpha", Price: decimal.NewFromInt(100)})

	restored := cart.NewSessions(repo, nil)
	st2, err := restored.Get(ctx, session)
	require.NoError(t, err)
	li, ok := st2.Snapshot().Get("A")
	require.True(t, ok)
	assert.Equal(t, 1, li.Quantity)
}
