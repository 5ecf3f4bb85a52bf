package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, 100, cfg.PoolSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "localhost:6379", cfg.Addr())
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    0,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, cfg)
	assert.Error(t, err)
}

func TestComputeSHA1(t *testing.T) {
	sha := computeSHA1("return 1")

	assert.Len(t, sha, 40)
	assert.Equal(t, sha, computeSHA1("return 1"))
	assert.NotEqual(t, sha, computeSHA1("return 2"))
}

func TestIsNoScriptError(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{fmt.Errorf("some error"), false},
		{fmt.Errorf("NOSCRIPT No matching script. Please use EVAL."), true},
		{fmt.Errorf("NOSCRIPT some other message"), true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, isNoScriptError(tt.err), "err=%v", tt.err)
	}
}

func TestClient_EvalWithFallback(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	script := `return tonumber(ARGV[1]) * 2`

	result, err := client.EvalWithFallback(ctx, "double", script, nil, 7).Int()
	require.NoError(t, err)
	assert.Equal(t, 14, result)

	_, ok := client.GetScriptSHA("double")
	assert.True(t, ok)

	// server lost its script cache
	mr.FlushAll()
	_, err = client.Client().ScriptFlush(ctx).Result()
	require.NoError(t, err)

	result, err = client.EvalWithFallback(ctx, "double", script, nil, 10).Int()
	require.NoError(t, err)
	assert.Equal(t, 20, result)
}

func TestClient_ConsumerGroupLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, "s", "g"))
	// idempotent
	require.NoError(t, client.EnsureGroup(ctx, "s", "g"))

	id1, err := client.XAdd(ctx, "s", 0, map[string]interface{}{"user_id": "u1"}).Result()
	require.NoError(t, err)
	_, err = client.XAdd(ctx, "s", 0, map[string]interface{}{"user_id": "u2"}).Result()
	require.NoError(t, err)

	msgs, err := client.XReadGroup(ctx, "s", "g", "c1", ">", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id1, msgs[0].ID)

	// nothing new
	msgs, err = client.XReadGroup(ctx, "s", "g", "c1", ">", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// own pending entries are re-delivered with id 0
	msgs, err = client.XReadGroup(ctx, "s", "g", "c1", "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	// another consumer claims idle entries
	claimed, err := client.XAutoClaim(ctx, "s", "g", "c2", 0, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	require.NoError(t, client.XAckDel(ctx, "s", "g", id1))
	n, err := client.XLen(ctx, "s").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClient_XAddTrimsAndXRangeReplays(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := client.XAdd(ctx, "push", 3, map[string]interface{}{"n": i}).Result()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := client.XLen(ctx, "push").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	msgs, err := client.XRange(ctx, "push", "("+ids[2], "+", 10).Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ids[3], msgs[0].ID)

	last, err := client.XLast(ctx, "push")
	require.NoError(t, err)
	assert.Equal(t, ids[4], last.ID)
}

func TestClient_XInfoConsumers(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.XAdd(ctx, "log", 0, map[string]interface{}{"n": 1}).Result()
	require.NoError(t, err)
	require.NoError(t, client.EnsureGroup(ctx, "log", "g"))
	_, err = client.XReadGroup(ctx, "log", "g", "old", ">", 10)
	require.NoError(t, err)

	consumers, err := client.XInfoConsumers(ctx, "log", "g")
	require.NoError(t, err)
	require.Len(t, consumers, 1)
	assert.Equal(t, "old", consumers[0].Name)
	assert.Equal(t, int64(1), consumers[0].Pending)

}

func TestClient_Scan(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("gate:holder:u%d", i), "x"))
	}
	require.NoError(t, mr.Set("other", "x"))

	seen := 0
	err := client.Scan(ctx, "gate:holder:*", 10, func(keys []string) error {
		seen += len(keys)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 25, seen)
}

func TestClient_ExpiredChannel(t *testing.T) {
	client, _ := newTestClient(t)
	assert.Equal(t, "__keyevent@0__:expired", client.ExpiredChannel())
}
