package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set CODECOLLAB_TEST_REDIS=localhost:6379 to run against a live server.
func TestRedis_SaveLoad(t *testing.T) {
	addr := os.Getenv("CODECOLLAB_TEST_REDIS")
	if addr == "" {
		t.Skip("CODECOLLAB_TEST_REDIS not set")
	}
	ctx := context.Background()

	r, err := OpenRedis(ctx, addr, 0)
	require.NoError(t, err)
	defer r.Close()

	uid := "test-" + uuid.NewString()
	defer r.rdb.Del(ctx, redisKeyPrefix+uid)

	_, err = r.Load(ctx, uid)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Save(ctx, uid, Document{Code: "fmt.Println(1)", Language: "go"}))
	got, err := r.Load(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "fmt.Println(1)", got.Code)
	assert.Equal(t, "go", got.Language)
}
