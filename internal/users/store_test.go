package users

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:")
}

func storeBackends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func TestStoreAuthenticateUser(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetUser(ctx, "pub1")
			assert.ErrorIs(t, err, ErrNotFound)

			u, err := store.AuthenticateUser(ctx, "pub1", "user")
			require.NoError(t, err)
			assert.Equal(t, "user", u.Role)
			assert.Equal(t, 1, u.Authenticated)

			_, err = store.SetUserRole(ctx, "pub1", "admin")
			require.NoError(t, err)

			u, err = store.AuthenticateUser(ctx, "pub1", "user")
			require.NoError(t, err)
			assert.Equal(t, "admin", u.Role, "existing users keep their stored role")
			assert.Equal(t, 2, u.Authenticated)
		})
	}
}

func TestStoreSetUserRoleUnknownKey(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SetUserRole(context.Background(), "nobody", "admin")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreEnsureSystemUser(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.AuthenticateUser(ctx, "sys", "user")
			require.NoError(t, err)

			u, err := store.EnsureSystemUser(ctx, "sys")
			require.NoError(t, err)
			assert.Equal(t, "admin", u.Role)
			assert.True(t, u.System)
			assert.Equal(t, 1, u.Authenticated)
		})
	}
}

func TestStoreDisconnectAllClients(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			for _, id := range []string{"s1", "s2"} {
				require.NoError(t, store.SaveClient(ctx, Client{
					SessionID:    id,
					Role:         "guest",
					Connected:    true,
					FirstContact: now,
					LastContact:  now,
					Metadata:     json.RawMessage(`{"agent":"test"}`),
				}))
			}
			require.NoError(t, store.SaveClient(ctx, Client{SessionID: "s3", Role: "guest"}))

			n, err := store.DisconnectAllClients(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = store.DisconnectAllClients(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestRedisStoreKeepsClientDocuments(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveClient(ctx, Client{SessionID: "s1", IP: "10.0.0.1", Role: "user", Connected: true}))

	_, err := store.DisconnectAllClients(ctx)
	require.NoError(t, err)

	c, err := store.getClient(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, c.Connected)
	assert.Equal(t, "10.0.0.1", c.IP)
}
