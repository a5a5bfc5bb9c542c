package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps users as hashes and client records as JSON documents.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "broker:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) userKey(key string) string {
	return s.keyPrefix + "user:" + key
}

func (s *RedisStore) clientKey(sessionID string) string {
	return s.keyPrefix + "client:" + sessionID
}

func (s *RedisStore) connectedKey() string {
	return s.keyPrefix + "clients:connected"
}

func (s *RedisStore) GetUser(ctx context.Context, key string) (User, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(key)).Result()
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if len(fields) == 0 {
		return User{}, ErrNotFound
	}
	return decodeUser(key, fields)
}

func (s *RedisStore) AuthenticateUser(ctx context.Context, key, defaultRole string) (User, error) {
	k := s.userKey(key)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, k, "role", defaultRole)
		pipe.HSetNX(ctx, k, "created_at", now)
		pipe.HIncrBy(ctx, k, "authenticated", 1)
		pipe.HSet(ctx, k, "updated_at", now)
		return nil
	})
	if err != nil {
		return User{}, fmt.Errorf("authenticate user: %w", err)
	}
	return s.GetUser(ctx, key)
}

func (s *RedisStore) SetUserRole(ctx context.Context, key, role string) (User, error) {
	k := s.userKey(key)
	n, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return User{}, fmt.Errorf("set user role: %w", err)
	}
	if n == 0 {
		return User{}, ErrNotFound
	}
	if err := s.client.HSet(ctx, k,
		"role", role,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return User{}, fmt.Errorf("set user role: %w", err)
	}
	return s.GetUser(ctx, key)
}

func (s *RedisStore) EnsureSystemUser(ctx context.Context, key string) (User, error) {
	k := s.userKey(key)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, k, "created_at", now)
		pipe.HSetNX(ctx, k, "authenticated", 0)
		pipe.HSet(ctx, k, "role", "admin", "system", "1", "updated_at", now)
		return nil
	})
	if err != nil {
		return User{}, fmt.Errorf("ensure system user: %w", err)
	}
	return s.GetUser(ctx, key)
}

func (s *RedisStore) SaveClient(ctx context.Context, c Client) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal client: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.clientKey(c.SessionID), data, 0)
	if c.Connected {
		pipe.SAdd(ctx, s.connectedKey(), c.SessionID)
	} else {
		pipe.SRem(ctx, s.connectedKey(), c.SessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (s *RedisStore) DisconnectAllClients(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, s.connectedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list connected clients: %w", err)
	}
	now := time.Now().UTC()
	n := 0
	for _, id := range ids {
		c, err := s.getClient(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		c.Connected = false
		c.LastContact = now
		if err := s.SaveClient(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *RedisStore) getClient(ctx context.Context, sessionID string) (Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(sessionID)).Bytes()
	if err == redis.Nil {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	var c Client
	if err := json.Unmarshal(data, &c); err != nil {
		return Client{}, fmt.Errorf("decode client: %w", err)
	}
	return c, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeUser(key string, fields map[string]string) (User, error) {
	u := User{Key: key, Role: fields["role"], System: fields["system"] == "1"}
	if v := fields["authenticated"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return User{}, fmt.Errorf("decode user counter: %w", err)
		}
		u.Authenticated = n
	}
	var err error
	if u.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return User{}, err
	}
	if u.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return User{}, err
	}
	return u, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode user time: %w", err)
	}
	return t, nil
}
