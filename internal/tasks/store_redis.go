package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each task as a JSON document plus sorted-set indexes by
// update time and per requester.
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

func (s *RedisStore) taskKey(id string) string { return s.keyPrefix + "task:" + id }

func (s *RedisStore) updatedKey() string { return s.keyPrefix + "tasks:updated" }

func (s *RedisStore) statusKey() string { return s.keyPrefix + "tasks:status" }

func (s *RedisStore) openKey() string { return s.keyPrefix + "tasks:open" }

func (s *RedisStore) requesterKey(id string) string { return s.keyPrefix + "tasks:requester:" + id }

func (s *RedisStore) SaveTask(ctx context.Context, task Task) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(task.ID), doc, 0)
		pipe.ZAdd(ctx, s.updatedKey(), redis.Z{Score: score(task.UpdatedAt), Member: task.ID})
		pipe.ZAdd(ctx, s.requesterKey(task.RequesterID), redis.Z{Score: score(task.CreatedAt), Member: task.ID})
		pipe.HSet(ctx, s.statusKey(), task.ID, string(task.Status))
		if task.Terminal() {
			pipe.SRem(ctx, s.openKey(), task.ID)
		} else {
			pipe.SAdd(ctx, s.openKey(), task.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	doc, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	var task Task
	if err := json.Unmarshal(doc, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func (s *RedisStore) DeleteTask(ctx context.Context, taskID string) error {
	task, err := s.GetTask(ctx, taskID)
	if errors.Is(err, ErrStoreNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.taskKey(taskID))
		pipe.ZRem(ctx, s.updatedKey(), taskID)
		pipe.ZRem(ctx, s.requesterKey(task.RequesterID), taskID)
		pipe.HDel(ctx, s.statusKey(), taskID)
		pipe.SRem(ctx, s.openKey(), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *RedisStore) ListTasksByRequester(ctx context.Context, requesterID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.client.ZRevRange(ctx, s.requesterKey(requesterID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list requester tasks: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) ListRetiredTasks(ctx context.Context, before time.Time) ([]Task, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.updatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list retired tasks: %w", err)
	}
	candidates, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(candidates))
	for _, task := range candidates {
		if retired(task, before) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *RedisStore) ListOpenTasks(ctx context.Context) ([]Task, error) {
	ids, err := s.client.SMembers(ctx, s.openKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) CountTasksByStatus(ctx context.Context) (map[Status]int, error) {
	statuses, err := s.client.HVals(ctx, s.statusKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	out := make(map[Status]int)
	for _, st := range statuses {
		out[Status(st)]++
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return []Task{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	out := make([]Task, 0, len(docs))
	for _, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		out = append(out, task)
	}
	return out, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
