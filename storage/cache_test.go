package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"taskboard/domain"
)

type stubBackend struct {
	listFn   func(ctx context.Context, owner string) ([]domain.Task, error)
	insertFn func(ctx context.Context, task domain.Task) (domain.Task, error)
	deleteFn func(ctx context.Context, owner, id string) error
}

func (s *stubBackend) List(ctx context.Context, owner string) ([]domain.Task, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return s.listFn(ctx, owner)
}

func (s *stubBackend) Get(ctx context.Context, id string) (domain.Task, error) {
	return domain.Task{}, ErrNotFound
}

func (s *stubBackend) Insert(ctx context.Context, task domain.Task) (domain.Task, error) {
	if s.insertFn == nil {
		return domain.Task{}, errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, task)
}

func (s *stubBackend) Delete(ctx context.Context, owner, id string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, owner, id)
}

func TestCacheListMissThenHit(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	owner := "a@x.com"
	expected := []domain.Task{sampleTask("t1", owner, 0)}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, o string) ([]domain.Task, error) {
			calls++
			if o != owner {
				t.Fatalf("unexpected owner: %s", o)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.List(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if ttl := mr.TTL(tasksCacheKey(owner)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.List(ctx, owner)
	if err != nil {
		t.Fatalf("list cached: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "t1" || !cached[0].CreatedAt.Equal(expected[0].CreatedAt) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
}

func TestCacheInsertAndDeleteEvict(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	owner := "a@x.com"

	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, o string) ([]domain.Task, error) {
			return []domain.Task{}, nil
		},
		insertFn: func(ctx context.Context, task domain.Task) (domain.Task, error) {
			task.ID = "new"
			return task, nil
		},
		deleteFn: func(ctx context.Context, o, id string) error { return nil },
	}, client, time.Minute)

	if _, err := cache.List(ctx, owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !mr.Exists(tasksCacheKey(owner)) {
		t.Fatalf("expected cache entry after list")
	}
	if _, err := cache.Insert(ctx, sampleTask("", owner, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mr.Exists(tasksCacheKey(owner)) {
		t.Fatalf("expected insert to evict cache entry")
	}

	if _, err := cache.List(ctx, owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cache.Delete(ctx, owner, "new"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(tasksCacheKey(owner)) {
		t.Fatalf("expected delete to evict cache entry")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	owner := "a@x.com"
	if err := mr.Set(tasksCacheKey(owner), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, o string) ([]domain.Task, error) {
			calls++
			return []domain.Task{sampleTask("t1", owner, 0)}, nil
		},
	}, client, time.Minute)

	tasks, err := cache.List(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if calls != 1 || len(tasks) != 1 {
		t.Fatalf("expected backend fallback, calls=%d tasks=%d", calls, len(tasks))
	}
}

func TestCacheFailedWriteKeepsEntry(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	owner := "a@x.com"
	boom := errors.New("write failed")

	cache := NewCache(&stubBackend{
		listFn:   func(ctx context.Context, o string) ([]domain.Task, error) { return []domain.Task{}, nil },
		deleteFn: func(ctx context.Context, o, id string) error { return boom },
	}, client, time.Minute)

	if _, err := cache.List(ctx, owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cache.Delete(ctx, owner, "t1"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(tasksCacheKey(owner)) {
		t.Fatalf("failed delete must not evict cache entry")
	}
}

func TestCacheListSkipsStoreAfterConcurrentEvict(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	owner := "a@x.com"

	var cache *Cache
	var calls int
	cache = NewCache(&stubBackend{
		listFn: func(ctx context.Context, o string) ([]domain.Task, error) {
			calls++
			if calls == 1 {
				// A write for the owner lands while this read is in flight.
				cache.evict(ctx, o)
			}
			return []domain.Task{sampleTask("t1", o, 0)}, nil
		},
	}, client, time.Minute)

	if _, err := cache.List(ctx, owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if mr.Exists(tasksCacheKey(owner)) {
		t.Fatalf("list read before an eviction must not be cached")
	}

	if _, err := cache.List(ctx, owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !mr.Exists(tasksCacheKey(owner)) {
		t.Fatalf("expected undisturbed read to be cached")
	}
}
