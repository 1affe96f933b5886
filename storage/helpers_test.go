package storage

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleTask(id, owner string, minutes int) domain.Task {
	return domain.Task{
		ID:        id,
		Text:      "task " + id,
		Owner:     owner,
		CreatedAt: baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
