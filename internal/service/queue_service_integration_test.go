package service_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"video-compiler-service/internal/service"
)

// Runs against a real Redis when REDIS_TEST_ADDR is set, for example localhost:6379.
func newRedisQueue(t *testing.T) service.Queue {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	prefix := "test:" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = rdb.Del(ctx, keys...).Err()
		}
	})
	return service.NewRedisQueue(rdb, prefix+":queue", prefix+":processing")
}

func TestRedisQueue_LeaseHasOneOwner(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()
	id := uuid.NewString()

	if ok, err := q.Lease(ctx, id, "worker-a", time.Minute); err != nil || !ok {
		t.Fatalf("first lease: ok=%v err=%v", ok, err)
	}
	if ok, err := q.Lease(ctx, id, "worker-b", time.Minute); err != nil || ok {
		t.Fatalf("second owner must not lease: ok=%v err=%v", ok, err)
	}
	if ok, err := q.RenewLease(ctx, id, "worker-b", time.Minute); err != nil || ok {
		t.Fatalf("non-owner renew must fail: ok=%v err=%v", ok, err)
	}
	if ok, err := q.RenewLease(ctx, id, "worker-a", time.Minute); err != nil || !ok {
		t.Fatalf("owner renew: ok=%v err=%v", ok, err)
	}

	if err := q.ReleaseLease(ctx, id, "worker-b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := q.Lease(ctx, id, "worker-b", time.Minute); ok {
		t.Fatal("non-owner release must not free the lease")
	}
	if err := q.ReleaseLease(ctx, id, "worker-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := q.Lease(ctx, id, "worker-b", time.Minute); err != nil || !ok {
		t.Fatalf("lease after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisQueue_ClaimAndAck(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, err := q.ClaimBlocking(ctx, time.Second)
	if err != nil || id != "job-1" {
		t.Fatalf("claim: id=%q err=%v", id, err)
	}
	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if moved, err := q.RequeueStale(ctx, 10); err != nil || moved != 0 {
		t.Fatalf("acked entry must not be requeued: moved=%d err=%v", moved, err)
	}
	if _, err := q.ClaimBlocking(ctx, 100*time.Millisecond); err != service.ErrQueueEmpty {
		t.Fatalf("expected empty queue, got %v", err)
	}
}
