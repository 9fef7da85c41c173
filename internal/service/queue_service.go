package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by ClaimBlocking when nothing arrived in time.
var ErrQueueEmpty = redis.Nil

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, max int64) (int64, error)

	// Lease marks jobID as processed by owner for ttl. It reports false when
	// another owner holds an unexpired lease.
	Lease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	// RenewLease extends a lease still held by owner. False means it was lost.
	RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, jobID, owner string) error
}

var (
	renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// redisQueue is a reliable queue on two Redis lists.
// Claim: BRPOPLPUSH queue -> processing
// Ack:   LREM processing
// Items left in processing by a crashed worker are moved back by RequeueStale.
// Lease: SET processing:lease:<id> owner NX PX ttl, so one replica processes
// a job even when its id sits in the lists more than once.
type redisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

func NewRedisQueue(rdb *redis.Client, queueKey, processingKey string) Queue {
	return &redisQueue{rdb: rdb, queueKey: queueKey, processingKey: processingKey}
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueKey, jobID).Err()
}

// ClaimBlocking waits in one-second slots so ctx cancellation is noticed
// promptly. A timeout <= 0 waits until ctx is done.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		wait := time.Second
		if !forever {
			remain := time.Until(deadline)
			if remain <= 0 {
				return "", ErrQueueEmpty
			}
			if remain < wait {
				wait = remain
			}
		}

		id, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, wait).Result()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		return "", err
	}
}

func (q *redisQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, jobID).Err()
}

// RequeueStale moves up to max items from processing back to the queue.
// Run it only before this process starts claiming.
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		id, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		if id != "" {
			moved++
		}
	}
	return moved, nil
}

func (q *redisQueue) leaseKey(jobID string) string {
	return q.processingKey + ":lease:" + jobID
}

func (q *redisQueue) Lease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	return q.rdb.SetNX(ctx, q.leaseKey(jobID), owner, ttl).Result()
}

func (q *redisQueue) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	n, err := renewLeaseScript.Run(ctx, q.rdb, []string{q.leaseKey(jobID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (q *redisQueue) ReleaseLease(ctx context.Context, jobID, owner string) error {
	return releaseLeaseScript.Run(ctx, q.rdb, []string{q.leaseKey(jobID)}, owner).Err()
}
