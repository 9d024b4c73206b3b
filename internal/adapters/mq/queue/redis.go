package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/lowmax205/eas/pkg/logger"
	"github.com/lowmax205/eas/pkg/metrics"
)

const (
	defaultRedisKey     = "eas:submissions"
	defaultBlockTimeout = time.Second
)

// RedisQueue implements Queue on a Redis list with LPUSH/BRPOP, so several
// service instances can share one backlog.
type RedisQueue struct {
	client       redis.UniversalClient
	key          string
	capacity     int
	blockTimeout time.Duration
	closed       atomic.Bool
	log          logger.Logger
}

// NewRedisClient connects to redis with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: time.Second,
	})
}

// NewRedisQueue builds a queue on key. The client is owned by the caller.
func NewRedisQueue(client redis.UniversalClient, key string, log logger.Logger, opts ...RedisOption) *RedisQueue {
	if key == "" {
		key = defaultRedisKey
	}
	if log == nil {
		log = logger.Nop()
	}
	q := &RedisQueue{
		client:       client,
		key:          key,
		capacity:     defaultQueueCapacity,
		blockTimeout: defaultBlockTimeout,
		log:          log,
	}
	for _, opt := range opts {
		opt(q)
	}
	metrics.UpdateQueueCapacity(q.capacity)
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	if q.closed.Load() {
		metrics.RecordQueueEnqueueError()
		return ErrClosed
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	if q.capacity > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			metrics.RecordQueueEnqueueError()
			return eris.Wrap(err, "redis queue: llen")
		}
		if n >= int64(q.capacity) {
			metrics.RecordQueueEnqueueError()
			metrics.RecordErrorByComponent("queue", "queue_full")
			return ErrQueueFull
		}
	}

	payload, err := encodeJob(j)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		return eris.Wrap(err, "redis queue: lpush")
	}
	metrics.RecordQueueEnqueue()
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for !q.closed.Load() && ctx.Err() == nil {
			res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				metrics.RecordQueueDequeueError()
				q.log.Warn(ctx, "redis queue: brpop failed", logger.Error(err))
				sleepCtx(ctx, q.blockTimeout)
				continue
			}
			if len(res) != 2 {
				continue
			}
			j, err := decodeJob(res[1])
			if err != nil {
				metrics.RecordQueueDequeueError()
				q.log.Error(ctx, "redis queue: dropping malformed job", logger.Error(err))
				continue
			}
			select {
			case out <- j:
				metrics.RecordQueueDequeue()
			case <-ctx.Done():
				// put it back for another consumer
				_ = q.client.RPush(context.WithoutCancel(ctx), q.key, res[1]).Err()
				return
			}
		}
	}()
	return out
}

func (q *RedisQueue) Len(ctx context.Context) int {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0
	}
	metrics.UpdateQueueSize(int(n))
	return int(n)
}

func (q *RedisQueue) Capacity() int { return q.capacity }

// Close stops intake and ends consumers after their current BRPOP.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func (q *RedisQueue) IsClosed() bool { return q.closed.Load() }

func encodeJob(j Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", eris.Wrap(err, "redis queue: encode job")
	}
	return string(b), nil
}

func decodeJob(s string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return Job{}, eris.Wrap(err, "redis queue: decode job")
	}
	if j.SubmissionID == "" {
		return Job{}, eris.New("redis queue: job without submission id")
	}
	return j, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
