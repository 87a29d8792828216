package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/examextract/internal/review"
)

// SpecialistQueue is a Redis Streams queue for pages marked
// pending_unsupported. Specialists consume via a consumer group; a delayed
// ZSET mover supports deferred retries and a DLQ holds tasks that keep
// failing.
type SpecialistQueue struct {
	client *redis.Client
	// streams / groups
	Stream string
	Group  string
	// keys
	DelayedKey string
	DLQStream  string
	// mover control
	pollInterval time.Duration
	stop         chan struct{}
}

// NewSpecialistQueue connects to Redis, ensures stream & group, and starts
// the delayed mover.
func NewSpecialistQueue(redisURL, stream, group string, poll time.Duration) (*SpecialistQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := &SpecialistQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	// Ensure consumer group exists (MKSTREAM creates stream if missing)
	if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *SpecialistQueue) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *SpecialistQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds an unsupported page to the stream as a single-field entry
// {data: <json>}.
func (q *SpecialistQueue) Enqueue(ctx context.Context, task review.UnsupportedPage) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(payload)},
	}).Err()
}

// EnqueueDelayed schedules a task for later delivery via ZSET.
func (q *SpecialistQueue) EnqueueDelayed(ctx context.Context, task review.UnsupportedPage, executeAt time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.Unix()), Member: string(payload)}).Err()
}

// Dequeue reads one task from the consumer group. A zero-value task with
// empty msgID means no task was available within the timeout.
func (q *SpecialistQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, review.UnsupportedPage, error) {
	var task review.UnsupportedPage
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
		NoAck:    false,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return "", task, nil
		}
		return "", task, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", task, nil
	}
	msg := res[0].Messages[0]
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return msg.ID, task, fmt.Errorf("malformed queue entry %s", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return msg.ID, task, fmt.Errorf("unmarshal task %s: %w", msg.ID, err)
	}
	return msg.ID, task, nil
}

// Ack marks a task as handled.
func (q *SpecialistQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// AddDLQ pushes a task that could not be handled to the DLQ stream with a
// reason.
func (q *SpecialistQueue) AddDLQ(ctx context.Context, task review.UnsupportedPage, reason string) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(payload), "reason": reason},
	}).Err()
}

// mover periodically moves due delayed tasks from ZSET into the stream.
func (q *SpecialistQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *SpecialistQueue) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().Unix()
	vals, err := q.client.ZRangeByScoreWithScores(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, z := range vals {
		s, _ := z.Member.(string)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}})
		pipe.ZRem(ctx, q.DelayedKey, s)
	}
	_, _ = pipe.Exec(ctx)
}

// Depths returns approximate stream/deferred/dlq lengths for metrics.
func (q *SpecialistQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
