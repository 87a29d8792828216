package store

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/examextract/internal/review"
)

// PageStatusStore keeps per-page review statuses in one hash per document,
// keyed by page number. Untouched pages read back as pending.
type PageStatusStore struct {
	client *redis.Client
}

func NewPageStatusStore(redisURL string) (*PageStatusStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &PageStatusStore{client: c}, nil
}

func (s *PageStatusStore) Close() error { return s.client.Close() }

func statusKey(docID string) string { return fmt.Sprintf("doc:%s:pagestatus", docID) }

func (s *PageStatusStore) Get(ctx context.Context, docID string, page int) (review.PageStatus, error) {
	v, err := s.client.HGet(ctx, statusKey(docID), strconv.Itoa(page)).Result()
	if err == redis.Nil {
		return review.StatusPending, nil
	}
	if err != nil {
		return "", err
	}
	st := review.PageStatus(v)
	if !st.Valid() {
		return review.StatusPending, nil
	}
	return st, nil
}

func (s *PageStatusStore) Set(ctx context.Context, docID string, page int, st review.PageStatus) error {
	return s.client.HSet(ctx, statusKey(docID), strconv.Itoa(page), string(st)).Err()
}

func (s *PageStatusStore) All(ctx context.Context, docID string) (map[int]review.PageStatus, error) {
	res, err := s.client.HGetAll(ctx, statusKey(docID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int]review.PageStatus, len(res))
	for k, v := range res {
		p, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[p] = review.PageStatus(v)
	}
	return out, nil
}
