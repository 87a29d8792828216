package store

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/examextract/internal/review"
)

// QuestionStore keeps saved questions as one JSON list per page.
type QuestionStore struct {
	client *redis.Client
}

func NewQuestionStore(redisURL string) (*QuestionStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &QuestionStore{client: c}, nil
}

func (s *QuestionStore) Close() error { return s.client.Close() }

func questionsKey(docID string, page int) string {
	return fmt.Sprintf("doc:%s:page:%d:questions", docID, page)
}

func (s *QuestionStore) Save(ctx context.Context, qs []review.ExtractedQuestion) error {
	if len(qs) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, q := range qs {
		b, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question: %w", err)
		}
		pipe.RPush(ctx, questionsKey(q.DocumentID, q.Page), b)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *QuestionStore) List(ctx context.Context, docID string, page int) ([]review.ExtractedQuestion, error) {
	vals, err := s.client.LRange(ctx, questionsKey(docID, page), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]review.ExtractedQuestion, 0, len(vals))
	for _, v := range vals {
		var q review.ExtractedQuestion
		if err := json.Unmarshal([]byte(v), &q); err != nil {
			return out, fmt.Errorf("unmarshal question: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *QuestionStore) Count(ctx context.Context, docID string, page int) (int, error) {
	n, err := s.client.LLen(ctx, questionsKey(docID, page)).Result()
	return int(n), err
}
