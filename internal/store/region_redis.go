package store

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/examextract/internal/region"
)

// RegionStore persists regions and their correction history in Redis.
// Regions live under their own key for id lookup, with a per-page set as
// the page index.
type RegionStore struct {
	client *redis.Client
}

func NewRegionStore(redisURL string) (*RegionStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RegionStore{client: c}, nil
}

func (s *RegionStore) Close() error { return s.client.Close() }

func regionKey(id string) string { return fmt.Sprintf("region:%s", id) }

func pageRegionsKey(docID string, page int) string {
	return fmt.Sprintf("doc:%s:page:%d:regions", docID, page)
}

func correctionsKey(regionID string) string {
	return fmt.Sprintf("region:%s:corrections", regionID)
}

func (s *RegionStore) Save(ctx context.Context, r region.Region) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal region: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, regionKey(r.ID), b, 0)
	pipe.SAdd(ctx, pageRegionsKey(r.DocumentID, r.Page), r.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RegionStore) Get(ctx context.Context, id string) (region.Region, error) {
	b, err := s.client.Get(ctx, regionKey(id)).Bytes()
	if err == redis.Nil {
		return region.Region{}, region.ErrNotFound
	}
	if err != nil {
		return region.Region{}, err
	}
	var r region.Region
	if err := json.Unmarshal(b, &r); err != nil {
		return region.Region{}, fmt.Errorf("unmarshal region %s: %w", id, err)
	}
	return r, nil
}

func (s *RegionStore) List(ctx context.Context, docID string, page int) ([]region.Region, error) {
	ids, err := s.client.SMembers(ctx, pageRegionsKey(docID, page)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]region.Region, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err == region.ErrNotFound {
			// stale index entry, drop it
			_ = s.client.SRem(ctx, pageRegionsKey(docID, page), id).Err()
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RegionStore) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err == region.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, regionKey(id))
	pipe.SRem(ctx, pageRegionsKey(r.DocumentID, r.Page), id)
	_, err = pipe.Exec(ctx)
	return err
}

// AppendCorrection pushes an audit record onto the region's history list.
// The list is append-only; nothing ever removes from it.
func (s *RegionStore) AppendCorrection(ctx context.Context, c region.Correction) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}
	return s.client.RPush(ctx, correctionsKey(c.RegionID), b).Err()
}

// Corrections returns the full edit history for a region, oldest first.
func (s *RegionStore) Corrections(ctx context.Context, regionID string) ([]region.Correction, error) {
	vals, err := s.client.LRange(ctx, correctionsKey(regionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]region.Correction, 0, len(vals))
	for _, v := range vals {
		var c region.Correction
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return out, fmt.Errorf("unmarshal correction: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
