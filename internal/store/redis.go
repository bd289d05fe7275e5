package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ethlots/tax-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reports are immutable, so a cached report stays valid until it is
// deleted or its TTL expires. Owner listings are invalidated on every write.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateReport(ctx context.Context, r *model.Report) error {
	if err := s.primary.CreateReport(ctx, r); err != nil {
		return err
	}
	s.cacheReport(ctx, r)
	s.rdb.Del(ctx, ownerKey(r.Owner))
	return nil
}

func (s *CachedStore) DeleteReport(ctx context.Context, id string) error {
	r, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if err := s.primary.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, reportKey(id), ownerKey(r.Owner))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	data, err := s.rdb.Get(ctx, reportKey(id)).Bytes()
	if err == nil {
		var r model.Report
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheReport(ctx, r)
	return r, nil
}

func (s *CachedStore) ListReportsByOwner(ctx context.Context, owner string) ([]model.Header, error) {
	data, err := s.rdb.Get(ctx, ownerKey(owner)).Bytes()
	if err == nil {
		var headers []model.Header
		if json.Unmarshal(data, &headers) == nil {
			return headers, nil
		}
	}

	headers, err := s.primary.ListReportsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(headers); err == nil {
		s.rdb.Set(ctx, ownerKey(owner), data, s.ttl)
	}
	return headers, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListReports(ctx context.Context) ([]model.Header, error) {
	return s.primary.ListReports(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheReport(ctx context.Context, r *model.Report) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, reportKey(r.ID), data, s.ttl)
	}
}

func reportKey(id string) string   { return fmt.Sprintf("report:%s", id) }
func ownerKey(owner string) string { return fmt.Sprintf("reports:owner:%s", owner) }
