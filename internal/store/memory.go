package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/model"
	"github.com/ethlots/tax-engine/internal/policy"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*model.Report
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string]*model.Report),
	}
}

func (s *MemoryStore) CreateReport(_ context.Context, r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[r.ID]; ok {
		return fmt.Errorf("report %s already exists", r.ID)
	}
	s.reports[r.ID] = clone(r)
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(r), nil
}

func (s *MemoryStore) ListReports(_ context.Context) ([]model.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.headers(func(*model.Report) bool { return true }), nil
}

func (s *MemoryStore) ListReportsByOwner(_ context.Context, owner string) ([]model.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.headers(func(r *model.Report) bool { return r.Owner == owner }), nil
}

func (s *MemoryStore) DeleteReport(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.reports, id)
	return nil
}

// headers must be called with the lock held.
func (s *MemoryStore) headers(keep func(*model.Report) bool) []model.Header {
	out := make([]model.Header, 0, len(s.reports))
	for _, r := range s.reports {
		if keep(r) {
			out = append(out, clone(r).Header())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// clone copies the slices and map so callers cannot mutate stored reports.
func clone(r *model.Report) *model.Report {
	c := *r
	c.Realized = append([]lot.RealizedLot(nil), r.Realized...)
	c.OpenLots = append([]lot.AcquiredLot(nil), r.OpenLots...)
	if r.Policies != nil {
		c.Policies = make(map[int]policy.Method, len(r.Policies))
		for y, m := range r.Policies {
			c.Policies[y] = m
		}
	}
	return &c
}
