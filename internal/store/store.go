// Package store defines the persistence interface for computed reports.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethlots/tax-engine/internal/model"
)

var ErrNotFound = errors.New("store: report not found")

// Store is the persistence interface. Reports are immutable once created.
type Store interface {
	// CreateReport persists a report together with its realized and open lots.
	CreateReport(ctx context.Context, r *model.Report) error

	// GetReport retrieves a full report by ID.
	GetReport(ctx context.Context, id string) (*model.Report, error)

	// ListReports returns headers for all reports, newest first.
	ListReports(ctx context.Context) ([]model.Header, error)

	// ListReportsByOwner returns headers for one owner's reports, newest first.
	ListReportsByOwner(ctx context.Context, owner string) ([]model.Header, error)

	// DeleteReport removes a report and its lots.
	DeleteReport(ctx context.Context, id string) error
}
