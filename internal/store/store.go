package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface for report run history.
type Store interface {
	Ping(ctx context.Context) error
	CreateReportRun(ctx context.Context, run *models.ReportRun) error
	GetReportRun(ctx context.Context, id uuid.UUID) (*models.ReportRun, error)
	ListReportRuns(ctx context.Context, filter RunFilter) ([]*models.ReportRun, int, error)
}

type RunFilter struct {
	ProfileID string
	Page      int
	Limit     int
}
