package store

import (
	"context"

	"github.com/joescharf/verdict/internal/models"
)

// RunListFilter specifies filters for listing council runs.
type RunListFilter struct {
	Repo    string
	HeadSHA string
	Limit   int
}

// Store defines the persistence interface for verdict history.
type Store interface {
	// Council runs
	RecordCouncilRun(ctx context.Context, run *models.CouncilRun, reviewers []*models.ReviewerRun) error
	GetCouncilRun(ctx context.Context, id string) (*models.CouncilRun, error)
	ListCouncilRuns(ctx context.Context, filter RunListFilter) ([]*models.CouncilRun, error)
	ListReviewerRuns(ctx context.Context, runID string) ([]*models.ReviewerRun, error)
	ModelStats(ctx context.Context, repo string) ([]*models.ModelHistory, error)

	// Gate runs
	RecordGateRun(ctx context.Context, run *models.GateRun) error
	ListGateRuns(ctx context.Context, headSHA string, limit int) ([]*models.GateRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
