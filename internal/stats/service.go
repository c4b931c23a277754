package stats

import (
	"context"

	"github.com/labstock/labstock-backend/pkg/enums"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
)

// Service computes the admin dashboard overview.
type Service interface {
	Overview(ctx context.Context) (*Overview, error)
}

// Overview is the aggregate snapshot returned to admins.
type Overview struct {
	Components OverviewComponents `json:"components"`
	Requests   OverviewRequests   `json:"requests"`
	Categories []CategoryCount    `json:"categories"`
}

// OverviewComponents summarizes the component catalog.
type OverviewComponents struct {
	Total      int64 `json:"total"`
	TotalUnits int64 `json:"total_units"`
	LowStock   int64 `json:"low_stock"`
	OutOfStock int64 `json:"out_of_stock"`
}

// OverviewRequests breaks requests down by lifecycle state.
type OverviewRequests struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

type service struct {
	repo              Repository
	lowStockThreshold int
}

// NewService wires stats dependencies.
func NewService(repo Repository, lowStockThreshold int) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stats repository required")
	}
	if lowStockThreshold < 0 {
		lowStockThreshold = 0
	}
	return &service{repo: repo, lowStockThreshold: lowStockThreshold}, nil
}

func (s *service) Overview(ctx context.Context) (*Overview, error) {
	inventory, err := s.repo.InventorySummary(ctx, s.lowStockThreshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "inventory summary")
	}

	counts, err := s.repo.RequestCounts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request counts")
	}

	categories, err := s.repo.CategoryBreakdown(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "category breakdown")
	}

	requests := OverviewRequests{
		Pending:  counts[enums.RequestStatusPending],
		Approved: counts[enums.RequestStatusApproved],
		Rejected: counts[enums.RequestStatusRejected],
	}
	requests.Total = requests.Pending + requests.Approved + requests.Rejected

	return &Overview{
		Components: OverviewComponents{
			Total:      inventory.ComponentCount,
			TotalUnits: inventory.TotalUnits,
			LowStock:   inventory.LowStockCount,
			OutOfStock: inventory.OutOfStock,
		},
		Requests:   requests,
		Categories: categories,
	}, nil
}
