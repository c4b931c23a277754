package stats

import (
	"context"

	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/pkg/db/models"
	"github.com/labstock/labstock-backend/pkg/enums"
)

// Repository aggregates inventory and request figures for the admin overview.
type Repository interface {
	InventorySummary(ctx context.Context, lowStockThreshold int) (InventorySummary, error)
	RequestCounts(ctx context.Context) (map[enums.RequestStatus]int64, error)
	CategoryBreakdown(ctx context.Context) ([]CategoryCount, error)
}

// InventorySummary holds component-level aggregates.
type InventorySummary struct {
	ComponentCount int64
	TotalUnits     int64
	LowStockCount  int64
	OutOfStock     int64
}

// CategoryCount pairs a category with how many components it holds.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stats repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InventorySummary(ctx context.Context, lowStockThreshold int) (InventorySummary, error) {
	type row struct {
		ComponentCount int64
		TotalUnits     int64
		LowStockCount  int64
		OutOfStock     int64
	}
	var result row
	err := r.db.WithContext(ctx).
		Model(&models.Component{}).
		Select(
			"COUNT(*) AS component_count, "+
				"COALESCE(SUM(quantity_available), 0) AS total_units, "+
				"COALESCE(SUM(CASE WHEN quantity_available <= ? THEN 1 ELSE 0 END), 0) AS low_stock_count, "+
				"COALESCE(SUM(CASE WHEN quantity_available = 0 THEN 1 ELSE 0 END), 0) AS out_of_stock",
			lowStockThreshold,
		).
		Scan(&result).Error
	if err != nil {
		return InventorySummary{}, err
	}
	return InventorySummary{
		ComponentCount: result.ComponentCount,
		TotalUnits:     result.TotalUnits,
		LowStockCount:  result.LowStockCount,
		OutOfStock:     result.OutOfStock,
	}, nil
}

func (r *repository) RequestCounts(ctx context.Context) (map[enums.RequestStatus]int64, error) {
	type row struct {
		Status enums.RequestStatus
		Total  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.RequestStatus]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Total
	}
	return counts, nil
}

func (r *repository) CategoryBreakdown(ctx context.Context) ([]CategoryCount, error) {
	var rows []CategoryCount
	err := r.db.WithContext(ctx).
		Model(&models.Component{}).
		Select("category, COUNT(*) AS count").
		Group("category").
		Order("category ASC").
		Find(&rows).Error
	return rows, err
}
