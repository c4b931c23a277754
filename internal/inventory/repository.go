package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/pkg/db/models"
)

// Repository wires together component persistence helpers.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads a component by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Component, error) {
	var component models.Component
	if err := r.db.WithContext(ctx).First(&component, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &component, nil
}

// FindByNormalizedName loads a component by its canonical matching key.
func (r *Repository) FindByNormalizedName(ctx context.Context, key string) (*models.Component, error) {
	var component models.Component
	if err := r.db.WithContext(ctx).First(&component, "normalized_name = ?", key).Error; err != nil {
		return nil, err
	}
	return &component, nil
}

// Create inserts a new component row.
func (r *Repository) Create(ctx context.Context, component *models.Component) (*models.Component, error) {
	if component.ID == uuid.Nil {
		component.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(component).Error; err != nil {
		return nil, err
	}
	return component, nil
}

// MergeIntake adds quantity to an existing component and refreshes the
// description/category only when the incoming values are non-empty.
func (r *Repository) MergeIntake(ctx context.Context, id uuid.UUID, quantity int, description *string, category string) error {
	updates := map[string]any{
		"quantity_available": gorm.Expr("quantity_available + ?", quantity),
	}
	if description != nil && *description != "" {
		updates["description"] = *description
	}
	if category != "" {
		updates["category"] = category
	}
	return r.db.WithContext(ctx).
		Model(&models.Component{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetQuantity overrides the available quantity. Returns the affected row
// count so callers can distinguish a missing component.
func (r *Repository) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Component{}).
		Where("id = ?", id).
		Update("quantity_available", quantity)
	return res.RowsAffected, res.Error
}

// DecrementGuarded subtracts amount only when enough stock is available. The
// WHERE guard plus the affected-row count make the check-then-subtract a
// single atomic statement with respect to concurrent decrements.
func (r *Repository) DecrementGuarded(ctx context.Context, id uuid.UUID, amount int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Component{}).
		Where("id = ? AND quantity_available >= ?", id, amount).
		Update("quantity_available", gorm.Expr("quantity_available - ?", amount))
	return res.RowsAffected, res.Error
}

// Delete removes a component row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&models.Component{}, "id = ?", id)
	return res.RowsAffected, res.Error
}

// List returns the full catalog ordered by display name ascending.
func (r *Repository) List(ctx context.Context) ([]models.Component, error) {
	var components []models.Component
	err := r.db.WithContext(ctx).
		Order("name ASC").
		Find(&components).Error
	return components, err
}

// Categories returns the distinct category names in use, sorted ascending.
func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.WithContext(ctx).
		Model(&models.Component{}).
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories).Error
	return categories, err
}
