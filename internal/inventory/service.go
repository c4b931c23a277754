package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labstock/labstock-backend/pkg/db"
	"github.com/labstock/labstock-backend/pkg/db/models"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
)

const defaultCategory = "General"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes catalog management operations.
type Service interface {
	Intake(ctx context.Context, input IntakeInput) (*IntakeResult, error)
	Get(ctx context.Context, componentID uuid.UUID) (*ComponentDTO, error)
	SetQuantity(ctx context.Context, componentID uuid.UUID, quantity int) (*ComponentDTO, error)
	DecrementGuarded(ctx context.Context, componentID uuid.UUID, amount int) (*ComponentDTO, error)
	Remove(ctx context.Context, componentID uuid.UUID) error
	List(ctx context.Context, query, category string) ([]ComponentDTO, error)
	Categories(ctx context.Context) ([]string, error)
}

type service struct {
	repo *Repository
	tx   txRunner
}

// NewService builds an inventory service with the required dependencies.
func NewService(repo *Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

// Intake merges incoming stock into an existing component with the same
// normalized key, or creates a new component when the key is unseen.
func (s *service) Intake(ctx context.Context, input IntakeInput) (*IntakeResult, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "component name is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	key := Normalize(name)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "component name must contain letters or digits")
	}

	result, err := s.intakeOnce(ctx, name, key, input)
	if db.IsUniqueViolation(err, "ux_components_normalized_name") {
		// Two concurrent intakes raced on the same unseen key; the loser
		// merges into the winner's row.
		result, err = s.intakeOnce(ctx, name, key, input)
	}
	if err != nil {
		if pkgErr := pkgerrors.As(err); pkgErr != nil {
			return nil, pkgErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating component")
	}
	return result, nil
}

func (s *service) intakeOnce(ctx context.Context, name, key string, input IntakeInput) (*IntakeResult, error) {
	var result *IntakeResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindByNormalizedName(ctx, key)
		switch {
		case err == nil:
			if err := repo.MergeIntake(ctx, existing.ID, input.Quantity, input.Description, strings.TrimSpace(input.Category)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merging intake")
			}
			merged, err := repo.FindByID(ctx, existing.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reloading component")
			}
			result = &IntakeResult{Action: IntakeActionMerged, Component: toComponentDTO(merged)}
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			category := strings.TrimSpace(input.Category)
			if category == "" {
				category = defaultCategory
			}
			component := &models.Component{
				Name:              name,
				NormalizedName:    key,
				Description:       input.Description,
				Category:          category,
				QuantityAvailable: input.Quantity,
			}
			if _, err := repo.Create(ctx, component); err != nil {
				return err
			}
			result = &IntakeResult{Action: IntakeActionCreated, Component: toComponentDTO(component)}
			return nil

		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up component")
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get loads a single component.
func (s *service) Get(ctx context.Context, componentID uuid.UUID) (*ComponentDTO, error) {
	component, err := s.repo.FindByID(ctx, componentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading component")
	}
	dto := toComponentDTO(component)
	return &dto, nil
}

// SetQuantity performs a direct administrative quantity override.
func (s *service) SetQuantity(ctx context.Context, componentID uuid.UUID, quantity int) (*ComponentDTO, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}
	rows, err := s.repo.SetQuantity(ctx, componentID, quantity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "setting quantity")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
	}
	return s.Get(ctx, componentID)
}

// DecrementGuarded atomically checks and subtracts stock. Exactly one of two
// racing borderline decrements succeeds; the other receives InsufficientStock.
func (s *service) DecrementGuarded(ctx context.Context, componentID uuid.UUID, amount int) (*ComponentDTO, error) {
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	rows, err := s.repo.DecrementGuarded(ctx, componentID, amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrementing stock")
	}
	if rows == 0 {
		component, findErr := s.repo.FindByID(ctx, componentID)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "loading component")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{
				"available": component.QuantityAvailable,
				"requested": amount,
			})
	}
	return s.Get(ctx, componentID)
}

// Remove deletes the component. Existing requests keep their componentId;
// read paths resolve the dangling reference as an unknown component.
func (s *service) Remove(ctx context.Context, componentID uuid.UUID) error {
	rows, err := s.repo.Delete(ctx, componentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deleting component")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
	}
	return nil
}

// List returns the catalog filtered by the fuzzy search query and an
// optional exact category.
func (s *service) List(ctx context.Context, query, category string) ([]ComponentDTO, error) {
	components, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing components")
	}
	matched := Filter(query, components)
	if category = strings.TrimSpace(category); category != "" {
		filtered := matched[:0]
		for _, component := range matched {
			if strings.EqualFold(component.Category, category) {
				filtered = append(filtered, component)
			}
		}
		matched = filtered
	}
	return toComponentDTOs(matched), nil
}

// Categories returns the distinct category names in use.
func (s *service) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing categories")
	}
	return categories, nil
}
