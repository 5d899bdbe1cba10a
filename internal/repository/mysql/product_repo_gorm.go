package mysql

import (
	"context"
	"errors"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/repository"

	"gorm.io/gorm"
)

type productRepo struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) repository.ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) FindByID(ctx context.Context, id uint64) (*domain.Product, error) {
	var p domain.Product
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

// TryReserve is a single conditional update; the stock check and the
// decrement happen in one statement so two concurrent checkouts cannot
// both observe sufficient stock.
func (r *productRepo) TryReserve(ctx context.Context, id uint64, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ? AND is_active = ? AND stock >= ?", id, true, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// The filter rejected the update; re-read once to say why.
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return apperr.ErrProductInactive
	}
	return &apperr.InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock}
}

func (r *productRepo) Release(ctx context.Context, id uint64, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", id).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrProductNotFound
	}
	return nil
}
