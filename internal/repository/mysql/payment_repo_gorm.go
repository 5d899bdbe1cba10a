package mysql

import (
	"context"
	"errors"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/repository"

	"gorm.io/gorm"
)

type paymentRepo struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) repository.PaymentRepository {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error) {
	var p domain.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}
