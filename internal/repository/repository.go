package repository

import (
	"context"

	"clinic-backend/internal/domain"
)

// ProductRepository is the stock ledger. TryReserve and Release are the
// only paths that mutate stock; callers must never read-then-write it.
type ProductRepository interface {
	FindByID(ctx context.Context, id uint64) (*domain.Product, error)
	// TryReserve atomically decrements stock iff the product is active
	// and has at least qty in stock. Returns apperr.ErrProductNotFound,
	// apperr.ErrProductInactive or *apperr.InsufficientStockError.
	TryReserve(ctx context.Context, id uint64, qty int) error
	// Release atomically increments stock (rollback, cancellation).
	Release(ctx context.Context, id uint64, qty int) error
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uint64) (*domain.Order, error)
	FindByUser(ctx context.Context, userID uint64) ([]domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
	Count(ctx context.Context) (int64, error)
}

type AssignmentRepository interface {
	FindByID(ctx context.Context, id uint64) (*domain.PackageAssignment, error)
	Update(ctx context.Context, a *domain.PackageAssignment) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
}
