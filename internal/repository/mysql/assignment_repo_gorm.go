package mysql

import (
	"context"
	"errors"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/repository"

	"gorm.io/gorm"
)

type assignmentRepo struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) repository.AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) FindByID(ctx context.Context, id uint64) (*domain.PackageAssignment, error) {
	var a domain.PackageAssignment
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAssignmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) Update(ctx context.Context, a *domain.PackageAssignment) error {
	return r.db.WithContext(ctx).Save(a).Error
}
