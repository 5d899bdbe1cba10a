package services

import (
	"context"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/infra/payments"
	"clinic-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentService implements the payment-first flow: a gateway charge
// order exists and is verified before the store order it pays for.
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	gateway     payments.GatewayInterface
	logger      *zap.Logger
}

func NewPaymentService(paymentRepo repository.PaymentRepository, gateway payments.GatewayInterface, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		gateway:     gateway,
		logger:      logger,
	}
}

func (s *PaymentService) CreateGatewayOrder(ctx context.Context, userID uint64, amount int64) (*domain.Payment, error) {
	if amount <= 0 {
		return nil, &apperr.FieldErrors{Fields: map[string]string{"amount": "must be positive"}}
	}

	receipt := uuid.NewString()
	gw, err := s.gateway.CreateOrder(ctx, amount, "INR", receipt, nil)
	if err != nil {
		return nil, apperr.ErrGatewayFailure
	}

	p := &domain.Payment{
		UserID:         userID,
		GatewayOrderID: gw.ID,
		Amount:         gw.Amount,
		Currency:       gw.Currency,
		Receipt:        receipt,
		Status:         domain.PaymentStateCreated,
	}
	if err := s.paymentRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// VerifyPayment checks the gateway callback signature and marks the
// payment captured. A bad signature marks it failed; checkout will
// refuse the payment afterwards.
func (s *PaymentService) VerifyPayment(ctx context.Context, gatewayOrderID, paymentID, signature string) (*domain.Payment, error) {
	p, err := s.paymentRepo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}

	if !s.gateway.VerifySignature(gatewayOrderID, paymentID, signature) {
		p.Status = domain.PaymentStateFailed
		if err := s.paymentRepo.Update(ctx, p); err != nil {
			s.logger.Error("failed to mark payment failed",
				zap.String("gatewayOrderId", gatewayOrderID), zap.Error(err))
		}
		return nil, apperr.ErrPaymentVerificationFailed
	}

	p.GatewayPaymentID = paymentID
	p.Status = domain.PaymentStateCaptured
	if err := s.paymentRepo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
