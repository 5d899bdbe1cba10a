package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/infra/payments"
	"clinic-backend/internal/infra/rabbitmq"
	"clinic-backend/internal/repository"

	"go.uber.org/zap"
)

const returnWindow = 7 * 24 * time.Hour

type RefundInput struct {
	Amount int64
	Method domain.RefundMethod
	Bank   *domain.BankDetails
}

// LifecycleService applies order status transitions and the refund
// sub-flow. Side effects of a transition (stock restore, notification
// dispatch) are best-effort: their failures are logged and never roll
// back the status change itself.
type LifecycleService struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	gateway   payments.GatewayInterface
	publisher rabbitmq.PublisherInterface
	logger    *zap.Logger
	now       func() time.Time
}

func NewLifecycleService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	gateway payments.GatewayInterface,
	publisher rabbitmq.PublisherInterface,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		orders:    orders,
		products:  products,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *LifecycleService) UpdateStatus(ctx context.Context, orderID uint64, newStatus domain.OrderStatus, note string) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch newStatus {
	case domain.StatusCancelled:
		err = s.applyCancel(order, note)
	case domain.StatusReturned:
		err = s.applyReturn(order, note)
	case domain.StatusReturnApproved:
		err = s.applyReturnDecision(order, domain.StatusReturnApproved, note)
	case domain.StatusReturnRejected:
		err = s.applyReturnDecision(order, domain.StatusReturnRejected, note)
	default:
		err = s.applyForward(order, newStatus, note)
	}
	if err != nil {
		return nil, err
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	// Side effects only after the transition is committed; a failed
	// update followed by a retry must not restore stock twice.
	if newStatus == domain.StatusCancelled {
		s.restoreStock(ctx, order)
	}

	go s.publishStatusChange(context.Background(), order, newStatus)

	return order, nil
}

// applyForward moves along the happy path, backfilling every skipped
// intermediate status so the audit trail has no gaps. A status already
// in history is never appended twice.
func (s *LifecycleService) applyForward(order *domain.Order, newStatus domain.OrderStatus, note string) error {
	curIdx, curOK := domain.ForwardIndex(order.Status)
	newIdx, newOK := domain.ForwardIndex(newStatus)
	if !curOK || !newOK || newIdx <= curIdx {
		return apperr.ErrInvalidTransition
	}

	steps := domain.StatusesBetween(order.Status, newStatus)
	now := s.now()
	for _, st := range steps {
		if order.HistoryContains(st) {
			continue
		}
		n := ""
		if st == newStatus {
			n = note
		}
		order.AppendHistory(st, now, n)
	}
	order.Status = newStatus

	if newStatus == domain.StatusDelivered {
		t := now
		order.DeliveredAt = &t
		// COD assumption: delivery implies collection.
		order.PaymentStatus = domain.PaymentStatusPaid
	}
	return nil
}

func (s *LifecycleService) applyCancel(order *domain.Order, reason string) error {
	idx, ok := domain.ForwardIndex(order.Status)
	deliveredIdx, _ := domain.ForwardIndex(domain.StatusDelivered)
	if !ok || idx >= deliveredIdx {
		return apperr.ErrInvalidTransition
	}

	now := s.now()
	order.Status = domain.StatusCancelled
	order.CancelledAt = &now
	order.CancelReason = reason
	order.AppendHistory(domain.StatusCancelled, now, reason)
	return nil
}

// restoreStock runs only after the cancellation has been persisted.
// Failures are logged, not propagated.
func (s *LifecycleService) restoreStock(ctx context.Context, order *domain.Order) {
	for _, item := range order.Items {
		if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("stock restore failed on cancellation",
				zap.Uint64("orderId", order.ID),
				zap.Uint64("productId", item.ProductID),
				zap.Error(err))
		}
	}
}

func (s *LifecycleService) applyReturn(order *domain.Order, note string) error {
	if order.Status != domain.StatusDelivered || order.DeliveredAt == nil {
		return apperr.ErrInvalidTransition
	}
	if s.now().Sub(*order.DeliveredAt) > returnWindow {
		return apperr.ErrReturnWindowExpired
	}
	order.Status = domain.StatusReturned
	order.AppendHistory(domain.StatusReturned, s.now(), note)
	return nil
}

func (s *LifecycleService) applyReturnDecision(order *domain.Order, decision domain.OrderStatus, note string) error {
	if order.Status != domain.StatusReturned {
		return apperr.ErrInvalidTransition
	}
	order.AppendHistory(decision, s.now(), note)
	if decision == domain.StatusReturnRejected {
		// Rejection puts the order back where it was.
		order.Status = domain.StatusDelivered
	} else {
		order.Status = decision
	}
	return nil
}

var accountNumberRe = regexp.MustCompile(`^[0-9]{9,18}$`)

func validateRefundBank(method domain.RefundMethod, bank *domain.BankDetails) error {
	switch method {
	case domain.RefundMethodBankTransfer:
		if bank == nil || !accountNumberRe.MatchString(bank.AccountNumber) || len(bank.IFSC) != 11 {
			return apperr.ErrInvalidBankDetails
		}
	case domain.RefundMethodUPI:
		if bank == nil || !strings.Contains(bank.UPIID, "@") {
			return apperr.ErrInvalidBankDetails
		}
	case domain.RefundMethodCash, domain.RefundMethodStoreCredit:
		// no details needed
	default:
		return apperr.ErrRefundMethodRequired
	}
	return nil
}

// InitiateRefund opens the refund for an order. COD refunds are
// recorded for manual settlement; gateway refunds call the gateway and
// fail closed if that call errors.
func (s *LifecycleService) InitiateRefund(ctx context.Context, orderID uint64, in RefundInput) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == domain.PaymentStatusRefunded {
		return nil, apperr.ErrAlreadyRefunded
	}
	if order.RefundDetails != nil && order.RefundDetails.Status == domain.RefundStatusProcessing {
		return nil, apperr.ErrRefundInProgress
	}
	if in.Amount <= 0 || in.Amount > order.Pricing.Total {
		return nil, apperr.ErrInvalidRefundAmount
	}

	details := &domain.RefundDetails{
		Amount:      in.Amount,
		Status:      domain.RefundStatusProcessing,
		InitiatedAt: s.now(),
	}

	switch order.PaymentMethod {
	case domain.PaymentMethodCOD:
		if err := validateRefundBank(in.Method, in.Bank); err != nil {
			return nil, err
		}
		details.Method = in.Method
		details.Bank = in.Bank
	case domain.PaymentMethodGateway:
		res, err := s.gateway.Refund(ctx, order.PaymentRef, in.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrGatewayFailure, err)
		}
		details.Method = domain.RefundMethodGateway
		details.TransactionID = res.ID
	default:
		return nil, apperr.ErrInvalidTransition
	}

	order.RefundDetails = details
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	go s.publishRefundEvent(context.Background(), order, "notify.refund_initiated")

	return order, nil
}

// CompleteRefund is terminal: the refund record closes and the order's
// payment status flips to Refunded.
func (s *LifecycleService) CompleteRefund(ctx context.Context, orderID uint64, transactionID string) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.RefundDetails == nil {
		return nil, apperr.ErrRefundNotInitiated
	}
	if order.RefundDetails.Status == domain.RefundStatusCompleted {
		return nil, apperr.ErrAlreadyRefunded
	}
	if len(strings.TrimSpace(transactionID)) < 5 {
		return nil, apperr.ErrInvalidTransactionID
	}

	now := s.now()
	order.RefundDetails.TransactionID = transactionID
	order.RefundDetails.Status = domain.RefundStatusCompleted
	order.RefundDetails.CompletedAt = &now
	order.PaymentStatus = domain.PaymentStatusRefunded

	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	go s.publishRefundEvent(context.Background(), order, "notify.refund_completed")

	return order, nil
}

func (s *LifecycleService) publishStatusChange(ctx context.Context, order *domain.Order, newStatus domain.OrderStatus) {
	evt := map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"status":      newStatus,
	}
	if err := s.publisher.Publish(ctx, "notify.order_status", evt); err != nil {
		s.logger.Warn("failed to publish order status event",
			zap.Uint64("orderId", order.ID),
			zap.String("status", string(newStatus)),
			zap.Error(err))
	}
}

func (s *LifecycleService) publishRefundEvent(ctx context.Context, order *domain.Order, kind string) {
	evt := map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"amount":      order.RefundDetails.Amount,
		"method":      order.RefundDetails.Method,
		"status":      order.RefundDetails.Status,
	}
	if err := s.publisher.Publish(ctx, kind, evt); err != nil {
		s.logger.Warn("failed to publish refund event",
			zap.Uint64("orderId", order.ID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}
