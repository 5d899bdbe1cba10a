package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/infra/rabbitmq"
	"clinic-backend/internal/middleware"
	"clinic-backend/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type CheckoutItem struct {
	ProductID uint64 `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CheckoutInput struct {
	UserID         uint64
	Items          []CheckoutItem
	Address        domain.Address
	Pricing        domain.Pricing
	PaymentMethod  domain.PaymentMethod
	GatewayOrderID string // required for Gateway orders
}

// CheckoutService turns a cart into an order. There is no multi-row
// transaction here: consistency across the cart comes from reserving
// one line at a time and releasing everything already reserved when a
// later step fails.
type CheckoutService struct {
	products    repository.ProductRepository
	orders      repository.OrderRepository
	paymentRepo repository.PaymentRepository
	publisher   rabbitmq.PublisherInterface
	redisClient *redis.Client
	logger      *zap.Logger
	now         func() time.Time
}

func NewCheckoutService(
	products repository.ProductRepository,
	orders repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	publisher rabbitmq.PublisherInterface,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		products:    products,
		orders:      orders,
		paymentRepo: paymentRepo,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *CheckoutService) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (*domain.Order, error) {
	if err := validateCheckoutInput(in); err != nil {
		return nil, err
	}

	var payment *domain.Payment
	if in.PaymentMethod == domain.PaymentMethodGateway {
		p, err := s.paymentRepo.FindByGatewayOrderID(ctx, in.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		if p.Status != domain.PaymentStateCaptured {
			return nil, apperr.ErrPaymentNotCaptured
		}
		payment = p
	}

	// Pass 1: read-only validation, fail fast with no mutation. Reads
	// may be served from cache; pass 2 re-checks against the database.
	for _, item := range in.Items {
		p, err := s.getProductWithCache(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, apperr.ErrProductInactive
		}
		if p.Stock < item.Quantity {
			return nil, &apperr.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: p.Stock,
			}
		}
	}

	// Pass 2: reserve line by line. Stock may have moved since pass 1;
	// the conditional update re-checks, and a single failure rolls back
	// every reservation made for this request.
	reserved := make([]CheckoutItem, 0, len(in.Items))
	for _, item := range in.Items {
		if err := s.products.TryReserve(ctx, item.ProductID, item.Quantity); err != nil {
			s.releaseAll(ctx, reserved)
			if errors.Is(err, apperr.ErrInsufficientStock) ||
				errors.Is(err, apperr.ErrProductInactive) ||
				errors.Is(err, apperr.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: %v", apperr.ErrStockChanged, err)
			}
			return nil, err
		}
		reserved = append(reserved, item)
	}

	// Item snapshots always come from fresh reads; a cached name or
	// price must never be frozen onto the order.
	snapshots := make(map[uint64]*domain.Product, len(in.Items))
	for _, item := range in.Items {
		p, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			s.releaseAll(ctx, reserved)
			return nil, err
		}
		snapshots[item.ProductID] = p
	}

	number, err := s.nextOrderNumber(ctx)
	if err != nil {
		s.releaseAll(ctx, reserved)
		return nil, err
	}

	order := &domain.Order{
		OrderNumber:     number,
		UserID:          in.UserID,
		Items:           buildItemSnapshots(in.Items, snapshots),
		ShippingAddress: in.Address,
		Pricing:         in.Pricing,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.StatusPlaced,
	}
	if payment != nil {
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentRef = payment.GatewayPaymentID
	}
	order.AppendHistory(domain.StatusPlaced, s.now(), "Order placed")

	if err := s.orders.Create(ctx, order); err != nil {
		s.releaseAll(ctx, reserved)
		return nil, err
	}

	if payment != nil {
		payment.OrderID = &order.ID
		if err := s.paymentRepo.Update(ctx, payment); err != nil {
			s.logger.Error("failed to link payment to order",
				zap.Uint64("orderId", order.ID),
				zap.String("gatewayOrderId", payment.GatewayOrderID),
				zap.Error(err))
		}
	}

	go s.publishOrderPlaced(context.Background(), order)

	return order, nil
}

func validateCheckoutInput(in CheckoutInput) error {
	fields := map[string]string{}
	if len(in.Items) == 0 {
		fields["items"] = "cart is empty"
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			fields["items"] = fmt.Sprintf("invalid quantity for product %d", item.ProductID)
		}
	}
	if !in.Pricing.Consistent() {
		fields["pricing"] = "total does not match subtotal+gst+deliveryFee-discount"
	}
	if in.PaymentMethod != domain.PaymentMethodCOD && in.PaymentMethod != domain.PaymentMethodGateway {
		fields["paymentMethod"] = "must be COD or Gateway"
	}
	if in.PaymentMethod == domain.PaymentMethodGateway && in.GatewayOrderID == "" {
		fields["gatewayOrderId"] = "required for gateway payment"
	}
	if len(fields) > 0 {
		return &apperr.FieldErrors{Fields: fields}
	}
	return nil
}

// releaseAll compensates reservations made earlier in the same request.
func (s *CheckoutService) releaseAll(ctx context.Context, reserved []CheckoutItem) {
	for _, item := range reserved {
		if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("stock release failed during checkout rollback",
				zap.Uint64("productId", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}
	if len(reserved) > 0 {
		middleware.RecordStockRollback()
	}
}

func buildItemSnapshots(items []CheckoutItem, products map[uint64]*domain.Product) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		p := products[item.ProductID]
		out = append(out, domain.OrderItem{
			ProductID:    item.ProductID,
			Name:         p.Name,
			Image:        p.Image,
			Quantity:     item.Quantity,
			UnitPrice:    p.Price,
			LineSubtotal: p.Price * int64(item.Quantity),
		})
	}
	return out
}

// nextOrderNumber is a best-effort human-readable identifier; the
// database id is authoritative.
func (s *CheckoutService) nextOrderNumber(ctx context.Context) (string, error) {
	n, err := s.orders.Count(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD%d%04d", s.now().UnixMilli(), n+1), nil
}

func (s *CheckoutService) getProductWithCache(ctx context.Context, id uint64) (*domain.Product, error) {
	cacheKey := fmt.Sprintf("product:%d", id)

	if s.redisClient != nil {
		cached, err := s.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var p domain.Product
			if err := json.Unmarshal([]byte(cached), &p); err == nil {
				return &p, nil
			}
		}
	}

	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(p); err == nil {
			s.redisClient.Set(ctx, cacheKey, data, 10*time.Second)
		}
	}

	return p, nil
}

func (s *CheckoutService) publishOrderPlaced(ctx context.Context, order *domain.Order) {
	evt := map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.Pricing.Total,
		"status":      order.Status,
	}
	if err := s.publisher.Publish(ctx, "notify.order_placed", evt); err != nil {
		s.logger.Warn("failed to publish order placed event",
			zap.Uint64("orderId", order.ID), zap.Error(err))
	}
}
