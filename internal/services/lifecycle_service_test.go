package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/infra/payments"
	"clinic-backend/internal/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrders struct {
	o          *domain.Order
	failUpdate error
}

func (f *fakeOrders) Create(_ context.Context, o *domain.Order) error { f.o = o; return nil }

func (f *fakeOrders) FindByID(_ context.Context, id uint64) (*domain.Order, error) {
	if f.o == nil || f.o.ID != id {
		return nil, apperr.ErrOrderNotFound
	}
	return f.o, nil
}

func (f *fakeOrders) FindByUser(_ context.Context, userID uint64) ([]domain.Order, error) {
	if f.o != nil && f.o.UserID == userID {
		return []domain.Order{*f.o}, nil
	}
	return nil, nil
}

func (f *fakeOrders) Update(_ context.Context, o *domain.Order) error {
	if f.failUpdate != nil {
		return f.failUpdate
	}
	f.o = o
	return nil
}

func (f *fakeOrders) Count(_ context.Context) (int64, error) {
	if f.o == nil {
		return 0, nil
	}
	return 1, nil
}

var lifecycleNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func placedOrder() *domain.Order {
	return &domain.Order{
		ID:          20,
		UserID:      7,
		OrderNumber: "ORD17000000000001",
		Items: []domain.OrderItem{
			{ProductID: 1, Name: "Product 1", Quantity: 2, UnitPrice: 500, LineSubtotal: 1000},
			{ProductID: 2, Name: "Product 2", Quantity: 1, UnitPrice: 300, LineSubtotal: 300},
		},
		Pricing:       domain.Pricing{Subtotal: 1300, Total: 1300},
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.StatusPlaced,
		StatusHistory: []domain.StatusEntry{{Status: domain.StatusPlaced, Timestamp: lifecycleNow.Add(-48 * time.Hour)}},
	}
}

func deliveredOrder(deliveredAgo time.Duration) *domain.Order {
	o := placedOrder()
	o.Status = domain.StatusDelivered
	t := lifecycleNow.Add(-deliveredAgo)
	o.DeliveredAt = &t
	o.PaymentStatus = domain.PaymentStatusPaid
	return o
}

type lifecycleEnv struct {
	svc      *LifecycleService
	orders   *fakeOrders
	products *mocks.MockProductRepository
	gateway  *mocks.MockGateway
	pub      *mocks.MockPublisher
}

func newLifecycleEnv(o *domain.Order) *lifecycleEnv {
	env := &lifecycleEnv{
		orders:   &fakeOrders{o: o},
		products: new(mocks.MockProductRepository),
		gateway:  new(mocks.MockGateway),
		pub:      new(mocks.MockPublisher),
	}
	env.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	env.svc = NewLifecycleService(env.orders, env.products, env.gateway, env.pub, zap.NewNop())
	env.svc.now = func() time.Time { return lifecycleNow }
	return env
}

func historyCount(o *domain.Order, s domain.OrderStatus) int {
	n := 0
	for _, e := range o.StatusHistory {
		if e.Status == s {
			n++
		}
	}
	return n
}

func TestUpdateStatus_ForwardBackfillsSkippedSteps(t *testing.T) {
	env := newLifecycleEnv(placedOrder())

	order, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusShipped, "left warehouse")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusShipped, order.Status)
	for _, st := range []domain.OrderStatus{
		domain.StatusConfirmed, domain.StatusProcessing, domain.StatusPacked, domain.StatusShipped,
	} {
		assert.Equal(t, 1, historyCount(order, st), "expected exactly one %s entry", st)
	}

	// the note lands only on the requested status
	last := order.StatusHistory[len(order.StatusHistory)-1]
	assert.Equal(t, domain.StatusShipped, last.Status)
	assert.Equal(t, "left warehouse", last.Note)
	for _, e := range order.StatusHistory[:len(order.StatusHistory)-1] {
		assert.Empty(t, e.Note)
	}

	// advancing further never duplicates what is already recorded
	order, err = env.svc.UpdateStatus(context.Background(), 20, domain.StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, 1, historyCount(order, domain.StatusShipped))
	assert.Equal(t, 1, historyCount(order, domain.StatusDelivered))

	time.Sleep(50 * time.Millisecond)
}

func TestUpdateStatus_RejectsBackwardAndSameStep(t *testing.T) {
	cases := []struct {
		name string
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{"backwards", domain.StatusShipped, domain.StatusConfirmed},
		{"same", domain.StatusPacked, domain.StatusPacked},
		{"from cancelled", domain.StatusCancelled, domain.StatusShipped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := placedOrder()
			o.Status = tc.from
			env := newLifecycleEnv(o)

			_, err := env.svc.UpdateStatus(context.Background(), 20, tc.to, "")
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		})
	}
}

func TestUpdateStatus_DeliveredMarksCODPaid(t *testing.T) {
	env := newLifecycleEnv(placedOrder())

	order, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusDelivered, "")
	require.NoError(t, err)

	require.NotNil(t, order.DeliveredAt)
	assert.Equal(t, lifecycleNow, *order.DeliveredAt)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
}

func TestUpdateStatus_CancelRestoresStock(t *testing.T) {
	o := placedOrder()
	o.Status = domain.StatusOutForDelivery
	env := newLifecycleEnv(o)
	env.products.On("Release", mock.Anything, uint64(1), 2).Return(nil)
	env.products.On("Release", mock.Anything, uint64(2), 1).Return(nil)

	order, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusCancelled, "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Equal(t, "changed my mind", order.CancelReason)
	require.NotNil(t, order.CancelledAt)
	env.products.AssertExpectations(t)
}

func TestUpdateStatus_CancelReleasesOnlyAfterCommit(t *testing.T) {
	o := placedOrder()
	env := newLifecycleEnv(o)
	env.orders.failUpdate = errors.New("database error")

	_, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusCancelled, "")
	require.Error(t, err)

	// persistence failed, so nothing may be restored
	env.products.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)

	// the retry restores each line exactly once
	env.orders.failUpdate = nil
	env.orders.o = placedOrder()
	env.products.On("Release", mock.Anything, uint64(1), 2).Return(nil)
	env.products.On("Release", mock.Anything, uint64(2), 1).Return(nil)

	_, err = env.svc.UpdateStatus(context.Background(), 20, domain.StatusCancelled, "")
	require.NoError(t, err)
	env.products.AssertNumberOfCalls(t, "Release", 2)
}

func TestUpdateStatus_CancelAfterDeliveryRejected(t *testing.T) {
	env := newLifecycleEnv(deliveredOrder(time.Hour))

	_, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusCancelled, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	env.products.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatus_ReturnWindow(t *testing.T) {
	t.Run("inside the window", func(t *testing.T) {
		env := newLifecycleEnv(deliveredOrder(returnWindow - time.Minute))
		order, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusReturned, "damaged box")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReturned, order.Status)
	})

	t.Run("just outside the window", func(t *testing.T) {
		env := newLifecycleEnv(deliveredOrder(returnWindow + time.Second))
		_, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusReturned, "")
		assert.ErrorIs(t, err, apperr.ErrReturnWindowExpired)
	})

	t.Run("only delivered orders can be returned", func(t *testing.T) {
		o := placedOrder()
		o.Status = domain.StatusShipped
		env := newLifecycleEnv(o)
		_, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusReturned, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})
}

func TestUpdateStatus_ReturnDecision(t *testing.T) {
	t.Run("approval", func(t *testing.T) {
		o := deliveredOrder(time.Hour)
		o.Status = domain.StatusReturned
		env := newLifecycleEnv(o)

		order, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusReturnApproved, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReturnApproved, order.Status)
	})

	t.Run("rejection reverts to delivered", func(t *testing.T) {
		o := deliveredOrder(time.Hour)
		o.Status = domain.StatusReturned
		env := newLifecycleEnv(o)

		order, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusReturnRejected, "item was used")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDelivered, order.Status)
		assert.Equal(t, 1, historyCount(order, domain.StatusReturnRejected))
	})

	t.Run("decision requires a pending return", func(t *testing.T) {
		env := newLifecycleEnv(deliveredOrder(time.Hour))
		_, err := env.svc.UpdateStatus(context.Background(), 20, domain.StatusReturnApproved, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})
}

func TestInitiateRefund_AmountBounds(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		ok     bool
	}{
		{"zero", 0, false},
		{"negative", -100, false},
		{"over total", 1301, false},
		{"exactly total", 1300, true},
		{"partial", 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newLifecycleEnv(deliveredOrder(time.Hour))
			_, err := env.svc.InitiateRefund(context.Background(), 20, RefundInput{
				Amount: tc.amount,
				Method: domain.RefundMethodCash,
			})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidRefundAmount)
			}
		})
	}
}

func TestInitiateRefund_BankValidation(t *testing.T) {
	cases := []struct {
		name    string
		method  domain.RefundMethod
		bank    *domain.BankDetails
		wantErr error
	}{
		{"bank transfer ok", domain.RefundMethodBankTransfer, &domain.BankDetails{AccountNumber: "123456789012", IFSC: "HDFC0001234"}, nil},
		{"account too short", domain.RefundMethodBankTransfer, &domain.BankDetails{AccountNumber: "12345678", IFSC: "HDFC0001234"}, apperr.ErrInvalidBankDetails},
		{"bad ifsc length", domain.RefundMethodBankTransfer, &domain.BankDetails{AccountNumber: "123456789012", IFSC: "HDFC123"}, apperr.ErrInvalidBankDetails},
		{"missing bank", domain.RefundMethodBankTransfer, nil, apperr.ErrInvalidBankDetails},
		{"upi ok", domain.RefundMethodUPI, &domain.BankDetails{UPIID: "user@okhdfc"}, nil},
		{"upi malformed", domain.RefundMethodUPI, &domain.BankDetails{UPIID: "user.okhdfc"}, apperr.ErrInvalidBankDetails},
		{"store credit needs nothing", domain.RefundMethodStoreCredit, nil, nil},
		{"unknown method", domain.RefundMethod("Cheque"), nil, apperr.ErrRefundMethodRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newLifecycleEnv(deliveredOrder(time.Hour))
			_, err := env.svc.InitiateRefund(context.Background(), 20, RefundInput{
				Amount: 500,
				Method: tc.method,
				Bank:   tc.bank,
			})
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestInitiateRefund_GatewayPath(t *testing.T) {
	t.Run("refunds through the gateway", func(t *testing.T) {
		o := deliveredOrder(time.Hour)
		o.PaymentMethod = domain.PaymentMethodGateway
		o.PaymentRef = "pay_29QQoUBi66xm2f"
		env := newLifecycleEnv(o)
		env.gateway.On("Refund", mock.Anything, "pay_29QQoUBi66xm2f", int64(500)).
			Return(&payments.RefundResult{ID: "rfnd_abc123"}, nil)

		order, err := env.svc.InitiateRefund(context.Background(), 20, RefundInput{Amount: 500})
		require.NoError(t, err)

		require.NotNil(t, order.RefundDetails)
		assert.Equal(t, domain.RefundMethodGateway, order.RefundDetails.Method)
		assert.Equal(t, "rfnd_abc123", order.RefundDetails.TransactionID)
		assert.Equal(t, domain.RefundStatusProcessing, order.RefundDetails.Status)
		env.gateway.AssertExpectations(t)
	})

	t.Run("fails closed on gateway errors", func(t *testing.T) {
		o := deliveredOrder(time.Hour)
		o.PaymentMethod = domain.PaymentMethodGateway
		o.PaymentRef = "pay_29QQoUBi66xm2f"
		env := newLifecycleEnv(o)
		env.gateway.On("Refund", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("upstream timeout"))

		_, err := env.svc.InitiateRefund(context.Background(), 20, RefundInput{Amount: 500})
		assert.ErrorIs(t, err, apperr.ErrGatewayFailure)
		assert.Nil(t, env.orders.o.RefundDetails)
	})
}

func TestInitiateRefund_DoubleInitiationBlocked(t *testing.T) {
	env := newLifecycleEnv(deliveredOrder(time.Hour))

	_, err := env.svc.InitiateRefund(context.Background(), 20, RefundInput{Amount: 500, Method: domain.RefundMethodCash})
	require.NoError(t, err)

	_, err = env.svc.InitiateRefund(context.Background(), 20, RefundInput{Amount: 500, Method: domain.RefundMethodCash})
	assert.ErrorIs(t, err, apperr.ErrRefundInProgress)
}

func TestCompleteRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("requires initiation first", func(t *testing.T) {
		env := newLifecycleEnv(deliveredOrder(time.Hour))
		_, err := env.svc.CompleteRefund(ctx, 20, "TXN123456")
		assert.ErrorIs(t, err, apperr.ErrRefundNotInitiated)
	})

	t.Run("rejects short transaction ids", func(t *testing.T) {
		env := newLifecycleEnv(deliveredOrder(time.Hour))
		_, err := env.svc.InitiateRefund(ctx, 20, RefundInput{Amount: 500, Method: domain.RefundMethodCash})
		require.NoError(t, err)

		_, err = env.svc.CompleteRefund(ctx, 20, "  ab  ")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransactionID)
	})

	t.Run("closes the refund and is terminal", func(t *testing.T) {
		env := newLifecycleEnv(deliveredOrder(time.Hour))
		_, err := env.svc.InitiateRefund(ctx, 20, RefundInput{Amount: 1300, Method: domain.RefundMethodCash})
		require.NoError(t, err)

		order, err := env.svc.CompleteRefund(ctx, 20, "TXN123456")
		require.NoError(t, err)

		assert.Equal(t, domain.RefundStatusCompleted, order.RefundDetails.Status)
		assert.Equal(t, "TXN123456", order.RefundDetails.TransactionID)
		require.NotNil(t, order.RefundDetails.CompletedAt)
		assert.Equal(t, domain.PaymentStatusRefunded, order.PaymentStatus)

		_, err = env.svc.CompleteRefund(ctx, 20, "TXN123456")
		assert.ErrorIs(t, err, apperr.ErrAlreadyRefunded)

		// once refunded, another initiation is blocked too
		_, err = env.svc.InitiateRefund(ctx, 20, RefundInput{Amount: 100, Method: domain.RefundMethodCash})
		assert.ErrorIs(t, err, apperr.ErrAlreadyRefunded)

		time.Sleep(50 * time.Millisecond)
	})
}
