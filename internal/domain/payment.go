package domain

import "time"

type PaymentState string

const (
	PaymentStateCreated    PaymentState = "created"
	PaymentStatePending    PaymentState = "pending"
	PaymentStateAuthorized PaymentState = "authorized"
	PaymentStateCaptured   PaymentState = "captured"
	PaymentStateFailed     PaymentState = "failed"
	PaymentStateRefunded   PaymentState = "refunded"
)

// Payment tracks a gateway charge. In the payment-first flow it exists
// before the order it pays for; OrderID is filled in at checkout.
type Payment struct {
	ID               uint64       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID           uint64       `json:"userId" gorm:"not null;index"`
	GatewayOrderID   string       `json:"gatewayOrderId" gorm:"uniqueIndex;size:64"`
	GatewayPaymentID string       `json:"gatewayPaymentId,omitempty" gorm:"size:64"`
	OrderID          *uint64      `json:"orderId,omitempty" gorm:"index"`
	Amount           int64        `json:"amount" gorm:"not null"`
	Currency         string       `json:"currency" gorm:"size:8;default:'INR'"`
	Receipt          string       `json:"receipt" gorm:"size:64"`
	Status           PaymentState `json:"status" gorm:"size:16;default:'created'"`
	CreatedAt        time.Time    `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt        time.Time    `json:"updatedAt" gorm:"autoUpdateTime"`
}
