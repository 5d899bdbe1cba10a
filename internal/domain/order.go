package domain

import "time"

type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "COD"
	PaymentMethodGateway PaymentMethod = "Gateway"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusFailed   PaymentStatus = "Failed"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

type RefundMethod string

const (
	RefundMethodBankTransfer RefundMethod = "Bank Transfer"
	RefundMethodUPI          RefundMethod = "UPI"
	RefundMethodCash         RefundMethod = "Cash"
	RefundMethodStoreCredit  RefundMethod = "Store Credit"
	RefundMethodGateway      RefundMethod = "Gateway"
)

type RefundStatus string

const (
	RefundStatusProcessing RefundStatus = "Processing"
	RefundStatusCompleted  RefundStatus = "Completed"
)

// OrderItem is a snapshot taken at reservation time; never re-read
// from the catalog after the order is created.
type OrderItem struct {
	ProductID    uint64 `json:"productId"`
	Name         string `json:"name"`
	Image        string `json:"image,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	LineSubtotal int64  `json:"lineSubtotal"`
}

type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone"`
}

type Pricing struct {
	Subtotal    int64 `json:"subtotal"`
	GST         int64 `json:"gst"`
	Discount    int64 `json:"discount"`
	DeliveryFee int64 `json:"deliveryFee"`
	Total       int64 `json:"total"`
}

// Consistent reports whether Total matches the breakdown.
func (p Pricing) Consistent() bool {
	return p.Total == p.Subtotal+p.GST+p.DeliveryFee-p.Discount
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
}

type BankDetails struct {
	AccountNumber string `json:"accountNumber,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	UPIID         string `json:"upiId,omitempty"`
}

type RefundDetails struct {
	Method        RefundMethod `json:"method"`
	Amount        int64        `json:"amount"`
	Status        RefundStatus `json:"status"`
	TransactionID string       `json:"transactionId,omitempty"`
	Bank          *BankDetails `json:"bank,omitempty"`
	InitiatedAt   time.Time    `json:"initiatedAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
}

type Order struct {
	ID              uint64         `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderNumber     string         `json:"orderNumber" gorm:"uniqueIndex;size:32"`
	UserID          uint64         `json:"userId" gorm:"not null;index"`
	Items           []OrderItem    `json:"items" gorm:"serializer:json"`
	ShippingAddress Address        `json:"shippingAddress" gorm:"serializer:json"`
	Pricing         Pricing        `json:"pricing" gorm:"serializer:json"`
	PaymentMethod   PaymentMethod  `json:"paymentMethod" gorm:"size:16"`
	PaymentStatus   PaymentStatus  `json:"paymentStatus" gorm:"size:16;default:'Pending'"`
	PaymentRef      string         `json:"paymentRef,omitempty" gorm:"size:64"` // gateway payment id, empty for COD
	Status          OrderStatus    `json:"orderStatus" gorm:"size:24;default:'Order Placed'"`
	StatusHistory   []StatusEntry  `json:"statusHistory" gorm:"serializer:json"`
	RefundDetails   *RefundDetails `json:"refundDetails,omitempty" gorm:"serializer:json"`
	CancelReason    string         `json:"cancelReason,omitempty"`
	CancelledAt     *time.Time     `json:"cancelledAt,omitempty"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updatedAt" gorm:"autoUpdateTime"`
}

// HistoryContains reports whether a status already appears in the audit trail.
func (o *Order) HistoryContains(s OrderStatus) bool {
	for _, e := range o.StatusHistory {
		if e.Status == s {
			return true
		}
	}
	return false
}

func (o *Order) AppendHistory(s OrderStatus, at time.Time, note string) {
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: s, Timestamp: at, Note: note})
}
