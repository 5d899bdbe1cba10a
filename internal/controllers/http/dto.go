package http

import (
	"clinic-backend/internal/domain"
	"clinic-backend/internal/services"
)

type CheckoutRequest struct {
	Items          []services.CheckoutItem `json:"items" binding:"required"`
	Address        domain.Address          `json:"address" binding:"required"`
	Pricing        domain.Pricing          `json:"pricing" binding:"required"`
	PaymentMethod  domain.PaymentMethod    `json:"paymentMethod" binding:"required"`
	GatewayOrderID string                  `json:"gatewayOrderId"`
}

type ConsentRequest struct {
	DoctorName string              `json:"doctorName" binding:"required"`
	Signature  []byte              `json:"signature"` // base64 PNG
	Terms      domain.ConsentTerms `json:"terms"`
}

type ServiceCardRequest struct {
	Doctor        string   `json:"doctor" binding:"required"`
	Manager       string   `json:"manager" binding:"required"`
	Grading       int      `json:"grading"`
	Therapist     string   `json:"therapist"`
	Notes         string   `json:"notes"`
	Prescriptions []string `json:"prescriptions"`
}

type VerifyOTPRequest struct {
	Code string `json:"code" binding:"required"`
}

type CreatePaymentOrderRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

type VerifyPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId" binding:"required"`
	PaymentID      string `json:"paymentId" binding:"required"`
	Signature      string `json:"signature" binding:"required"`
}

type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status" binding:"required"`
	Note   string             `json:"note"`
}

type InitiateRefundRequest struct {
	Amount int64               `json:"amount" binding:"required,min=1"`
	Method domain.RefundMethod `json:"method"`
	Bank   *domain.BankDetails `json:"bank"`
}

type CompleteRefundRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
}
