package payments

import "context"

type GatewayInterface interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*GatewayOrder, error)
	Refund(ctx context.Context, paymentID string, amount int64) (*RefundResult, error)
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
}

var _ GatewayInterface = (*Client)(nil)
