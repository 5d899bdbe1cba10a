package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	c := NewClient("https://api.example.test", "key_id", "test_secret_key", 2*time.Second)

	// Fixed vector: HMAC-SHA256("order_GkQhkPzrJZz9vU|pay_29QQoUBi66xm2f", "test_secret_key").
	orderID := "order_GkQhkPzrJZz9vU"
	paymentID := "pay_29QQoUBi66xm2f"
	signature := "4b9e22d177190f7730457207cddf668f8837975fde63644208820ed9660a0b9d"

	assert.True(t, c.VerifySignature(orderID, paymentID, signature))

	assert.False(t, c.VerifySignature(orderID, paymentID, "deadbeef"))
	assert.False(t, c.VerifySignature(orderID, "pay_other", signature))
	assert.False(t, c.VerifySignature("order_other", paymentID, signature))

	other := NewClient("https://api.example.test", "key_id", "another_secret", 2*time.Second)
	assert.False(t, other.VerifySignature(orderID, paymentID, signature))
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(129900), body["amount"])
		assert.Equal(t, "INR", body["currency"])

		json.NewEncoder(w).Encode(GatewayOrder{
			ID: "order_GkQhkPzrJZz9vU", Amount: 129900, Currency: "INR", Receipt: body["receipt"].(string),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key_id", "key_secret", time.Second)
	order, err := c.CreateOrder(context.Background(), 129900, "INR", "rcpt-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "order_GkQhkPzrJZz9vU", order.ID)
	assert.Equal(t, "rcpt-1", order.Receipt)
}

func TestRefund(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payments/pay_29QQoUBi66xm2f/refund", r.URL.Path)
			json.NewEncoder(w).Encode(RefundResult{ID: "rfnd_abc123"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "key_id", "key_secret", time.Second)
		res, err := c.Refund(context.Background(), "pay_29QQoUBi66xm2f", 500)
		require.NoError(t, err)
		assert.Equal(t, "rfnd_abc123", res.ID)
	})

	t.Run("gateway error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "key_id", "key_secret", time.Second)
		_, err := c.Refund(context.Background(), "pay_x", 500)
		assert.Error(t, err)
	})
}
