package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/mocks"
	"clinic-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, userID uint64, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

type handlerEnv struct {
	router   *gin.Engine
	products *mocks.MockProductRepository
	orders   *mocks.MockOrderRepository
}

func newHandlerEnv() *handlerEnv {
	gin.SetMode(gin.TestMode)

	env := &handlerEnv{
		products: new(mocks.MockProductRepository),
		orders:   new(mocks.MockOrderRepository),
	}
	paymentRepo := new(mocks.MockPaymentRepository)
	assignments := new(mocks.MockAssignmentRepository)
	gateway := new(mocks.MockGateway)
	storeMock := new(mocks.MockObjectStore)
	limiter := new(mocks.MockLimiter)
	pub := new(mocks.MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	logger := zap.NewNop()

	checkout := services.NewCheckoutService(env.products, env.orders, paymentRepo, pub, logger)
	completion := services.NewCompletionService(assignments, pub, storeMock, limiter, logger)
	lifecycle := services.NewLifecycleService(env.orders, env.products, gateway, pub, logger)
	payment := services.NewPaymentService(paymentRepo, gateway, logger)

	env.router = gin.New()
	h := NewHandler(checkout, completion, lifecycle, payment, env.orders, assignments, testSecret, logger)
	h.RegisterRoutes(env.router)
	return env
}

func doJSON(router *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoutes_RequireAuth(t *testing.T) {
	env := newHandlerEnv()

	w := doJSON(env.router, http.MethodPost, "/checkout", "", CheckoutRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(env.router, http.MethodGet, "/orders/1", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutes_RejectNonAdmin(t *testing.T) {
	env := newHandlerEnv()
	token := signToken(t, 7, "")

	w := doJSON(env.router, http.MethodPut, "/admin/orders/1/status", token,
		UpdateStatusRequest{Status: domain.StatusShipped})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// the endpoint must never run for a non-admin token
	env.orders.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	w = doJSON(env.router, http.MethodPut, "/admin/orders/1/status", "",
		UpdateStatusRequest{Status: domain.StatusShipped})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutes_AllowAdmin(t *testing.T) {
	env := newHandlerEnv()
	env.orders.On("FindByID", mock.Anything, uint64(1)).Return(
		&domain.Order{ID: 1, UserID: 7, Status: domain.StatusPlaced}, nil)
	env.orders.On("Update", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)

	w := doJSON(env.router, http.MethodPut, "/admin/orders/1/status", signToken(t, 1, "admin"),
		UpdateStatusRequest{Status: domain.StatusConfirmed})
	assert.Equal(t, http.StatusOK, w.Code)

	time.Sleep(50 * time.Millisecond)
}

func TestCheckout_StockRaceEnvelope(t *testing.T) {
	env := newHandlerEnv()
	env.products.On("FindByID", mock.Anything, uint64(1)).Return(
		&domain.Product{ID: 1, Name: "Product 1", Price: 500, Stock: 5, IsActive: true}, nil)
	env.products.On("TryReserve", mock.Anything, uint64(1), 2).Return(
		&apperr.InsufficientStockError{ProductID: 1, Requested: 2, Available: 1})

	w := doJSON(env.router, http.MethodPost, "/checkout", signToken(t, 7, ""), CheckoutRequest{
		Items:         []services.CheckoutItem{{ProductID: 1, Quantity: 2}},
		Address:       domain.Address{Line1: "12 MG Road", City: "Pune", State: "MH", Pincode: "411001", Phone: "9876543210"},
		Pricing:       domain.Pricing{Subtotal: 1000, Total: 1000},
		PaymentMethod: domain.PaymentMethodCOD,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["requiresRefresh"])
}

func TestGetOrder_OwnershipEnforced(t *testing.T) {
	env := newHandlerEnv()
	env.orders.On("FindByID", mock.Anything, uint64(20)).Return(
		&domain.Order{ID: 20, UserID: 99}, nil)

	w := doJSON(env.router, http.MethodGet, "/orders/20", signToken(t, 7, ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newHandlerEnv()
	env.orders.On("FindByID", mock.Anything, uint64(404)).Return(nil, apperr.ErrOrderNotFound)

	w := doJSON(env.router, http.MethodGet, "/orders/404", signToken(t, 7, ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newHandlerEnv()
	w := doJSON(env.router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
