package http

import (
	"errors"
	"net/http"
	"strconv"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/middleware"
	"clinic-backend/internal/repository"
	"clinic-backend/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	checkout    *services.CheckoutService
	completion  *services.CompletionService
	lifecycle   *services.LifecycleService
	payments    *services.PaymentService
	orders      repository.OrderRepository
	assignments repository.AssignmentRepository
	jwtSecret   []byte
	logger      *zap.Logger
}

func NewHandler(
	checkout *services.CheckoutService,
	completion *services.CompletionService,
	lifecycle *services.LifecycleService,
	payments *services.PaymentService,
	orders repository.OrderRepository,
	assignments repository.AssignmentRepository,
	jwtSecret []byte,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		checkout:    checkout,
		completion:  completion,
		lifecycle:   lifecycle,
		payments:    payments,
		orders:      orders,
		assignments: assignments,
		jwtSecret:   jwtSecret,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", middleware.PrometheusHandler())

	auth := r.Group("/", middleware.Auth(h.jwtSecret))
	{
		auth.POST("/checkout", h.Checkout)
		auth.GET("/orders", h.ListOrders)
		auth.GET("/orders/:id", h.GetOrder)

		auth.POST("/payments/order", h.CreatePaymentOrder)
		auth.POST("/payments/verify", h.VerifyPayment)

		pa := auth.Group("/package-assignments/:id")
		{
			pa.GET("", h.GetAssignment)
			pa.POST("/services/:serviceId/consent", h.SubmitConsent)
			pa.POST("/services/:serviceId/service-card", h.SaveServiceCard)
			pa.POST("/services/:serviceId/otp/send", h.SendServiceOTP)
			pa.POST("/services/:serviceId/otp/verify", h.VerifyServiceOTP)
			pa.POST("/cancel/otp/send", h.SendCancellationOTP)
			pa.POST("/cancel/otp/verify", h.ConfirmCancellation)
		}
	}

	admin := r.Group("/admin", middleware.AdminAuth(h.jwtSecret))
	{
		admin.PUT("/orders/:id/status", h.UpdateOrderStatus)
		admin.POST("/orders/:id/initiate-refund", h.InitiateRefund)
		admin.POST("/orders/:id/complete-refund", h.CompleteRefund)
	}
}

func respondOK(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"success": false, "message": err.Error()}
	var fe *apperr.FieldErrors
	if errors.As(err, &fe) {
		body["errors"] = fe.Fields
	}
	if apperr.RequiresRefresh(err) {
		body["requiresRefresh"] = true
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	order, err := h.checkout.Checkout(c.Request.Context(), services.CheckoutInput{
		UserID:         middleware.UserID(c),
		Items:          req.Items,
		Address:        req.Address,
		Pricing:        req.Pricing,
		PaymentMethod:  req.PaymentMethod,
		GatewayOrderID: req.GatewayOrderID,
	})
	if err != nil {
		middleware.RecordCheckout("failed")
		respondError(c, err)
		return
	}

	middleware.RecordCheckout("placed")
	respondOK(c, http.StatusCreated, "order placed", order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.orders.FindByUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "orders", orders)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if order.UserID != middleware.UserID(c) {
		respondError(c, apperr.ErrOwnership)
		return
	}
	respondOK(c, http.StatusOK, "order", order)
}

func (h *Handler) CreatePaymentOrder(c *gin.Context) {
	var req CreatePaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	p, err := h.payments.CreateGatewayOrder(c.Request.Context(), middleware.UserID(c), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "payment order created", p)
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	p, err := h.payments.VerifyPayment(c.Request.Context(), req.GatewayOrderID, req.PaymentID, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "payment verified", p)
}

// ownAssignment loads the assignment and enforces that it belongs to
// the caller before any per-service operation runs.
func (h *Handler) ownAssignment(c *gin.Context) (uint64, bool) {
	id, ok := pathID(c)
	if !ok {
		return 0, false
	}
	a, err := h.assignments.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return 0, false
	}
	if a.UserID != middleware.UserID(c) {
		respondError(c, apperr.ErrOwnership)
		return 0, false
	}
	return id, true
}

func (h *Handler) GetAssignment(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	a, err := h.assignments.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "assignment", a)
}

func (h *Handler) SubmitConsent(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	err := h.completion.SubmitConsent(c.Request.Context(), id, c.Param("serviceId"), services.ConsentInput{
		DoctorName: req.DoctorName,
		Signature:  req.Signature,
		Terms:      req.Terms,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "consent recorded", nil)
}

func (h *Handler) SaveServiceCard(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	var req ServiceCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	err := h.completion.SaveServiceCard(c.Request.Context(), id, c.Param("serviceId"), services.ServiceCardInput{
		Doctor:        req.Doctor,
		Manager:       req.Manager,
		Grading:       req.Grading,
		Therapist:     req.Therapist,
		Notes:         req.Notes,
		Prescriptions: req.Prescriptions,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "service card saved", nil)
}

func (h *Handler) SendServiceOTP(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	if err := h.completion.IssueOTP(c.Request.Context(), id, c.Param("serviceId")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "verification code sent", nil)
}

func (h *Handler) VerifyServiceOTP(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	a, err := h.completion.VerifyOTP(c.Request.Context(), id, c.Param("serviceId"), req.Code)
	if err != nil {
		middleware.RecordOTPVerification("failed")
		respondError(c, err)
		return
	}
	middleware.RecordOTPVerification("verified")
	respondOK(c, http.StatusOK, "service completed", gin.H{
		"status":            a.Status,
		"completionPercent": a.CompletionPercent(),
	})
}

func (h *Handler) SendCancellationOTP(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	if err := h.completion.RequestCancellation(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "cancellation code sent", nil)
}

func (h *Handler) ConfirmCancellation(c *gin.Context) {
	id, ok := h.ownAssignment(c)
	if !ok {
		return
	}
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := h.completion.ConfirmCancellation(c.Request.Context(), id, req.Code); err != nil {
		middleware.RecordOTPVerification("failed")
		respondError(c, err)
		return
	}
	middleware.RecordOTPVerification("verified")
	respondOK(c, http.StatusOK, "assignment cancelled", nil)
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	order, err := h.lifecycle.UpdateStatus(c.Request.Context(), id, req.Status, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "status updated", order)
}

func (h *Handler) InitiateRefund(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req InitiateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	order, err := h.lifecycle.InitiateRefund(c.Request.Context(), id, services.RefundInput{
		Amount: req.Amount,
		Method: req.Method,
		Bank:   req.Bank,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	middleware.RecordRefund(string(order.RefundDetails.Method))
	respondOK(c, http.StatusOK, "refund initiated", order)
}

func (h *Handler) CompleteRefund(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req CompleteRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	order, err := h.lifecycle.CompleteRefund(c.Request.Context(), id, req.TransactionID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "refund completed", order)
}
