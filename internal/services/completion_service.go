package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"clinic-backend/internal/apperr"
	"clinic-backend/internal/domain"
	"clinic-backend/internal/infra/rabbitmq"
	"clinic-backend/internal/infra/storage"
	"clinic-backend/internal/ratelimit"
	"clinic-backend/internal/repository"

	"go.uber.org/zap"
)

const (
	otpValidity    = 5 * time.Minute
	otpMaxAttempts = 5
)

type ConsentInput struct {
	DoctorName string
	Signature  []byte // PNG of the signed acknowledgment
	Terms      domain.ConsentTerms
}

type ServiceCardInput struct {
	Doctor        string
	Manager       string
	Grading       int
	Therapist     string
	Notes         string
	Prescriptions []string
}

// CompletionService drives each service of a package assignment through
// consent, card draft, OTP issue and OTP verification, and maintains
// the package-level completion status. All per-service records live as
// keyed maps on the assignment; absence is always an explicit map miss,
// never a zero value.
type CompletionService struct {
	assignments repository.AssignmentRepository
	publisher   rabbitmq.PublisherInterface
	store       storage.ObjectStoreInterface
	limiter     ratelimit.Limiter
	logger      *zap.Logger
	now         func() time.Time
	genCode     func() string
}

func NewCompletionService(
	assignments repository.AssignmentRepository,
	publisher rabbitmq.PublisherInterface,
	store storage.ObjectStoreInterface,
	limiter ratelimit.Limiter,
	logger *zap.Logger,
) *CompletionService {
	return &CompletionService{
		assignments: assignments,
		publisher:   publisher,
		store:       store,
		limiter:     limiter,
		logger:      logger,
		now:         time.Now,
		genCode:     randomOTP,
	}
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (s *CompletionService) loadActive(ctx context.Context, assignmentID uint64, serviceID string) (*domain.PackageAssignment, error) {
	a, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == domain.AssignmentCancelled {
		return nil, apperr.ErrAssignmentNotActive
	}
	if serviceID != "" && !a.HasService(serviceID) {
		return nil, apperr.ErrServiceNotInPackage
	}
	return a, nil
}

// SubmitConsent records the write-once signed acknowledgment for one
// service. It stores the signature image first so the record never
// references an upload that did not happen.
func (s *CompletionService) SubmitConsent(ctx context.Context, assignmentID uint64, serviceID string, in ConsentInput) error {
	a, err := s.loadActive(ctx, assignmentID, serviceID)
	if err != nil {
		return err
	}
	if !in.Terms.AllAccepted() {
		return apperr.ErrTermsNotAccepted
	}
	if in.DoctorName == "" {
		return &apperr.FieldErrors{Fields: map[string]string{"doctorName": "required"}}
	}
	if _, exists := a.ServiceConsents[serviceID]; exists {
		return apperr.ErrConsentAlreadyExists
	}

	var signatureURL, signatureKey string
	if len(in.Signature) > 0 {
		signatureKey = fmt.Sprintf("consents/%d/%s.png", assignmentID, serviceID)
		url, err := s.store.Put(ctx, signatureKey, in.Signature, "image/png")
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrStorageFailure, err)
		}
		signatureURL = url
	}

	if a.ServiceConsents == nil {
		a.ServiceConsents = make(map[string]domain.ConsentRecord)
	}
	a.ServiceConsents[serviceID] = domain.ConsentRecord{
		DoctorName:   in.DoctorName,
		SignatureURL: signatureURL,
		Terms:        in.Terms,
		GivenAt:      s.now(),
	}
	if err := s.assignments.Update(ctx, a); err != nil {
		// the record never committed, so the upload must not outlive it
		if signatureKey != "" {
			if derr := s.store.Delete(ctx, signatureKey); derr != nil {
				s.logger.Warn("failed to remove orphaned consent signature",
					zap.Uint64("assignmentId", assignmentID),
					zap.String("key", signatureKey),
					zap.Error(derr))
			}
		}
		return err
	}
	return nil
}

// SaveServiceCard stores or overwrites the draft for one service.
// Drafts stay mutable until OTP verification consumes them.
func (s *CompletionService) SaveServiceCard(ctx context.Context, assignmentID uint64, serviceID string, in ServiceCardInput) error {
	a, err := s.loadActive(ctx, assignmentID, serviceID)
	if err != nil {
		return err
	}
	if a.IsServiceCompleted(serviceID) {
		return apperr.ErrServiceAlreadyCompleted
	}

	fields := map[string]string{}
	if in.Doctor == "" {
		fields["doctor"] = "required"
	}
	if in.Manager == "" {
		fields["manager"] = "required"
	}
	if in.Grading < 0 || in.Grading > 10 {
		fields["grading"] = "must be between 0 and 10"
	}
	if len(fields) > 0 {
		return &apperr.FieldErrors{Fields: fields}
	}

	if a.PendingCards == nil {
		a.PendingCards = make(map[string]domain.ServiceCardDraft)
	}
	a.PendingCards[serviceID] = domain.ServiceCardDraft{
		Doctor:        in.Doctor,
		Manager:       in.Manager,
		Grading:       in.Grading,
		Therapist:     in.Therapist,
		Notes:         in.Notes,
		Prescriptions: in.Prescriptions,
		SavedAt:       s.now(),
	}
	return s.assignments.Update(ctx, a)
}

// IssueOTP generates a new code for one service, overwriting any prior
// unconsumed token, and dispatches it out of band.
func (s *CompletionService) IssueOTP(ctx context.Context, assignmentID uint64, serviceID string) error {
	a, err := s.loadActive(ctx, assignmentID, serviceID)
	if err != nil {
		return err
	}
	if a.IsServiceCompleted(serviceID) {
		return apperr.ErrServiceAlreadyCompleted
	}
	if _, ok := a.ServiceConsents[serviceID]; !ok {
		return apperr.ErrConsentRequired
	}
	if _, ok := a.PendingCards[serviceID]; !ok {
		return apperr.ErrServiceCardRequired
	}

	allowed, err := s.limiter.Allow(ctx, fmt.Sprintf("otp:send:%d:%s", assignmentID, serviceID))
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.ErrRateLimited
	}

	code := s.genCode()
	if a.ServiceOTPs == nil {
		a.ServiceOTPs = make(map[string]domain.OTPToken)
	}
	a.ServiceOTPs[serviceID] = domain.OTPToken{
		Hash:      hashOTP(code),
		ExpiresAt: s.now().Add(otpValidity),
	}
	if err := s.assignments.Update(ctx, a); err != nil {
		return err
	}

	s.dispatchOTP(ctx, "notify.service_otp", a, serviceID, code)
	return nil
}

// VerifyOTP consumes the active token and, on success, moves the draft
// into the completion list. Calling it again for a completed service
// fails before any mutation.
func (s *CompletionService) VerifyOTP(ctx context.Context, assignmentID uint64, serviceID, code string) (*domain.PackageAssignment, error) {
	a, err := s.loadActive(ctx, assignmentID, serviceID)
	if err != nil {
		return nil, err
	}
	if a.IsServiceCompleted(serviceID) {
		return nil, apperr.ErrServiceAlreadyCompleted
	}

	token, ok := a.ServiceOTPs[serviceID]
	if !ok {
		return nil, apperr.ErrNoOTPIssued
	}

	if s.now().After(token.ExpiresAt) {
		delete(a.ServiceOTPs, serviceID)
		if err := s.assignments.Update(ctx, a); err != nil {
			return nil, err
		}
		return nil, apperr.ErrOTPExpired
	}

	if hashOTP(code) != token.Hash {
		token.Attempts++
		if token.Attempts >= otpMaxAttempts {
			delete(a.ServiceOTPs, serviceID)
			if err := s.assignments.Update(ctx, a); err != nil {
				return nil, err
			}
			return nil, apperr.ErrOTPAttemptsExceeded
		}
		a.ServiceOTPs[serviceID] = token
		if err := s.assignments.Update(ctx, a); err != nil {
			return nil, err
		}
		return nil, apperr.ErrOTPMismatch
	}

	draft, ok := a.PendingCards[serviceID]
	if !ok {
		return nil, apperr.ErrServiceCardRequired
	}

	prescriptions := draft.Prescriptions
	draft.Prescriptions = nil
	a.Completed = append(a.Completed, domain.CompletedService{
		ServiceID:     serviceID,
		CompletedAt:   s.now(),
		ServiceCard:   draft,
		Prescriptions: prescriptions,
	})
	delete(a.PendingCards, serviceID)
	delete(a.ServiceOTPs, serviceID)

	if a.AllServicesCompleted() {
		a.Status = domain.AssignmentCompleted
	}

	if err := s.assignments.Update(ctx, a); err != nil {
		return nil, err
	}

	go s.publishCompletion(context.Background(), a, serviceID)

	return a, nil
}

// RequestCancellation issues the single cancellation token for the
// whole assignment.
func (s *CompletionService) RequestCancellation(ctx context.Context, assignmentID uint64) error {
	a, err := s.loadActive(ctx, assignmentID, "")
	if err != nil {
		return err
	}

	allowed, err := s.limiter.Allow(ctx, fmt.Sprintf("otp:cancel:%d", assignmentID))
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.ErrRateLimited
	}

	code := s.genCode()
	a.CancellationOTP = &domain.OTPToken{
		Hash:      hashOTP(code),
		ExpiresAt: s.now().Add(otpValidity),
	}
	if err := s.assignments.Update(ctx, a); err != nil {
		return err
	}

	s.dispatchOTP(ctx, "notify.cancellation_otp", a, "", code)
	return nil
}

// ConfirmCancellation moves the assignment to its terminal Cancelled
// state after the token checks out.
func (s *CompletionService) ConfirmCancellation(ctx context.Context, assignmentID uint64, code string) error {
	a, err := s.loadActive(ctx, assignmentID, "")
	if err != nil {
		return err
	}

	token := a.CancellationOTP
	if token == nil {
		return apperr.ErrNoOTPIssued
	}

	if s.now().After(token.ExpiresAt) {
		a.CancellationOTP = nil
		if err := s.assignments.Update(ctx, a); err != nil {
			return err
		}
		return apperr.ErrOTPExpired
	}

	if hashOTP(code) != token.Hash {
		token.Attempts++
		if token.Attempts >= otpMaxAttempts {
			a.CancellationOTP = nil
			if err := s.assignments.Update(ctx, a); err != nil {
				return err
			}
			return apperr.ErrOTPAttemptsExceeded
		}
		if err := s.assignments.Update(ctx, a); err != nil {
			return err
		}
		return apperr.ErrOTPMismatch
	}

	a.Status = domain.AssignmentCancelled
	a.CancellationOTP = nil
	return s.assignments.Update(ctx, a)
}

func (s *CompletionService) dispatchOTP(ctx context.Context, kind string, a *domain.PackageAssignment, serviceID, code string) {
	evt := map[string]any{
		"assignmentId": a.ID,
		"email":        a.UserEmail,
		"code":         code,
	}
	if serviceID != "" {
		evt["serviceId"] = serviceID
	}
	if err := s.publisher.Publish(ctx, kind, evt); err != nil {
		s.logger.Warn("failed to publish OTP event",
			zap.Uint64("assignmentId", a.ID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (s *CompletionService) publishCompletion(ctx context.Context, a *domain.PackageAssignment, serviceID string) {
	evt := map[string]any{
		"assignmentId":      a.ID,
		"serviceId":         serviceID,
		"completionPercent": a.CompletionPercent(),
		"packageStatus":     a.Status,
	}
	if err := s.publisher.Publish(ctx, "notify.service_completed", evt); err != nil {
		s.logger.Warn("failed to publish completion event",
			zap.Uint64("assignmentId", a.ID),
			zap.String("serviceId", serviceID),
			zap.Error(err))
	}
}
