package domain

import "time"

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "Active"
	AssignmentCompleted AssignmentStatus = "Completed"
	AssignmentCancelled AssignmentStatus = "Cancelled"
)

type ServiceRef struct {
	ServiceID   string `json:"serviceId"`
	ServiceName string `json:"serviceName"`
}

type PackageDetails struct {
	PackageID   string       `json:"packageId"`
	PackageName string       `json:"packageName"`
	Price       int64        `json:"price"`
	Services    []ServiceRef `json:"services"`
}

// ConsentTerms are the six acknowledgments a patient signs before a
// service can proceed. All of them must be accepted.
type ConsentTerms struct {
	NoRefund         bool `json:"noRefund"`
	NonTransferable  bool `json:"nonTransferable"`
	ExpiryAccepted   bool `json:"expiryAccepted"`
	NoRefundOnChange bool `json:"noRefundOnChange"`
	VariableResults  bool `json:"variableResults"`
	NoGuarantee      bool `json:"noGuarantee"`
}

func (t ConsentTerms) AllAccepted() bool {
	return t.NoRefund && t.NonTransferable && t.ExpiryAccepted &&
		t.NoRefundOnChange && t.VariableResults && t.NoGuarantee
}

// ConsentRecord is write-once per service.
type ConsentRecord struct {
	DoctorName   string       `json:"doctorName"`
	SignatureURL string       `json:"signatureUrl,omitempty"`
	Terms        ConsentTerms `json:"terms"`
	GivenAt      time.Time    `json:"givenAt"`
}

// ServiceCardDraft stays mutable until OTP verification consumes it.
// Prescriptions move to the completion record when the service closes.
type ServiceCardDraft struct {
	Doctor        string    `json:"doctor"`
	Manager       string    `json:"manager"`
	Grading       int       `json:"grading"` // 0..10
	Therapist     string    `json:"therapist,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Prescriptions []string  `json:"prescriptions,omitempty"`
	SavedAt       time.Time `json:"savedAt"`
}

// OTPToken stores only the hash of the issued code. A single token is
// active per service; issuing again overwrites it.
type OTPToken struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

type CompletedService struct {
	ServiceID     string           `json:"serviceId"`
	CompletedAt   time.Time        `json:"completedAt"`
	ServiceCard   ServiceCardDraft `json:"serviceCard"`
	Prescriptions []string         `json:"prescriptions,omitempty"`
}

type PackageAssignment struct {
	ID              uint64                      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID          uint64                      `json:"userId" gorm:"not null;index"`
	UserEmail       string                      `json:"userEmail"`
	PackageDetails  PackageDetails              `json:"packageDetails" gorm:"serializer:json"`
	ServiceConsents map[string]ConsentRecord    `json:"serviceConsents" gorm:"serializer:json"`
	PendingCards    map[string]ServiceCardDraft `json:"pendingServiceCards" gorm:"serializer:json"`
	ServiceOTPs     map[string]OTPToken         `json:"serviceOtps" gorm:"serializer:json"`
	Completed       []CompletedService          `json:"completedServices" gorm:"serializer:json"`
	Status          AssignmentStatus            `json:"status" gorm:"size:16;default:'Active'"`
	CancellationOTP *OTPToken                   `json:"cancellationOtp,omitempty" gorm:"serializer:json"`
	CreatedAt       time.Time                   `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time                   `json:"updatedAt" gorm:"autoUpdateTime"`
}

// HasService reports whether serviceID belongs to the assigned package.
func (a *PackageAssignment) HasService(serviceID string) bool {
	for _, s := range a.PackageDetails.Services {
		if s.ServiceID == serviceID {
			return true
		}
	}
	return false
}

// IsServiceCompleted reports whether serviceID already has a completion
// record. At most one entry per service ever exists.
func (a *PackageAssignment) IsServiceCompleted(serviceID string) bool {
	for _, c := range a.Completed {
		if c.ServiceID == serviceID {
			return true
		}
	}
	return false
}

// AllServicesCompleted reports whether every service in the package has
// a completion record.
func (a *PackageAssignment) AllServicesCompleted() bool {
	for _, s := range a.PackageDetails.Services {
		if !a.IsServiceCompleted(s.ServiceID) {
			return false
		}
	}
	return true
}

// CompletionPercent is the share of package services completed, 0..100.
func (a *PackageAssignment) CompletionPercent() int {
	total := len(a.PackageDetails.Services)
	if total == 0 {
		return 0
	}
	done := 0
	for _, s := range a.PackageDetails.Services {
		if a.IsServiceCompleted(s.ServiceID) {
			done++
		}
	}
	return done * 100 / total
}
