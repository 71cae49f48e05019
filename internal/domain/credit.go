package domain

import (
	"fmt"
	"math"
	"time"
)

// ============================================================
// Credit offers & credit lines
// ============================================================

// CreditOffer is a lending product an assistant can present.
type CreditOffer struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	AssistantID     string    `json:"assistantId"`
	Name            string    `json:"name"`
	MinAmount       float64   `json:"minAmount"`
	MaxAmount       float64   `json:"maxAmount"`
	InterestRate    float64   `json:"interestRate"` // monthly %
	MaxInstallments int       `json:"maxInstallments"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Validate checks the offer bounds.
func (o *CreditOffer) Validate() error {
	if o.Name == "" {
		return &ErrValidation{Field: "name", Message: "name is required"}
	}
	if o.MinAmount <= 0 || o.MaxAmount < o.MinAmount {
		return &ErrValidation{Field: "amount", Message: "amount bounds must satisfy 0 < min <= max"}
	}
	if o.InterestRate < 0 {
		return &ErrValidation{Field: "interestRate", Message: "interest rate cannot be negative"}
	}
	if o.MaxInstallments <= 0 {
		return &ErrValidation{Field: "maxInstallments", Message: "must be at least 1"}
	}
	return nil
}

// CreditLineStatus is the lifecycle state of a credit request.
type CreditLineStatus string

const (
	CreditPending   CreditLineStatus = "pending"
	CreditApproved  CreditLineStatus = "approved"
	CreditRejected  CreditLineStatus = "rejected"
	CreditActive    CreditLineStatus = "active"
	CreditCompleted CreditLineStatus = "completed"
)

var creditTransitions = map[CreditLineStatus][]CreditLineStatus{
	CreditPending:  {CreditApproved, CreditRejected},
	CreditApproved: {CreditActive},
	CreditActive:   {CreditCompleted},
}

// CanTransition reports whether from → to is allowed.
func (s CreditLineStatus) CanTransition(to CreditLineStatus) bool {
	for _, next := range creditTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseCreditLineStatus validates a wire status.
func ParseCreditLineStatus(s string) (CreditLineStatus, error) {
	switch st := CreditLineStatus(s); st {
	case CreditPending, CreditApproved, CreditRejected, CreditActive, CreditCompleted:
		return st, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

// CreditLine is one applicant's credit request against an offer.
type CreditLine struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	OfferID        string           `json:"offerId"`
	ApplicantName  string           `json:"applicantName"`
	ApplicantPhone string           `json:"applicantPhone"`
	Amount         float64          `json:"amount"`
	Installments   int              `json:"installments"`
	Status         CreditLineStatus `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`

	// MonthlyPayment is derived from the offer's rate; it is not stored.
	MonthlyPayment float64 `json:"monthlyPayment"`
}

// CreditLineRequest is the body of POST /api/credit-lines.
type CreditLineRequest struct {
	OfferID        string  `json:"offerId"`
	ApplicantName  string  `json:"applicantName"`
	ApplicantPhone string  `json:"applicantPhone"`
	Amount         float64 `json:"amount"`
	Installments   int     `json:"installments"`
}

// CreditStatusRequest is the body of POST /api/credit-lines/{id}/status.
type CreditStatusRequest struct {
	Status string `json:"status"`
}

// Installment returns the fixed installment (price table) for the line,
// rounded to cents.
func (l *CreditLine) Installment(monthlyRatePct float64) float64 {
	if l.Installments <= 0 {
		return 0
	}
	n := float64(l.Installments)
	if monthlyRatePct == 0 {
		return math.Round(l.Amount/n*100) / 100
	}
	i := monthlyRatePct / 100
	f := math.Pow(1+i, n)
	return math.Round(l.Amount*i*f/(f-1)*100) / 100
}
