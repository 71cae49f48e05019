package domain

import "time"

// ============================================================
// Collaborators (referral program)
// ============================================================

// Collaborator is a referral-program participant with its own login.
type Collaborator struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	ReferralCode   string    `json:"referralCode"`
	PayoutKey      string    `json:"payoutKey,omitempty"`
	CommissionRate float64   `json:"commissionRate"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CollaboratorRegisterRequest is the body for POST /api/collaborators/register.
type CollaboratorRegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PayoutKey string `json:"payoutKey"`
}

// CollaboratorLoginRequest is the body for POST /api/collaborators/login.
type CollaboratorLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CollaboratorLoginResponse carries the collaborator access token.
type CollaboratorLoginResponse struct {
	AccessToken  string        `json:"accessToken"`
	ExpiresIn    int           `json:"expiresIn"`
	Collaborator *Collaborator `json:"collaborator"`
}

// Referral is a profile that signed up with a collaborator's code.
type Referral struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name,omitempty"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
}

// CollaboratorDashboard is returned by GET /api/collaborators/me.
type CollaboratorDashboard struct {
	Collaborator        *Collaborator `json:"collaborator"`
	Referrals           []Referral    `json:"referrals"`
	EstimatedCommission float64       `json:"estimatedCommission"`
}
