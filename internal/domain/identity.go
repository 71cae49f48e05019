package domain

// Identity is the verified caller behind a bearer token.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	// Kind is "user" for identity-provider tokens and "collaborator" for
	// tokens issued by the referral program login.
	Kind string `json:"kind"`
}

// Identity kinds.
const (
	IdentityUser         = "user"
	IdentityCollaborator = "collaborator"
)
