// Package identity verifies bearer tokens issued by the identity provider
// and issues the tokens used by referral-program collaborators.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Options configures a Verifier. Exactly one of Secret or PublicKeyPEM is used;
// the public key wins when both are set.
type Options struct {
	Secret       string
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

// userClaims are the claims read from identity-provider tokens.
type userClaims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Verifier implements port.IdentityVerifier.
type Verifier struct {
	key     any
	methods []string
	parser  *jwt.Parser
}

// NewVerifier builds a verifier for HS256 (shared secret) or RS256 (PEM key).
func NewVerifier(opts Options) (*Verifier, error) {
	v := &Verifier{}
	switch {
	case opts.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(opts.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse identity public key: %w", err)
		}
		v.key = key
		v.methods = []string{jwt.SigningMethodRS256.Alg()}
	case opts.Secret != "":
		v.key = []byte(opts.Secret)
		v.methods = []string{jwt.SigningMethodHS256.Alg()}
	default:
		return nil, errors.New("identity verifier needs a secret or a public key")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	v.parser = jwt.NewParser(parserOpts...)
	return v, nil
}

// Verify returns the identity behind token.
func (v *Verifier) Verify(tokenString string) (*domain.Identity, error) {
	claims := &userClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	// Collaborator tokens are never user tokens, even under a shared secret.
	if claims.Type == domain.IdentityCollaborator {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return &domain.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Kind:    domain.IdentityUser,
	}, nil
}

// ============================================================
// Collaborator tokens
// ============================================================

type collaboratorClaims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// CollaboratorTokens signs and verifies HS256 collaborator access tokens.
type CollaboratorTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCollaboratorTokens creates a signer. The secret must not be empty.
func NewCollaboratorTokens(secret string, ttl time.Duration) (*CollaboratorTokens, error) {
	if secret == "" {
		return nil, errors.New("collaborator token secret is required")
	}
	return &CollaboratorTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued tokens.
func (c *CollaboratorTokens) TTL() time.Duration {
	return c.ttl
}

// Sign issues a token for collaborator id.
func (c *CollaboratorTokens) Sign(id, email string) (string, error) {
	now := c.now()
	claims := collaboratorClaims{
		Email: email,
		Type:  domain.IdentityCollaborator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify implements port.IdentityVerifier for collaborator tokens.
func (c *CollaboratorTokens) Verify(tokenString string) (*domain.Identity, error) {
	claims := &collaboratorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}
	if claims.Type != domain.IdentityCollaborator || claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return &domain.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Kind:    domain.IdentityCollaborator,
	}, nil
}
