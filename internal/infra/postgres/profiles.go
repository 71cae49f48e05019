// Package postgres implements port.ProfileStore directly on PostgreSQL with
// sqlx, for deployments that do not go through PostgREST.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `CREATE TABLE IF NOT EXISTS user_profiles (
	user_id              TEXT PRIMARY KEY,
	authenticated        BOOLEAN NOT NULL DEFAULT FALSE,
	email                TEXT NOT NULL DEFAULT '',
	name                 TEXT NOT NULL DEFAULT '',
	phone                TEXT NOT NULL DEFAULT '',
	credits              INTEGER NOT NULL DEFAULT 0,
	stripe_customer_id   TEXT UNIQUE,
	phone_number         TEXT,
	phone_number_sid     TEXT,
	phone_provisioned_at TIMESTAMPTZ,
	assistants           JSONB NOT NULL DEFAULT '[]',
	databases            JSONB NOT NULL DEFAULT '[]',
	contacts             JSONB NOT NULL DEFAULT '[]',
	referred_by          TEXT,
	terms_accepted_at    TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const profileColumns = `user_id, authenticated, email, name, phone, credits, stripe_customer_id,
	phone_number, phone_number_sid, phone_provisioned_at, assistants, databases, contacts,
	referred_by, terms_accepted_at, created_at, updated_at`

type profileRow struct {
	UserID             string         `db:"user_id"`
	Authenticated      bool           `db:"authenticated"`
	Email              string         `db:"email"`
	Name               string         `db:"name"`
	Phone              string         `db:"phone"`
	Credits            int            `db:"credits"`
	StripeCustomerID   sql.NullString `db:"stripe_customer_id"`
	PhoneNumber        sql.NullString `db:"phone_number"`
	PhoneNumberSID     sql.NullString `db:"phone_number_sid"`
	PhoneProvisionedAt sql.NullTime   `db:"phone_provisioned_at"`
	Assistants         []byte         `db:"assistants"`
	Databases          []byte         `db:"databases"`
	Contacts           []byte         `db:"contacts"`
	ReferredBy         sql.NullString `db:"referred_by"`
	TermsAcceptedAt    sql.NullTime   `db:"terms_accepted_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *profileRow) toDomain() (*domain.UserProfile, error) {
	p := &domain.UserProfile{
		UserID:           r.UserID,
		Authenticated:    r.Authenticated,
		Email:            r.Email,
		Name:             r.Name,
		Phone:            r.Phone,
		Credits:          r.Credits,
		StripeCustomerID: r.StripeCustomerID.String,
		ReferredBy:       r.ReferredBy.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.TermsAcceptedAt.Valid {
		t := r.TermsAcceptedAt.Time
		p.TermsAcceptedAt = &t
	}
	if r.PhoneNumber.Valid && r.PhoneNumber.String != "" {
		p.PhoneNumber = &domain.PhoneNumber{
			Number:        r.PhoneNumber.String,
			SID:           r.PhoneNumberSID.String,
			ProvisionedAt: r.PhoneProvisionedAt.Time,
		}
	}

	var err error
	if p.Assistants, err = domain.DecodeStoredAssistants(r.Assistants); err != nil {
		return nil, fmt.Errorf("decode assistants: %w", err)
	}
	if len(r.Databases) > 0 {
		if err := json.Unmarshal(r.Databases, &p.Databases); err != nil {
			return nil, fmt.Errorf("decode databases: %w", err)
		}
	}
	if len(r.Contacts) > 0 {
		if err := json.Unmarshal(r.Contacts, &p.Contacts); err != nil {
			return nil, fmt.Errorf("decode contacts: %w", err)
		}
	}
	p.Normalize()
	return p, nil
}

// ProfileStore is a port.ProfileStore over a user_profiles table.
type ProfileStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Connect opens a pooled connection to dsn.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewProfileStore wraps an open database.
func NewProfileStore(db *sqlx.DB, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{db: db, logger: logger}
}

// Migrate creates the profiles table if needed.
func (s *ProfileStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create user_profiles table: %w", err)
	}
	s.logger.Info("postgres: user_profiles table is ready")
	return nil
}

// Ping checks the connection.
func (s *ProfileStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ProfileStore) getOne(ctx context.Context, key, query string, args ...any) (*domain.UserProfile, error) {
	var row profileRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "profile", ID: key}
		}
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return row.toDomain()
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return s.getOne(ctx, userID,
		`SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1`, userID)
}

func (s *ProfileStore) FindProfileByCustomerID(ctx context.Context, customerID string) (*domain.UserProfile, error) {
	return s.getOne(ctx, customerID,
		`SELECT `+profileColumns+` FROM user_profiles WHERE stripe_customer_id = $1`, customerID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonb(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// UpsertProfile inserts the document or updates its client-editable columns.
// Credits, phone number and customer id are never overwritten on conflict.
func (s *ProfileStore) UpsertProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	assistants, err := jsonb(p.Assistants)
	if err != nil {
		return nil, err
	}
	databases, err := jsonb(p.Databases)
	if err != nil {
		return nil, err
	}
	contacts, err := jsonb(p.Contacts)
	if err != nil {
		return nil, err
	}

	var number, sid sql.NullString
	var provisioned sql.NullTime
	if p.PhoneNumber != nil {
		number = nullString(p.PhoneNumber.Number)
		sid = nullString(p.PhoneNumber.SID)
		provisioned = sql.NullTime{Time: p.PhoneNumber.ProvisionedAt, Valid: !p.PhoneNumber.ProvisionedAt.IsZero()}
	}
	var terms sql.NullTime
	if p.TermsAcceptedAt != nil {
		terms = sql.NullTime{Time: *p.TermsAcceptedAt, Valid: true}
	}

	query := `INSERT INTO user_profiles (` + profileColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13::jsonb, $14, $15, $16, $17)
	ON CONFLICT (user_id) DO UPDATE SET
		authenticated = EXCLUDED.authenticated,
		email = EXCLUDED.email,
		name = EXCLUDED.name,
		phone = EXCLUDED.phone,
		assistants = EXCLUDED.assistants,
		databases = EXCLUDED.databases,
		contacts = EXCLUDED.contacts,
		referred_by = EXCLUDED.referred_by,
		terms_accepted_at = EXCLUDED.terms_accepted_at,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + profileColumns

	return s.getOne(ctx, p.UserID, query,
		p.UserID, p.Authenticated, p.Email, p.Name, p.Phone, p.Credits, nullString(p.StripeCustomerID),
		number, sid, provisioned, assistants, databases, contacts,
		nullString(p.ReferredBy), terms, p.CreatedAt, p.UpdatedAt,
	)
}

// ClaimPhoneNumber only updates a row whose phone_number is still NULL.
func (s *ProfileStore) ClaimPhoneNumber(ctx context.Context, userID string, number domain.PhoneNumber) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles
		SET phone_number = $2, phone_number_sid = $3, phone_provisioned_at = $4, updated_at = now()
		WHERE user_id = $1 AND phone_number IS NULL`,
		userID, number.Number, number.SID, number.ProvisionedAt)
	if err != nil {
		return false, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	s.logger.Info("postgres: phone number claim",
		zap.String("user_id", userID),
		zap.String("number", number.Number),
		zap.Bool("claimed", n == 1),
	)
	return n == 1, nil
}

func (s *ProfileStore) ReleasePhoneNumber(ctx context.Context, userID, sid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles
		SET phone_number = NULL, phone_number_sid = NULL, phone_provisioned_at = NULL, updated_at = now()
		WHERE user_id = $1 AND phone_number_sid = $2`,
		userID, sid)
	if err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return nil
}

func (s *ProfileStore) AddCredits(ctx context.Context, userID string, delta int) (int, error) {
	var balance int
	err := s.db.GetContext(ctx, &balance,
		`UPDATE user_profiles SET credits = credits + $2, updated_at = now()
		WHERE user_id = $1 RETURNING credits`,
		userID, delta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &domain.ErrNotFound{Resource: "profile", ID: userID}
		}
		return 0, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return balance, nil
}

func (s *ProfileStore) LinkCustomer(ctx context.Context, userID, customerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles SET stripe_customer_id = $2, updated_at = now() WHERE user_id = $1`,
		userID, customerID)
	if err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return nil
}

func (s *ProfileStore) ListProfilesReferredBy(ctx context.Context, code string) ([]domain.UserProfile, error) {
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+profileColumns+` FROM user_profiles WHERE referred_by = $1 ORDER BY created_at`, code)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	out := make([]domain.UserProfile, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}
