package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity anchor; every other row cascades from it.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                      uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email                   string     `bun:"email,notnull,unique"`
	PasswordHash            string     `bun:"password_hash,notnull"`
	EmailVerified           bool       `bun:"email_verified,notnull,default:false"`
	EmailVerificationToken  *string    `bun:"email_verification_token"`
	EmailVerificationSentAt *time.Time `bun:"email_verification_sent_at"`
	OnboardingCompleted     bool       `bun:"onboarding_completed,notnull,default:false"`
	CreatedAt               time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt               time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// RefreshToken is the Postgres-backed variant of session refresh token
// storage. The default deployment keeps these in Redis instead.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID        uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID    uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	TokenHash string     `bun:"token_hash,notnull,unique"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	RevokedAt *time.Time `bun:"revoked_at"`
}

// OAuthConnection statuses. A (user, provider) pair has at most one
// active row, enforced by a partial unique index.
const (
	ConnectionStatusActive  = "active"
	ConnectionStatusExpired = "expired"
	ConnectionStatusRevoked = "revoked"
)

// OAuthConnection holds one provider credential per (user, provider) pair.
// Token columns are encrypted before they reach this struct and are never
// cleared by expiry, only by revocation. Rows are kept for audit; they go
// away only when the owning user is deleted.
type OAuthConnection struct {
	bun.BaseModel `bun:"table:oauth_connections,alias:oc"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID          uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	Provider        string     `bun:"provider,notnull"`
	AccessTokenEnc  string     `bun:"access_token_enc,notnull"`
	RefreshTokenEnc *string    `bun:"refresh_token_enc"`
	ExpiresAt       time.Time  `bun:"expires_at,notnull"`
	Scopes          []string   `bun:"scopes,array"`
	Status          string     `bun:"status,notnull,default:'active'"`
	LastRefreshedAt *time.Time `bun:"last_refreshed_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// OnboardingProgress is the per-user wizard record. CompletedSteps keeps
// completion order and never holds duplicates. Settings is a JSONB blob
// keyed by step id, validated at the handler boundary.
type OnboardingProgress struct {
	bun.BaseModel `bun:"table:onboarding_progress,alias:op"`

	UserID         uuid.UUID      `bun:"user_id,pk,type:uuid"`
	CompletedSteps []string       `bun:"completed_steps,array"`
	SkippedSteps   []string       `bun:"skipped_steps,array"`
	BusinessTypeID *int64         `bun:"business_type_id"`
	Settings       map[string]any `bun:"settings,type:jsonb"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

// BusinessType is a seeded catalog row; DefaultCategories is copied into a
// user's settings once at selection time, never referenced live.
type BusinessType struct {
	bun.BaseModel `bun:"table:business_types,alias:bt"`

	ID                int64    `bun:"id,pk,autoincrement"`
	Name              string   `bun:"name,notnull,unique"`
	DefaultCategories []string `bun:"default_categories,array"`
}
