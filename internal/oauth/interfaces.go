package oauth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CredentialStore is what the Manager needs from credential persistence.
type CredentialStore interface {
	Upsert(ctx context.Context, userID uuid.UUID, provider string, bundle *TokenBundle) (*Connection, error)
	GetActive(ctx context.Context, userID uuid.UUID, provider string) (*Connection, error)
	HasActive(ctx context.Context, userID uuid.UUID) (bool, error)
	Decrypt(conn *Connection) (*TokenBundle, error)
	CompareAndSwapTokens(ctx context.Context, userID uuid.UUID, provider string, prevExpiresAt time.Time, bundle *TokenBundle) (*Connection, error)
	MarkExpired(ctx context.Context, userID uuid.UUID, provider string) error
	MarkRevoked(ctx context.Context, userID uuid.UUID, provider string) error
	ListExpiringActive(ctx context.Context, within time.Duration, limit int) ([]Connection, error)
}

// StateStore issues and consumes single-use authorization states.
type StateStore interface {
	Save(ctx context.Context, state string, userID uuid.UUID, provider string) error
	Consume(ctx context.Context, state string) (*AuthState, error)
}

var _ CredentialStore = (*Store)(nil)
var _ StateStore = (*StateRepository)(nil)
