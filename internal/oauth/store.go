package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/sortify-app/sortify-api/internal/database"
	"github.com/sortify-app/sortify-api/internal/secrets"
)

// TokenBundle is a decrypted credential set. It only exists in memory on
// the way into or out of the store; persisted columns are always encrypted.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not issue one
	ExpiresAt    time.Time
	Scopes       []string
}

// Connection is the domain view of a stored credential. Token fields stay
// encrypted until Store.Decrypt is called, so a Connection is safe to pass
// through logging and status paths.
type Connection struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Provider        string
	Status          string
	ExpiresAt       time.Time
	Scopes          []string
	LastRefreshedAt *time.Time
	CreatedAt       time.Time

	accessTokenEnc  string
	refreshTokenEnc *string
}

// Store persists provider credentials, encrypting token fields before they
// reach Postgres. It is the serialization point for concurrent refreshes.
type Store struct {
	db     *bun.DB
	cipher *secrets.Cipher
}

func NewStore(db *bun.DB, cipher *secrets.Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// Upsert replaces any ACTIVE connection for (user, provider) with a new one
// built from the bundle; last write wins. The superseded row is kept for
// audit with status revoked and cleared tokens.
func (s *Store) Upsert(ctx context.Context, userID uuid.UUID, provider string, bundle *TokenBundle) (*Connection, error) {
	row, err := s.encryptRow(userID, provider, bundle)
	if err != nil {
		return nil, err
	}

	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*database.OAuthConnection)(nil)).
			Set("status = ?", database.ConnectionStatusRevoked).
			Set("access_token_enc = ''").
			Set("refresh_token_enc = NULL").
			Set("updated_at = NOW()").
			Where("user_id = ?", userID).
			Where("provider = ?", provider).
			Where("status = ?", database.ConnectionStatusActive).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewInsert().
			Model(row).
			Returning("*").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w: %w", database.ErrUnavailable, err)
	}

	return mapRowToConnection(row), nil
}

// GetActive returns the ACTIVE connection for (user, provider), or
// ErrConnectionNotFound.
func (s *Store) GetActive(ctx context.Context, userID uuid.UUID, provider string) (*Connection, error) {
	row := new(database.OAuthConnection)
	err := s.db.NewSelect().
		Model(row).
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Where("status = ?", database.ConnectionStatusActive).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w: %w", database.ErrUnavailable, err)
	}

	return mapRowToConnection(row), nil
}

// HasActive reports whether the user has any ACTIVE connection. Used to
// derive the email-provider onboarding step from the single source of truth.
func (s *Store) HasActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	count, err := s.db.NewSelect().
		Model((*database.OAuthConnection)(nil)).
		Where("user_id = ?", userID).
		Where("status = ?", database.ConnectionStatusActive).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check connections: %w: %w", database.ErrUnavailable, err)
	}

	return count > 0, nil
}

// Decrypt lazily decrypts a connection's token fields.
func (s *Store) Decrypt(conn *Connection) (*TokenBundle, error) {
	accessToken, err := s.cipher.Decrypt(conn.accessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	bundle := &TokenBundle{
		AccessToken: accessToken,
		ExpiresAt:   conn.ExpiresAt,
		Scopes:      conn.Scopes,
	}

	if conn.refreshTokenEnc != nil {
		refreshToken, err := s.cipher.Decrypt(*conn.refreshTokenEnc)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		bundle.RefreshToken = refreshToken
	}

	return bundle, nil
}

// CompareAndSwapTokens commits a refresh. The row is updated only while it
// is still ACTIVE with the expiry the refresh started from, so a concurrent
// refresh, expiry, or revocation makes the commit fail with
// ErrRefreshConflict instead of clobbering the winner's write.
func (s *Store) CompareAndSwapTokens(ctx context.Context, userID uuid.UUID, provider string, prevExpiresAt time.Time, bundle *TokenBundle) (*Connection, error) {
	row, err := s.encryptRow(userID, provider, bundle)
	if err != nil {
		return nil, err
	}

	result, err := s.db.NewUpdate().
		Model((*database.OAuthConnection)(nil)).
		Set("access_token_enc = ?", row.AccessTokenEnc).
		Set("refresh_token_enc = ?", row.RefreshTokenEnc).
		Set("expires_at = ?", bundle.ExpiresAt).
		Set("scopes = ?", pgdialect.Array(bundle.Scopes)).
		Set("last_refreshed_at = NOW()").
		Set("updated_at = NOW()").
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Where("status = ?", database.ConnectionStatusActive).
		Where("expires_at = ?", prevExpiresAt).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to commit refresh: %w: %w", database.ErrUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrRefreshConflict
	}

	return s.GetActive(ctx, userID, provider)
}

// MarkExpired flips an ACTIVE connection to EXPIRED. Tokens are kept: the
// refresh token may be invalid, but clearing columns is reserved for
// revocation. Idempotent.
func (s *Store) MarkExpired(ctx context.Context, userID uuid.UUID, provider string) error {
	_, err := s.db.NewUpdate().
		Model((*database.OAuthConnection)(nil)).
		Set("status = ?", database.ConnectionStatusExpired).
		Set("updated_at = NOW()").
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Where("status = ?", database.ConnectionStatusActive).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark connection expired: %w: %w", database.ErrUnavailable, err)
	}

	return nil
}

// MarkRevoked clears token columns and flips status to REVOKED for any
// non-revoked row of the pair. Revoking an already-revoked or nonexistent
// connection is a no-op success. The row itself stays for audit.
func (s *Store) MarkRevoked(ctx context.Context, userID uuid.UUID, provider string) error {
	_, err := s.db.NewUpdate().
		Model((*database.OAuthConnection)(nil)).
		Set("status = ?", database.ConnectionStatusRevoked).
		Set("access_token_enc = ''").
		Set("refresh_token_enc = NULL").
		Set("updated_at = NOW()").
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Where("status != ?", database.ConnectionStatusRevoked).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke connection: %w: %w", database.ErrUnavailable, err)
	}

	return nil
}

// ListExpiringActive returns ACTIVE connections expiring within the window.
// Used only by the optional refresh sweep.
func (s *Store) ListExpiringActive(ctx context.Context, within time.Duration, limit int) ([]Connection, error) {
	var rows []database.OAuthConnection
	err := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", database.ConnectionStatusActive).
		Where("expires_at < ?", time.Now().Add(within)).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring connections: %w: %w", database.ErrUnavailable, err)
	}

	conns := make([]Connection, 0, len(rows))
	for i := range rows {
		conns = append(conns, *mapRowToConnection(&rows[i]))
	}
	return conns, nil
}

// encryptRow builds a database row from a bundle, encrypting token fields.
func (s *Store) encryptRow(userID uuid.UUID, provider string, bundle *TokenBundle) (*database.OAuthConnection, error) {
	accessEnc, err := s.cipher.Encrypt(bundle.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	row := &database.OAuthConnection{
		UserID:         userID,
		Provider:       provider,
		AccessTokenEnc: accessEnc,
		ExpiresAt:      bundle.ExpiresAt,
		Scopes:         bundle.Scopes,
		Status:         database.ConnectionStatusActive,
	}

	if bundle.RefreshToken != "" {
		refreshEnc, err := s.cipher.Encrypt(bundle.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		row.RefreshTokenEnc = &refreshEnc
	}

	return row, nil
}

func mapRowToConnection(row *database.OAuthConnection) *Connection {
	return &Connection{
		ID:              row.ID,
		UserID:          row.UserID,
		Provider:        row.Provider,
		Status:          row.Status,
		ExpiresAt:       row.ExpiresAt,
		Scopes:          row.Scopes,
		LastRefreshedAt: row.LastRefreshedAt,
		CreatedAt:       row.CreatedAt,
		accessTokenEnc:  row.AccessTokenEnc,
		refreshTokenEnc: row.RefreshTokenEnc,
	}
}
