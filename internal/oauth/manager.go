package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/metrics"
)

// refreshSafetyMargin is subtracted from a token's expiry when deciding
// whether it is still usable, so callers never receive a token about to
// die mid-request.
const refreshSafetyMargin = 2 * time.Minute

// Authorization is the result of starting an OAuth flow.
type Authorization struct {
	URL   string
	State string
}

// Manager owns the OAuth credential lifecycle: authorization flows, token
// storage, expiry-driven refresh, and disconnection.
type Manager struct {
	store     CredentialStore
	states    StateStore
	providers map[string]Provider
	logger    *logging.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

func NewManager(store CredentialStore, states StateStore, providers []Provider, logger *logging.Logger, recorder metrics.Recorder) *Manager {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Manager{
		store:     store,
		states:    states,
		providers: byName,
		logger:    logger,
		metrics:   recorder,
		now:       time.Now,
	}
}

func (m *Manager) provider(name string) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// BeginAuthorization generates a single-use state token, persists it bound
// to the user and provider, and returns the provider consent URL.
func (m *Manager) BeginAuthorization(ctx context.Context, userID uuid.UUID, providerName string) (*Authorization, error) {
	p, err := m.provider(providerName)
	if err != nil {
		return nil, err
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	if err := m.states.Save(ctx, state, userID, providerName); err != nil {
		return nil, fmt.Errorf("failed to save authorization state: %w", err)
	}

	return &Authorization{
		URL:   p.AuthCodeURL(state),
		State: state,
	}, nil
}

// CompleteAuthorization handles the provider callback: it consumes the
// state (each state works exactly once, so replayed or forged callbacks
// fail), exchanges the code, and stores the encrypted credential. Returns
// the user the state was bound to so the handler can finish their session.
func (m *Manager) CompleteAuthorization(ctx context.Context, state, code string) (*Connection, error) {
	authState, err := m.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("failed to consume authorization state: %w", err)
	}

	p, err := m.provider(authState.Provider)
	if err != nil {
		return nil, err
	}

	tokens, err := p.Exchange(ctx, code)
	if err != nil {
		m.metrics.RecordExchange(authState.Provider, "failure")
		m.logger.WithFields(map[string]any{
			"provider": authState.Provider,
			"user_id":  authState.UserID,
			"error":    err.Error(),
		}).Error("OAuth code exchange failed")
		return nil, fmt.Errorf("%w: %w", ErrProviderExchange, err)
	}

	conn, err := m.store.Upsert(ctx, authState.UserID, authState.Provider, &TokenBundle{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		Scopes:       tokens.Scopes,
	})
	if err != nil {
		m.metrics.RecordExchange(authState.Provider, "failure")
		return nil, err
	}

	m.metrics.RecordExchange(authState.Provider, "success")
	m.logger.WithFields(map[string]any{
		"provider": authState.Provider,
		"user_id":  authState.UserID,
	}).Info("OAuth connection established")

	return conn, nil
}

// GetValidAccessToken returns an access token guaranteed to be usable for
// at least the safety margin, refreshing it first when necessary. Callers
// must never read token columns directly; this is the only read path.
//
// When a concurrent refresh commits first, this call adopts the winner's
// token instead of overwriting it. When the connection was disconnected
// mid-refresh, the disconnect wins and ErrReauthorizationRequired is
// returned without resurrecting the credential.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID uuid.UUID, providerName string) (string, error) {
	conn, err := m.store.GetActive(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return "", ErrReauthorizationRequired
		}
		return "", err
	}

	if m.now().Add(refreshSafetyMargin).Before(conn.ExpiresAt) {
		bundle, err := m.store.Decrypt(conn)
		if err != nil {
			return "", err
		}
		return bundle.AccessToken, nil
	}

	return m.refresh(ctx, conn)
}

// refresh performs a provider refresh and commits it with a compare-and-swap
// against the expiry the refresh started from. The provider call and the
// commit run detached from the caller's deadline: once a refresh is in
// flight, abandoning it halfway would burn a single-use refresh token.
func (m *Manager) refresh(ctx context.Context, conn *Connection) (string, error) {
	providerName := conn.Provider
	userID := conn.UserID

	p, err := m.provider(providerName)
	if err != nil {
		return "", err
	}

	bundle, err := m.store.Decrypt(conn)
	if err != nil {
		return "", err
	}

	if bundle.RefreshToken == "" {
		if err := m.store.MarkExpired(ctx, userID, providerName); err != nil {
			return "", err
		}
		m.metrics.RecordRefresh(providerName, "no_refresh_token")
		return "", ErrReauthorizationRequired
	}

	detached := context.WithoutCancel(ctx)

	fresh, err := p.Refresh(detached, bundle.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrReauthorizationRequired) {
			if markErr := m.store.MarkExpired(detached, userID, providerName); markErr != nil {
				return "", markErr
			}
			m.metrics.RecordRefresh(providerName, "rejected")
			m.logger.WithFields(map[string]any{
				"provider": providerName,
				"user_id":  userID,
			}).Warn("refresh token rejected by provider, reauthorization required")
			return "", ErrReauthorizationRequired
		}
		m.metrics.RecordRefresh(providerName, "failure")
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	// Providers often omit the refresh token and scopes on refresh
	// responses; carry the previous values forward.
	newBundle := &TokenBundle{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.ExpiresAt,
		Scopes:       fresh.Scopes,
	}
	if newBundle.RefreshToken == "" {
		newBundle.RefreshToken = bundle.RefreshToken
	}
	if len(newBundle.Scopes) == 0 {
		newBundle.Scopes = bundle.Scopes
	}

	committed, err := m.store.CompareAndSwapTokens(detached, userID, providerName, conn.ExpiresAt, newBundle)
	if err != nil {
		if errors.Is(err, ErrRefreshConflict) {
			return m.resolveRefreshConflict(detached, userID, providerName)
		}
		return "", err
	}

	m.metrics.RecordRefresh(providerName, "success")
	m.logger.WithFields(map[string]any{
		"provider":   providerName,
		"user_id":    userID,
		"expires_at": committed.ExpiresAt,
	}).Debug("access token refreshed")

	return newBundle.AccessToken, nil
}

// resolveRefreshConflict re-reads after a lost compare-and-swap. A missing
// active row means the connection was disconnected or expired mid-refresh;
// a present one means a concurrent refresh won and its token is served.
func (m *Manager) resolveRefreshConflict(ctx context.Context, userID uuid.UUID, providerName string) (string, error) {
	m.metrics.RecordRefresh(providerName, "conflict")

	current, err := m.store.GetActive(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return "", ErrReauthorizationRequired
		}
		return "", err
	}

	bundle, err := m.store.Decrypt(current)
	if err != nil {
		return "", err
	}

	return bundle.AccessToken, nil
}

// Disconnect revokes the stored credential. Provider-side revocation is
// best effort; the local revocation must succeed regardless, so a dead
// provider cannot keep a credential alive.
func (m *Manager) Disconnect(ctx context.Context, userID uuid.UUID, providerName string) error {
	p, err := m.provider(providerName)
	if err != nil {
		return err
	}

	conn, err := m.store.GetActive(ctx, userID, providerName)
	if err != nil && !errors.Is(err, ErrConnectionNotFound) {
		return err
	}

	if conn != nil {
		if bundle, decErr := m.store.Decrypt(conn); decErr == nil {
			if revErr := p.Revoke(ctx, bundle.AccessToken); revErr != nil {
				m.logger.WithFields(map[string]any{
					"provider": providerName,
					"user_id":  userID,
					"error":    revErr.Error(),
				}).Warn("provider-side token revocation failed")
			}
		}
	}

	if err := m.store.MarkRevoked(ctx, userID, providerName); err != nil {
		return err
	}

	m.metrics.RecordDisconnect(providerName)
	m.logger.WithFields(map[string]any{
		"provider": providerName,
		"user_id":  userID,
	}).Info("OAuth connection disconnected")

	return nil
}

// HasActiveConnection reports whether the user holds any ACTIVE connection.
func (m *Manager) HasActiveConnection(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.store.HasActive(ctx, userID)
}

// ConnectionStatus returns the stored connection for a provider without
// decrypting anything, for status surfaces.
func (m *Manager) ConnectionStatus(ctx context.Context, userID uuid.UUID, providerName string) (*Connection, error) {
	if _, err := m.provider(providerName); err != nil {
		return nil, err
	}
	return m.store.GetActive(ctx, userID, providerName)
}

// RefreshExpiring proactively refreshes connections close to expiry. Used
// by the background sweep; per-connection failures are logged and counted,
// never fatal to the sweep.
func (m *Manager) RefreshExpiring(ctx context.Context, within time.Duration, limit int) (int, error) {
	conns, err := m.store.ListExpiringActive(ctx, within, limit)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range conns {
		if _, err := m.refresh(ctx, &conns[i]); err != nil {
			m.logger.WithFields(map[string]any{
				"provider": conns[i].Provider,
				"user_id":  conns[i].UserID,
				"error":    err.Error(),
			}).Warn("background refresh failed")
			continue
		}
		refreshed++
	}

	return refreshed, nil
}

func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
