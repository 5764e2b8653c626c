package oauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/metrics"
)

type fakeConn struct {
	bundle TokenBundle
	status string
}

// fakeCredentialStore keeps plaintext bundles in memory. The beforeCAS
// hook runs just before the compare-and-swap check so tests can simulate
// a concurrent writer winning the race.
type fakeCredentialStore struct {
	conns     map[string]*fakeConn
	beforeCAS func()
	expired   []string
	revoked   []string
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{conns: make(map[string]*fakeConn)}
}

func connKey(userID uuid.UUID, provider string) string {
	return userID.String() + "/" + provider
}

func (f *fakeCredentialStore) toConnection(userID uuid.UUID, provider string, c *fakeConn) *Connection {
	return &Connection{
		UserID:         userID,
		Provider:       provider,
		Status:         c.status,
		ExpiresAt:      c.bundle.ExpiresAt,
		Scopes:         c.bundle.Scopes,
		accessTokenEnc: c.bundle.AccessToken,
		refreshTokenEnc: func() *string {
			if c.bundle.RefreshToken == "" {
				return nil
			}
			rt := c.bundle.RefreshToken
			return &rt
		}(),
	}
}

func (f *fakeCredentialStore) Upsert(_ context.Context, userID uuid.UUID, provider string, bundle *TokenBundle) (*Connection, error) {
	c := &fakeConn{bundle: *bundle, status: "active"}
	f.conns[connKey(userID, provider)] = c
	return f.toConnection(userID, provider, c), nil
}

func (f *fakeCredentialStore) GetActive(_ context.Context, userID uuid.UUID, provider string) (*Connection, error) {
	c, ok := f.conns[connKey(userID, provider)]
	if !ok || c.status != "active" {
		return nil, ErrConnectionNotFound
	}
	return f.toConnection(userID, provider, c), nil
}

func (f *fakeCredentialStore) HasActive(_ context.Context, userID uuid.UUID) (bool, error) {
	for key, c := range f.conns {
		if c.status == "active" && key[:len(userID.String())] == userID.String() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCredentialStore) Decrypt(conn *Connection) (*TokenBundle, error) {
	bundle := &TokenBundle{
		AccessToken: conn.accessTokenEnc,
		ExpiresAt:   conn.ExpiresAt,
		Scopes:      conn.Scopes,
	}
	if conn.refreshTokenEnc != nil {
		bundle.RefreshToken = *conn.refreshTokenEnc
	}
	return bundle, nil
}

func (f *fakeCredentialStore) CompareAndSwapTokens(_ context.Context, userID uuid.UUID, provider string, prevExpiresAt time.Time, bundle *TokenBundle) (*Connection, error) {
	if f.beforeCAS != nil {
		f.beforeCAS()
	}
	c, ok := f.conns[connKey(userID, provider)]
	if !ok || c.status != "active" || !c.bundle.ExpiresAt.Equal(prevExpiresAt) {
		return nil, ErrRefreshConflict
	}
	c.bundle = *bundle
	return f.toConnection(userID, provider, c), nil
}

func (f *fakeCredentialStore) MarkExpired(_ context.Context, userID uuid.UUID, provider string) error {
	f.expired = append(f.expired, connKey(userID, provider))
	if c, ok := f.conns[connKey(userID, provider)]; ok && c.status == "active" {
		c.status = "expired"
	}
	return nil
}

func (f *fakeCredentialStore) MarkRevoked(_ context.Context, userID uuid.UUID, provider string) error {
	f.revoked = append(f.revoked, connKey(userID, provider))
	if c, ok := f.conns[connKey(userID, provider)]; ok {
		c.status = "revoked"
		c.bundle.AccessToken = ""
		c.bundle.RefreshToken = ""
	}
	return nil
}

func (f *fakeCredentialStore) ListExpiringActive(_ context.Context, within time.Duration, limit int) ([]Connection, error) {
	return nil, nil
}

type fakeStateStore struct {
	states map[string]AuthState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]AuthState)}
}

func (f *fakeStateStore) Save(_ context.Context, state string, userID uuid.UUID, provider string) error {
	f.states[state] = AuthState{UserID: userID, Provider: provider}
	return nil
}

func (f *fakeStateStore) Consume(_ context.Context, state string) (*AuthState, error) {
	s, ok := f.states[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(f.states, state)
	return &s, nil
}

type fakeProvider struct {
	name         string
	exchangeFunc func(ctx context.Context, code string) (*ProviderTokens, error)
	refreshFunc  func(ctx context.Context, refreshToken string) (*ProviderTokens, error)
	revokeFunc   func(ctx context.Context, accessToken string) error
	refreshCalls int
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (*ProviderTokens, error) {
	if f.exchangeFunc == nil {
		return nil, fmt.Errorf("unexpected Exchange call")
	}
	return f.exchangeFunc(ctx, code)
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*ProviderTokens, error) {
	f.refreshCalls++
	if f.refreshFunc == nil {
		return nil, fmt.Errorf("unexpected Refresh call")
	}
	return f.refreshFunc(ctx, refreshToken)
}

func (f *fakeProvider) Revoke(ctx context.Context, accessToken string) error {
	if f.revokeFunc == nil {
		return nil
	}
	return f.revokeFunc(ctx, accessToken)
}

func newTestManager(store CredentialStore, states StateStore, providers ...Provider) *Manager {
	logger := logging.NewLogger(true)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewManager(store, states, providers, logger, collector)
}

func TestBeginAuthorizationUnknownProvider(t *testing.T) {
	m := newTestManager(newFakeCredentialStore(), newFakeStateStore())

	_, err := m.BeginAuthorization(context.Background(), uuid.New(), "yahoo")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestBeginAuthorizationSavesState(t *testing.T) {
	states := newFakeStateStore()
	provider := &fakeProvider{name: "google"}
	m := newTestManager(newFakeCredentialStore(), states, provider)

	userID := uuid.New()
	authz, err := m.BeginAuthorization(context.Background(), userID, "google")
	if err != nil {
		t.Fatalf("BeginAuthorization returned error: %v", err)
	}

	saved, ok := states.states[authz.State]
	if !ok {
		t.Fatal("state was not persisted")
	}
	if saved.UserID != userID || saved.Provider != "google" {
		t.Errorf("saved state = %+v, want user %s provider google", saved, userID)
	}
	if authz.URL == "" {
		t.Error("authorization URL is empty")
	}
}

func TestCompleteAuthorizationStoresConnection(t *testing.T) {
	store := newFakeCredentialStore()
	states := newFakeStateStore()
	expiry := time.Now().Add(time.Hour)
	provider := &fakeProvider{
		name: "google",
		exchangeFunc: func(_ context.Context, code string) (*ProviderTokens, error) {
			if code != "good-code" {
				return nil, fmt.Errorf("bad code %q", code)
			}
			return &ProviderTokens{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				ExpiresAt:    expiry,
				Scopes:       []string{"mail.read"},
			}, nil
		},
	}
	m := newTestManager(store, states, provider)

	userID := uuid.New()
	states.Save(context.Background(), "state-1", userID, "google")

	conn, err := m.CompleteAuthorization(context.Background(), "state-1", "good-code")
	if err != nil {
		t.Fatalf("CompleteAuthorization returned error: %v", err)
	}
	if conn.UserID != userID {
		t.Errorf("connection user = %s, want %s", conn.UserID, userID)
	}

	stored, err := store.GetActive(context.Background(), userID, "google")
	if err != nil {
		t.Fatalf("GetActive returned error: %v", err)
	}
	bundle, _ := store.Decrypt(stored)
	if bundle.AccessToken != "access-1" || bundle.RefreshToken != "refresh-1" {
		t.Errorf("stored bundle = %+v", bundle)
	}
}

func TestCompleteAuthorizationRejectsReplayedState(t *testing.T) {
	store := newFakeCredentialStore()
	states := newFakeStateStore()
	provider := &fakeProvider{
		name: "google",
		exchangeFunc: func(_ context.Context, _ string) (*ProviderTokens, error) {
			return &ProviderTokens{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	m := newTestManager(store, states, provider)

	userID := uuid.New()
	states.Save(context.Background(), "state-1", userID, "google")

	if _, err := m.CompleteAuthorization(context.Background(), "state-1", "code"); err != nil {
		t.Fatalf("first callback returned error: %v", err)
	}

	_, err := m.CompleteAuthorization(context.Background(), "state-1", "code")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("replayed callback error = %v, want ErrInvalidState", err)
	}
}

func TestCompleteAuthorizationExchangeFailureConsumesState(t *testing.T) {
	states := newFakeStateStore()
	provider := &fakeProvider{
		name: "google",
		exchangeFunc: func(_ context.Context, _ string) (*ProviderTokens, error) {
			return nil, fmt.Errorf("provider said no")
		},
	}
	m := newTestManager(newFakeCredentialStore(), states, provider)

	states.Save(context.Background(), "state-1", uuid.New(), "google")

	_, err := m.CompleteAuthorization(context.Background(), "state-1", "code")
	if !errors.Is(err, ErrProviderExchange) {
		t.Fatalf("error = %v, want ErrProviderExchange", err)
	}

	// The state must be burned even though the exchange failed.
	if _, ok := states.states["state-1"]; ok {
		t.Error("state survived a failed exchange")
	}
}

func TestGetValidAccessTokenServesFreshTokenWithoutRefresh(t *testing.T) {
	store := newFakeCredentialStore()
	provider := &fakeProvider{name: "google"}
	m := newTestManager(store, newFakeStateStore(), provider)

	userID := uuid.New()
	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken:  "fresh-token",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	token, err := m.GetValidAccessToken(context.Background(), userID, "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken returned error: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want %q", token, "fresh-token")
	}
	if provider.refreshCalls != 0 {
		t.Errorf("refresh was called %d times for a fresh token", provider.refreshCalls)
	}
}

func TestGetValidAccessTokenRefreshesWithinSafetyMargin(t *testing.T) {
	store := newFakeCredentialStore()
	provider := &fakeProvider{
		name: "google",
		refreshFunc: func(_ context.Context, refreshToken string) (*ProviderTokens, error) {
			if refreshToken != "rt-old" {
				return nil, fmt.Errorf("unexpected refresh token %q", refreshToken)
			}
			// Google omits the refresh token on refresh responses.
			return &ProviderTokens{
				AccessToken: "access-new",
				ExpiresAt:   time.Now().Add(time.Hour),
			}, nil
		},
	}
	m := newTestManager(store, newFakeStateStore(), provider)

	userID := uuid.New()
	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken:  "access-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(30 * time.Second),
		Scopes:       []string{"mail.read"},
	})

	token, err := m.GetValidAccessToken(context.Background(), userID, "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken returned error: %v", err)
	}
	if token != "access-new" {
		t.Errorf("token = %q, want %q", token, "access-new")
	}

	conn, _ := store.GetActive(context.Background(), userID, "google")
	bundle, _ := store.Decrypt(conn)
	if bundle.RefreshToken != "rt-old" {
		t.Errorf("refresh token = %q, want the previous one carried forward", bundle.RefreshToken)
	}
	if len(bundle.Scopes) != 1 || bundle.Scopes[0] != "mail.read" {
		t.Errorf("scopes = %v, want previous scopes carried forward", bundle.Scopes)
	}
}

func TestGetValidAccessTokenNoConnection(t *testing.T) {
	m := newTestManager(newFakeCredentialStore(), newFakeStateStore(), &fakeProvider{name: "google"})

	_, err := m.GetValidAccessToken(context.Background(), uuid.New(), "google")
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Errorf("error = %v, want ErrReauthorizationRequired", err)
	}
}

func TestGetValidAccessTokenMissingRefreshToken(t *testing.T) {
	store := newFakeCredentialStore()
	m := newTestManager(store, newFakeStateStore(), &fakeProvider{name: "google"})

	userID := uuid.New()
	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken: "access-old",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	_, err := m.GetValidAccessToken(context.Background(), userID, "google")
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("error = %v, want ErrReauthorizationRequired", err)
	}
	if len(store.expired) != 1 {
		t.Errorf("MarkExpired calls = %d, want 1", len(store.expired))
	}
}

func TestGetValidAccessTokenRefreshRejected(t *testing.T) {
	store := newFakeCredentialStore()
	provider := &fakeProvider{
		name: "google",
		refreshFunc: func(_ context.Context, _ string) (*ProviderTokens, error) {
			return nil, fmt.Errorf("%w: invalid_grant", ErrReauthorizationRequired)
		},
	}
	m := newTestManager(store, newFakeStateStore(), provider)

	userID := uuid.New()
	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken:  "access-old",
		RefreshToken: "rt-dead",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	_, err := m.GetValidAccessToken(context.Background(), userID, "google")
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("error = %v, want ErrReauthorizationRequired", err)
	}
	if len(store.expired) != 1 {
		t.Errorf("MarkExpired calls = %d, want 1", len(store.expired))
	}

	// Until the user reconnects, every call keeps failing the same way.
	_, err = m.GetValidAccessToken(context.Background(), userID, "google")
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Errorf("subsequent error = %v, want ErrReauthorizationRequired", err)
	}
}

func TestRefreshConflictAdoptsConcurrentWinner(t *testing.T) {
	store := newFakeCredentialStore()
	userID := uuid.New()
	provider := &fakeProvider{
		name: "google",
		refreshFunc: func(_ context.Context, _ string) (*ProviderTokens, error) {
			return &ProviderTokens{AccessToken: "loser-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	m := newTestManager(store, newFakeStateStore(), provider)

	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken:  "access-old",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	// Another refresh commits between the provider call and our commit.
	store.beforeCAS = func() {
		store.beforeCAS = nil
		c := store.conns[connKey(userID, "google")]
		c.bundle.AccessToken = "winner-token"
		c.bundle.ExpiresAt = time.Now().Add(time.Hour)
	}

	token, err := m.GetValidAccessToken(context.Background(), userID, "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken returned error: %v", err)
	}
	if token != "winner-token" {
		t.Errorf("token = %q, want the concurrent winner's token", token)
	}
}

func TestRefreshConflictDisconnectWins(t *testing.T) {
	store := newFakeCredentialStore()
	userID := uuid.New()
	provider := &fakeProvider{
		name: "google",
		refreshFunc: func(_ context.Context, _ string) (*ProviderTokens, error) {
			return &ProviderTokens{AccessToken: "zombie-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	m := newTestManager(store, newFakeStateStore(), provider)

	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken:  "access-old",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	// The user disconnects while the refresh is in flight.
	store.beforeCAS = func() {
		store.beforeCAS = nil
		store.MarkRevoked(context.Background(), userID, "google")
	}

	_, err := m.GetValidAccessToken(context.Background(), userID, "google")
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("error = %v, want ErrReauthorizationRequired", err)
	}

	// The credential must stay revoked; the late refresh cannot revive it.
	if _, err := store.GetActive(context.Background(), userID, "google"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("GetActive error = %v, want ErrConnectionNotFound", err)
	}
}

func TestDisconnectSucceedsWhenProviderRevocationFails(t *testing.T) {
	store := newFakeCredentialStore()
	provider := &fakeProvider{
		name: "google",
		revokeFunc: func(_ context.Context, _ string) error {
			return fmt.Errorf("provider is down")
		},
	}
	m := newTestManager(store, newFakeStateStore(), provider)

	userID := uuid.New()
	store.Upsert(context.Background(), userID, "google", &TokenBundle{
		AccessToken: "access",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	if err := m.Disconnect(context.Background(), userID, "google"); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if len(store.revoked) != 1 {
		t.Errorf("MarkRevoked calls = %d, want 1", len(store.revoked))
	}

	has, err := m.HasActiveConnection(context.Background(), userID)
	if err != nil {
		t.Fatalf("HasActiveConnection returned error: %v", err)
	}
	if has {
		t.Error("connection still reported active after disconnect")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	store := newFakeCredentialStore()
	m := newTestManager(store, newFakeStateStore(), &fakeProvider{name: "google"})

	userID := uuid.New()
	if err := m.Disconnect(context.Background(), userID, "google"); err != nil {
		t.Fatalf("Disconnect with no connection returned error: %v", err)
	}
	if err := m.Disconnect(context.Background(), userID, "google"); err != nil {
		t.Fatalf("second Disconnect returned error: %v", err)
	}
}
