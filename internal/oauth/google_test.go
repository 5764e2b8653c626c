package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newGoogleTestServer(t *testing.T, handler http.HandlerFunc) (*GoogleProvider, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewGoogleProvider(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.test/oauth/google/callback",
		TokenURL:     server.URL + "/token",
		RevokeURL:    server.URL + "/revoke",
	})
	return p, server
}

func TestGoogleAuthCodeURL(t *testing.T) {
	p := NewGoogleProvider(GoogleConfig{
		ClientID:    "client-id",
		RedirectURL: "https://app.test/callback",
	})

	raw := p.AuthCodeURL("state-123")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse URL: %v", err)
	}

	q := parsed.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q, want %q", q.Get("state"), "state-123")
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent", q.Get("prompt"))
	}
	if !strings.Contains(q.Get("scope"), "gmail.labels") {
		t.Errorf("scope = %q, want gmail.labels included", q.Get("scope"))
	}
}

func TestGoogleExchange(t *testing.T) {
	var gotForm url.Values
	p, _ := newGoogleTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"expires_in": 3600,
			"scope": "https://www.googleapis.com/auth/gmail.labels"
		}`))
	})

	tokens, err := p.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	if gotForm.Get("code") != "auth-code" {
		t.Errorf("code = %q, want %q", gotForm.Get("code"), "auth-code")
	}
	if gotForm.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q", gotForm.Get("grant_type"))
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" {
		t.Errorf("tokens = %+v", tokens)
	}

	until := time.Until(tokens.ExpiresAt)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("ExpiresAt %v away, want about an hour", until)
	}
	if len(tokens.Scopes) != 1 {
		t.Errorf("scopes = %v", tokens.Scopes)
	}
}

func TestGoogleRefreshInvalidGrant(t *testing.T) {
	p, _ := newGoogleTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant", "error_description": "Token has been expired or revoked."}`))
	})

	_, err := p.Refresh(context.Background(), "dead-refresh-token")
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Errorf("error = %v, want ErrReauthorizationRequired", err)
	}
}

func TestGoogleRefreshTransientFailure(t *testing.T) {
	p, _ := newGoogleTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.Refresh(context.Background(), "rt")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrReauthorizationRequired) {
		t.Error("transient failure must not demand reauthorization")
	}
}

func TestGoogleRevoke(t *testing.T) {
	var revokedToken string
	p, _ := newGoogleTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		revokedToken = r.PostForm.Get("token")
	})

	if err := p.Revoke(context.Background(), "at-1"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if revokedToken != "at-1" {
		t.Errorf("revoked token = %q, want %q", revokedToken, "at-1")
	}
}
