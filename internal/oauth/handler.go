package oauth

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sortify-app/sortify-api/internal/auth"
	"github.com/sortify-app/sortify-api/internal/httputil"
	"github.com/sortify-app/sortify-api/internal/logging"
)

// Handler exposes the OAuth connection flow over HTTP.
type Handler struct {
	manager     *Manager
	logger      *logging.Logger
	frontendURL string
}

func NewHandler(manager *Manager, logger *logging.Logger, frontendURL string) *Handler {
	return &Handler{
		manager:     manager,
		logger:      logger,
		frontendURL: frontendURL,
	}
}

// Connect godoc
// @Summary      Start an OAuth connection
// @Description  Redirects the user to the provider consent screen
// @Tags         oauth
// @Param        provider  path  string  true  "Provider name (google, microsoft)"
// @Success      302
// @Failure      404  {object}  httputil.ErrorResponse
// @Security     BearerAuth
// @Router       /oauth/{provider} [get]
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "Authentication required.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	providerName := chi.URLParam(r, "provider")

	authz, err := h.manager.BeginAuthorization(r.Context(), userID, providerName)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			httputil.RespondErrorWithCode(w, "Unknown provider.", httputil.CodeUnknownProvider, http.StatusNotFound)
			return
		}
		h.logger.WithFields(map[string]any{"error": err.Error()}).Error("failed to begin authorization")
		httputil.RespondErrorWithCode(w, "Could not start the connection flow. Please try again.", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		return
	}

	http.Redirect(w, r, authz.URL, http.StatusFound)
}

// Callback godoc
// @Summary      OAuth provider callback
// @Description  Completes the OAuth flow and redirects back to onboarding
// @Tags         oauth
// @Param        provider  path   string  true   "Provider name"
// @Param        state     query  string  true   "Authorization state"
// @Param        code      query  string  false  "Authorization code"
// @Success      302
// @Router       /oauth/{provider}/callback [get]
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.WithFields(map[string]any{
			"provider": chi.URLParam(r, "provider"),
			"error":    errParam,
		}).Warn("provider returned an authorization error")
		h.redirectWithError(w, r, "exchange_failed")
		return
	}

	if state == "" || code == "" {
		h.redirectWithError(w, r, "invalid_state")
		return
	}

	_, err := h.manager.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidState):
			h.redirectWithError(w, r, "invalid_state")
		case errors.Is(err, ErrProviderExchange):
			h.redirectWithError(w, r, "exchange_failed")
		default:
			h.logger.WithFields(map[string]any{"error": err.Error()}).Error("failed to complete authorization")
			h.redirectWithError(w, r, "unavailable")
		}
		return
	}

	http.Redirect(w, r, h.frontendURL+"/onboarding", http.StatusFound)
}

// Disconnect godoc
// @Summary      Disconnect an OAuth connection
// @Description  Revokes the stored credential for the provider
// @Tags         oauth
// @Param        provider  path  string  true  "Provider name"
// @Success      200  {object}  map[string]bool
// @Failure      404  {object}  httputil.ErrorResponse
// @Security     BearerAuth
// @Router       /oauth/{provider}/disconnect [post]
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "Authentication required.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	providerName := chi.URLParam(r, "provider")

	if err := h.manager.Disconnect(r.Context(), userID, providerName); err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			httputil.RespondErrorWithCode(w, "Unknown provider.", httputil.CodeUnknownProvider, http.StatusNotFound)
			return
		}
		h.logger.WithFields(map[string]any{"error": err.Error()}).Error("failed to disconnect provider")
		httputil.RespondErrorWithCode(w, "Could not disconnect. Please try again.", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		return
	}

	httputil.RespondJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, reason string) {
	target := h.frontendURL + "/onboarding/error?reason=" + url.QueryEscape(reason)
	http.Redirect(w, r, target, http.StatusFound)
}
