package onboarding

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sortify-app/sortify-api/internal/auth"
	"github.com/sortify-app/sortify-api/internal/database"
	"github.com/sortify-app/sortify-api/internal/httputil"
	"github.com/sortify-app/sortify-api/internal/logging"
)

// maxPayloadBytes bounds step payload bodies.
const maxPayloadBytes = 64 * 1024

// Handler exposes the onboarding wizard over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// GetStatus godoc
// @Summary      Get onboarding status
// @Description  Returns the authoritative next step and progress for the current user
// @Tags         onboarding
// @Produce      json
// @Success      200  {object}  onboarding.Status
// @Failure      401  {object}  httputil.ErrorResponse
// @Security     BearerAuth
// @Router       /onboarding/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "Authentication required.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	httputil.RespondJSON(w, status, http.StatusOK)
}

// CompleteStep godoc
// @Summary      Complete an onboarding step
// @Description  Validates ordering and payload, records completion, and returns the fresh status
// @Tags         onboarding
// @Accept       json
// @Produce      json
// @Param        stepId  path  string  true  "Step identifier"
// @Success      200  {object}  onboarding.Status
// @Failure      400  {object}  httputil.ErrorResponse
// @Security     BearerAuth
// @Router       /onboarding/{stepId} [post]
func (h *Handler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "Authentication required.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	step, err := ParseStep(chi.URLParam(r, "stepId"))
	if err != nil {
		httputil.RespondErrorWithCode(w, "Unknown onboarding step.", httputil.CodeUnknownStep, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httputil.RespondErrorWithCode(w, "Could not read request body.", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	status, err := h.service.CompleteStep(r.Context(), userID, step, body)
	if err != nil {
		h.respondError(w, err)
		return
	}

	httputil.RespondJSON(w, status, http.StatusOK)
}

// SkipStep godoc
// @Summary      Skip a deferrable onboarding step
// @Description  Defers a skippable step without marking it complete
// @Tags         onboarding
// @Produce      json
// @Param        stepId  path  string  true  "Step identifier"
// @Success      200  {object}  onboarding.Status
// @Failure      400  {object}  httputil.ErrorResponse
// @Security     BearerAuth
// @Router       /onboarding/{stepId}/skip [post]
func (h *Handler) SkipStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "Authentication required.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	step, err := ParseStep(chi.URLParam(r, "stepId"))
	if err != nil {
		httputil.RespondErrorWithCode(w, "Unknown onboarding step.", httputil.CodeUnknownStep, http.StatusNotFound)
		return
	}

	status, err := h.service.SkipStep(r.Context(), userID, step)
	if err != nil {
		h.respondError(w, err)
		return
	}

	httputil.RespondJSON(w, status, http.StatusOK)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownStep):
		httputil.RespondErrorWithCode(w, "Unknown onboarding step.", httputil.CodeUnknownStep, http.StatusNotFound)
	case errors.Is(err, ErrStepOutOfOrder):
		httputil.RespondErrorWithCode(w, "Complete the earlier steps first.", httputil.CodeStepOutOfOrder, http.StatusBadRequest)
	case errors.Is(err, ErrStepNotCompletable):
		httputil.RespondErrorWithCode(w, "This step cannot be completed directly.", httputil.CodeStepOutOfOrder, http.StatusBadRequest)
	case errors.Is(err, ErrStepNotSkippable):
		httputil.RespondErrorWithCode(w, "This step cannot be skipped.", httputil.CodeStepNotSkippable, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidPayload):
		httputil.RespondErrorWithCode(w, "Invalid step payload.", httputil.CodeInvalidStepPayload, http.StatusBadRequest)
	case errors.Is(err, ErrBusinessTypeNotFound):
		httputil.RespondErrorWithCode(w, "Business type not found.", httputil.CodeBusinessTypeNotFound, http.StatusBadRequest)
	case errors.Is(err, database.ErrUnavailable):
		httputil.RespondErrorWithCode(w, "Service temporarily unavailable. Please try again.", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
	default:
		h.logger.WithFields(map[string]any{"error": err.Error()}).Error("onboarding request failed")
		httputil.RespondErrorWithCode(w, "Something went wrong. Please try again.", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}
