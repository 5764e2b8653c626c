package businesstype

import (
	"net/http"

	"github.com/sortify-app/sortify-api/internal/httputil"
	"github.com/sortify-app/sortify-api/internal/logging"
)

// Handler serves the business type catalog.
type Handler struct {
	repo   *Repository
	logger *logging.Logger
}

func NewHandler(repo *Repository, logger *logging.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List godoc
// @Summary      List business types
// @Description  Returns the selectable business types with their default categories
// @Tags         business-types
// @Produce      json
// @Success      200  {array}  businesstype.BusinessType
// @Security     BearerAuth
// @Router       /business-types [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	types, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.WithFields(map[string]any{"error": err.Error()}).Error("failed to list business types")
		httputil.RespondErrorWithCode(w, "Service temporarily unavailable. Please try again.", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		return
	}

	httputil.RespondJSON(w, types, http.StatusOK)
}
