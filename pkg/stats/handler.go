package stats

import (
	"net/http"

	"github.com/leadwatch/leadwatch/pkg/httpx"
)

// Handler serves the precomputed-statistics read path. It never touches the
// live scanning machinery; everything comes out of the snapshot cache.
type Handler struct {
	service *Service
}

// NewHandler creates a stats handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Latest(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusBadGateway, httpx.CodeStoreError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, snap)
}
