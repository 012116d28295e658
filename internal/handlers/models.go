package handlers

import (
	"context"
	"net/http"

	"github.com/hanna4328/chat-bot/internal/models"
	"github.com/hanna4328/chat-bot/internal/services"
)

type modelLister interface {
	List(ctx context.Context) ([]models.ModelSummary, error)
}

type ModelHandler struct {
	catalog modelLister
}

func NewModelHandler(catalog modelLister) *ModelHandler {
	return &ModelHandler{catalog: catalog}
}

// List handles GET /api/models. Only models that support generateContent
// are returned unless ?all=true is given.
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	all := r.URL.Query().Get("all") == "true"
	out := make([]models.ModelSummary, 0, len(list))
	for _, m := range list {
		if all || services.SupportsGenerateContent(m) {
			out = append(out, m)
		}
	}

	writeJSON(w, http.StatusOK, models.ModelsResponse{Models: out})
}
