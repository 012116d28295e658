package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hanna4328/chat-bot/internal/models"
	"github.com/hanna4328/chat-bot/internal/services"
)

// maxRequestBody bounds the decoded JSON payload; the prompt limit itself is
// enforced by the service.
const maxRequestBody = 2 << 20

type generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (*services.GenerateResult, error)
}

type GenerateHandler struct {
	service generator
}

func NewGenerateHandler(service generator) *GenerateHandler {
	return &GenerateHandler{service: service}
}

// Generate handles POST /api/generate.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResp("METHOD_NOT_ALLOWED", "Method not allowed", r))
		return
	}

	var req models.GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("VALIDATION_ERROR", "Request body too large", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	result, err := h.service.Generate(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateResponse{Text: result.Text})
}
