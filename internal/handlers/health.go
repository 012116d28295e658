package handlers

import (
	"net/http"

	"github.com/hanna4328/chat-bot/internal/models"
)

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}

// Root keeps the landing route the web client polls.
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "OK", Message: "Backend running"})
}
