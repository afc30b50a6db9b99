package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/yggsync/internal/models"
)

// errorResponse is the body of every non-2xx JSON reply
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// categoriesParam reads the optional "category" query parameter. Without it
// every category is selected.
func categoriesParam(r *http.Request) ([]models.Category, error) {
	raw := r.URL.Query().Get("category")
	if raw == "" {
		return models.Categories, nil
	}
	cat, err := models.ParseCategory(raw)
	if err != nil {
		return nil, err
	}
	return []models.Category{cat}, nil
}
