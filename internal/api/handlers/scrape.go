package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/sirupsen/logrus"
)

// PassController starts, stops and resets synchronisation passes
type PassController interface {
	Trigger(ctx context.Context, cat models.Category, kind models.PassKind) error
	Cancel(cat models.Category) bool
	Reset(ctx context.Context, cat models.Category) error
}

// ScrapeHandler handles manual pass control
type ScrapeHandler struct {
	passes PassController
	logger *logrus.Logger
}

// NewScrapeHandler creates a new scrape handler
func NewScrapeHandler(passes PassController, logger *logrus.Logger) *ScrapeHandler {
	return &ScrapeHandler{
		passes: passes,
		logger: logger,
	}
}

// ScrapeResponse reports what happened to each requested category
type ScrapeResponse struct {
	Message  string                     `json:"message"`
	Accepted []models.Category          `json:"accepted"`
	Rejected map[models.Category]string `json:"rejected,omitempty"`
}

// TriggerIncremental starts an incremental pass
func (h *ScrapeHandler) TriggerIncremental(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, models.PassIncremental)
}

// TriggerInitial starts a backfill pass
func (h *ScrapeHandler) TriggerInitial(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, models.PassInitial)
}

// trigger answers 202 when at least one pass started, listing the categories
// that could not start under rejected. With nothing started it answers 409, or
// 500 when a category failed for an unexpected reason.
func (h *ScrapeHandler) trigger(w http.ResponseWriter, r *http.Request, kind models.PassKind) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cats, err := categoriesParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := ScrapeResponse{Accepted: []models.Category{}}
	failed := false
	for _, cat := range cats {
		err := h.passes.Trigger(r.Context(), cat, kind)
		if err == nil {
			response.Accepted = append(response.Accepted, cat)
			continue
		}

		if response.Rejected == nil {
			response.Rejected = make(map[models.Category]string)
		}
		if errors.Is(err, controllers.ErrConcurrentPass) || errors.Is(err, controllers.ErrBackfillRequired) {
			response.Rejected[cat] = err.Error()
			continue
		}
		// Passes already started for earlier categories keep running
		h.logger.WithError(err).WithField("category", cat).Error("Failed to trigger pass")
		response.Rejected[cat] = "failed to start pass"
		failed = true
	}

	if len(response.Accepted) == 0 {
		response.Message = "no pass started"
		status := http.StatusConflict
		if failed {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, response)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"kind":       kind,
		"categories": response.Accepted,
		"rejected":   len(response.Rejected),
	}).Info("Pass triggered via API")
	response.Message = string(kind) + " pass started"
	writeJSON(w, http.StatusAccepted, response)
}

// Cancel asks running passes to stop
func (h *ScrapeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cats, err := categoriesParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := ScrapeResponse{Accepted: []models.Category{}}
	for _, cat := range cats {
		if h.passes.Cancel(cat) {
			response.Accepted = append(response.Accepted, cat)
		}
	}
	if len(response.Accepted) == 0 {
		response.Message = "no pass running"
		writeJSON(w, http.StatusConflict, response)
		return
	}

	response.Message = "cancellation requested"
	writeJSON(w, http.StatusAccepted, response)
}

// Reset returns one category to its never-synced state
func (h *ScrapeHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("category")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	cat, err := models.ParseCategory(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.passes.Reset(r.Context(), cat)
	switch {
	case errors.Is(err, controllers.ErrConcurrentPass):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).WithField("category", cat).Error("Failed to reset sync state")
		writeError(w, http.StatusInternalServerError, "failed to reset sync state")
		return
	}

	writeJSON(w, http.StatusOK, ScrapeResponse{
		Message:  "sync state reset",
		Accepted: []models.Category{cat},
	})
}
