package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// TorrentLister pages through the stored torrents of a category
type TorrentLister interface {
	ListTorrents(ctx context.Context, cat models.Category, limit, offset int) ([]models.Torrent, int64, error)
}

// ItemsHandler serves the stored torrents of one category
type ItemsHandler struct {
	store    TorrentLister
	category models.Category
	logger   *logrus.Logger
}

// NewItemsHandler creates a new items handler for cat
func NewItemsHandler(store TorrentLister, cat models.Category, logger *logrus.Logger) *ItemsHandler {
	return &ItemsHandler{
		store:    store,
		category: cat,
		logger:   logger,
	}
}

// ItemsResponse is one page of torrents
type ItemsResponse struct {
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Data   []models.Torrent `json:"data"`
}

// ServeHTTP handles the paged listing, most recent upload first
func (h *ItemsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, ok := intParam(r, "limit", defaultLimit)
	if !ok || limit < 1 || limit > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	offset, ok := intParam(r, "offset", 0)
	if !ok || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	torrents, total, err := h.store.ListTorrents(r.Context(), h.category, limit, offset)
	if err != nil {
		h.logger.WithError(err).WithField("category", h.category).Error("Failed to list torrents")
		writeError(w, http.StatusInternalServerError, "failed to list torrents")
		return
	}
	if torrents == nil {
		torrents = []models.Torrent{}
	}

	writeJSON(w, http.StatusOK, ItemsResponse{
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Data:   torrents,
	})
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}
