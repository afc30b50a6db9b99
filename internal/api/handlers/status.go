package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/amaumene/yggsync/internal/config"
	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/notifier"
	"github.com/sirupsen/logrus"
)

// SchedulerInfo is the read side of the periodic scheduler
type SchedulerInfo interface {
	IsRunning() bool
	NextRun() time.Time
	Interval() time.Duration
}

// PassInspector exposes the live pass state of each category
type PassInspector interface {
	ActivePass(cat models.Category) (controllers.PassStatus, bool)
}

// SnapshotProvider builds the dashboard snapshot
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*notifier.Snapshot, error)
}

// StateLister lists the persisted sync checkpoints
type StateLister interface {
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
}

// SchedulerResponse describes the scheduler in status replies
type SchedulerResponse struct {
	IsRunning             bool       `json:"is_running"`
	NextRun               *time.Time `json:"next_run"`
	UpdateIntervalSeconds int64      `json:"update_interval_seconds"`
}

func schedulerResponse(s SchedulerInfo) SchedulerResponse {
	resp := SchedulerResponse{
		IsRunning:             s.IsRunning(),
		UpdateIntervalSeconds: int64(s.Interval().Seconds()),
	}
	if next := s.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}
	return resp
}

// InfoHandler serves service information
type InfoHandler struct {
	passes    PassInspector
	scheduler SchedulerInfo
	logger    *logrus.Logger
}

// NewInfoHandler creates a new info handler
func NewInfoHandler(passes PassInspector, scheduler SchedulerInfo, logger *logrus.Logger) *InfoHandler {
	return &InfoHandler{
		passes:    passes,
		scheduler: scheduler,
		logger:    logger,
	}
}

// InfoResponse represents the info response
type InfoResponse struct {
	Service         string                                    `json:"service"`
	Version         string                                    `json:"version"`
	Status          string                                    `json:"status"`
	SchedulerActive bool                                      `json:"scheduler_active"`
	NextUpdate      *time.Time                                `json:"next_update"`
	ScrapingActive  bool                                      `json:"scraping_active"`
	ActivePasses    map[models.Category]controllers.PassStatus `json:"active_passes"`
}

// ServeHTTP handles the info endpoint
func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sched := schedulerResponse(h.scheduler)
	response := InfoResponse{
		Service:         config.ServiceName,
		Version:         config.Version,
		Status:          "running",
		SchedulerActive: sched.IsRunning,
		NextUpdate:      sched.NextRun,
		ActivePasses:    make(map[models.Category]controllers.PassStatus),
	}
	for _, cat := range models.Categories {
		if status, ok := h.passes.ActivePass(cat); ok {
			response.ActivePasses[cat] = status
			response.ScrapingActive = true
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// StatsHandler serves per-category statistics
type StatsHandler struct {
	reporter  SnapshotProvider
	scheduler SchedulerInfo
	logger    *logrus.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(reporter SnapshotProvider, scheduler SchedulerInfo, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{
		reporter:  reporter,
		scheduler: scheduler,
		logger:    logger,
	}
}

// ServeHTTP handles the stats endpoint. Categories are keyed by table name.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := h.reporter.Snapshot(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to build stats snapshot")
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	response := map[string]any{
		"generated_at": snap.GeneratedAt,
		"observers":    snap.Observers,
		"scheduler":    schedulerResponse(h.scheduler),
	}
	for cat, cs := range snap.Categories {
		response[cat.TableName()] = cs
	}

	writeJSON(w, http.StatusOK, response)
}

// StateHandler serves the raw sync_state rows
type StateHandler struct {
	store  StateLister
	logger *logrus.Logger
}

// NewStateHandler creates a new state handler
func NewStateHandler(store StateLister, logger *logrus.Logger) *StateHandler {
	return &StateHandler{
		store:  store,
		logger: logger,
	}
}

// ServeHTTP handles the scraping-state endpoint
func (h *StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	states, err := h.store.ListSyncStates(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sync states")
		writeError(w, http.StatusInternalServerError, "failed to load sync state")
		return
	}

	writeJSON(w, http.StatusOK, states)
}
