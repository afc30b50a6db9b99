package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	snapshotKey = "snapshot"

	// DefaultSnapshotTTL bounds how stale counts may be between passes
	DefaultSnapshotTTL = 10 * time.Second
)

// StatsStore is the read side the reporter queries
type StatsStore interface {
	Counts(ctx context.Context) (map[models.Category]int64, error)
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
}

// PassInspector exposes the engine's live pass state
type PassInspector interface {
	ActivePass(cat models.Category) (controllers.PassStatus, bool)
}

// NextRunner reports the next scheduled pass; zero when none is planned
type NextRunner interface {
	NextRun() time.Time
}

// CategorySnapshot is the dashboard view of one category
type CategorySnapshot struct {
	TotalCount             int64                   `json:"total_count"`
	LastKnownID            int64                   `json:"last_known_id"`
	LastScrapeTime         *time.Time              `json:"last_scrape_time"`
	InitialScrapeCompleted bool                    `json:"initial_scrape_completed"`
	PassActive             bool                    `json:"pass_active"`
	ActivePass             *controllers.PassStatus `json:"active_pass,omitempty"`
}

// Snapshot is the dashboard view of the whole service
type Snapshot struct {
	GeneratedAt time.Time                            `json:"generated_at"`
	Categories  map[models.Category]CategorySnapshot `json:"categories"`
	NextRun     *time.Time                           `json:"next_run"`
	Observers   int                                  `json:"observers"`
}

// Reporter builds snapshots. Stored figures are cached until the TTL runs
// out or a pass starts, completes or a reset happens; pass activity is
// always live.
type Reporter struct {
	store  StatsStore
	passes PassInspector
	next   NextRunner
	hub    *Hub
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewReporter creates a new reporter. next may be nil.
func NewReporter(store StatsStore, passes PassInspector, next NextRunner, hub *Hub, ttl time.Duration, logger *logrus.Logger) *Reporter {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Reporter{
		store:  store,
		passes: passes,
		next:   next,
		hub:    hub,
		// No janitor: the single entry is checked for expiry on read
		cache:  cache.New(ttl, 0),
		logger: logger,
	}
}

// Snapshot returns the current dashboard view
func (r *Reporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	stored, err := r.stored(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		GeneratedAt: time.Now().UTC(),
		Categories:  make(map[models.Category]CategorySnapshot, len(stored)),
	}
	for cat, cs := range stored {
		if status, ok := r.passes.ActivePass(cat); ok {
			cs.PassActive = true
			cs.ActivePass = &status
		}
		snap.Categories[cat] = cs
	}
	if r.next != nil {
		if next := r.next.NextRun(); !next.IsZero() {
			snap.NextRun = &next
		}
	}
	if r.hub != nil {
		snap.Observers = r.hub.Observers()
	}
	return snap, nil
}

// stored returns the cached per-category figures, loading them on a miss
func (r *Reporter) stored(ctx context.Context) (map[models.Category]CategorySnapshot, error) {
	if v, ok := r.cache.Get(snapshotKey); ok {
		return copySnapshots(v.(map[models.Category]CategorySnapshot)), nil
	}

	counts, err := r.store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count torrents: %w", err)
	}
	states, err := r.store.ListSyncStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync states: %w", err)
	}

	stored := make(map[models.Category]CategorySnapshot, len(models.Categories))
	for _, cat := range models.Categories {
		stored[cat] = CategorySnapshot{TotalCount: counts[cat]}
	}
	for _, st := range states {
		cs := stored[st.Category]
		cs.LastKnownID = st.LastKnownID
		cs.LastScrapeTime = st.LastScrapeTime
		cs.InitialScrapeCompleted = st.InitialScrapeCompleted
		stored[st.Category] = cs
	}

	r.cache.SetDefault(snapshotKey, stored)
	return copySnapshots(stored), nil
}

func copySnapshots(in map[models.Category]CategorySnapshot) map[models.Category]CategorySnapshot {
	out := make(map[models.Category]CategorySnapshot, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Invalidate drops the cached figures
func (r *Reporter) Invalidate() {
	r.cache.Delete(snapshotKey)
}

// Listen invalidates the cache on pass and reset events until ctx is done or
// the hub closes
func (r *Reporter) Listen(ctx context.Context) {
	if r.hub == nil {
		return
	}
	id, events := r.hub.Subscribe()
	defer r.hub.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case models.EventPassStarted, models.EventPassCompleted, models.EventStateReset:
				r.Invalidate()
				r.logger.WithField("event", event.Type).Debug("Snapshot cache invalidated")
			}
		}
	}
}
