package controllers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/amaumene/yggsync/internal/config"
	"github.com/amaumene/yggsync/internal/metrics"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/services/ygg"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "github.com/amaumene/yggsync/internal/controllers"
	spanPass   = "sync.pass"

	// kindReset marks the guard while a manual reset holds it
	kindReset models.PassKind = "reset"
)

var (
	// ErrConcurrentPass is returned when a pass (or reset) already holds the
	// category
	ErrConcurrentPass = errors.New("a pass is already running for this category")

	// ErrBackfillRequired is returned by incremental passes on a category
	// whose initial backfill never completed
	ErrBackfillRequired = errors.New("initial backfill has not completed for this category")
)

// TorrentSource is the read side of the yggapi
type TorrentSource interface {
	ListPage(ctx context.Context, categoryCode int, page int) ([]ygg.TorrentSummary, error)
	FetchDetail(ctx context.Context, id int64) (*ygg.TorrentDetail, error)
}

// TorrentStore is the subset of the database the engine writes through
type TorrentStore interface {
	UpsertTorrent(ctx context.Context, cat models.Category, t *models.Torrent) error
	UpsertSummary(ctx context.Context, cat models.Category, t *models.Torrent) error
	DetailedIDs(ctx context.Context, cat models.Category, ids []int64) (map[int64]bool, error)
	GetSyncState(ctx context.Context, cat models.Category) (*models.SyncState, error)
	SaveCheckpoint(ctx context.Context, cat models.Category, cp models.Checkpoint) (*models.SyncState, error)
	ResetSyncState(ctx context.Context, cat models.Category) error
}

// Publisher receives engine events. Implementations must not block.
type Publisher interface {
	Publish(event models.Event)
}

// SyncOptions tunes the engine
type SyncOptions struct {
	CategoryCodes map[models.Category]int // Source classification code per category
	Retry         RetryPolicy
	AutoBackfill  bool // RunScheduled backfills categories that never completed one
}

// NewSyncOptions builds SyncOptions from the configuration
func NewSyncOptions(cfg *config.Config) SyncOptions {
	return SyncOptions{
		CategoryCodes: map[models.Category]int{
			models.CategorySeries: cfg.SeriesCategoryID,
			models.CategoryFilms:  cfg.FilmCategoryID,
		},
		Retry: RetryPolicy{
			MaxAttempts: cfg.DetailMaxAttempts,
			Delay:       cfg.RetryDelay,
		},
		AutoBackfill: cfg.AutoBackfill,
	}
}

// PassStatus describes the pass currently holding a category
type PassStatus struct {
	Kind      models.PassKind `json:"kind"`
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
}

// passGuard serialises passes of one category
type passGuard struct {
	mu     sync.Mutex
	active bool
	status PassStatus
	cancel context.CancelFunc
}

// SyncController runs backfill and incremental passes against the yggapi
type SyncController struct {
	store     TorrentStore
	source    TorrentSource
	publisher Publisher
	metrics   *metrics.Metrics
	opts      SyncOptions
	logger    *logrus.Logger
	tracer    trace.Tracer

	guards map[models.Category]*passGuard
	wg     sync.WaitGroup // passes started by Trigger
}

// NewSyncController creates a new sync controller. publisher and m may be nil.
func NewSyncController(store TorrentStore, source TorrentSource, publisher Publisher, m *metrics.Metrics, opts SyncOptions, logger *logrus.Logger) *SyncController {
	guards := make(map[models.Category]*passGuard, len(models.Categories))
	for _, cat := range models.Categories {
		guards[cat] = &passGuard{}
	}

	return &SyncController{
		store:     store,
		source:    source,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		guards:    guards,
	}
}

// RunInitial runs a full backfill of the category and blocks until it ends
func (c *SyncController) RunInitial(ctx context.Context, cat models.Category) (*models.PassResult, error) {
	return c.run(ctx, cat, models.PassInitial)
}

// RunIncremental fetches everything newer than the category's last known ID
// and blocks until it ends
func (c *SyncController) RunIncremental(ctx context.Context, cat models.Category) (*models.PassResult, error) {
	return c.run(ctx, cat, models.PassIncremental)
}

func (c *SyncController) run(ctx context.Context, cat models.Category, kind models.PassKind) (*models.PassResult, error) {
	passCtx, status, state, err := c.start(ctx, cat, kind)
	if err != nil {
		return nil, err
	}
	defer c.release(cat)

	return c.runPass(passCtx, cat, status, state)
}

// Trigger starts a pass in the background. Rejections (concurrent pass,
// missing backfill) are returned synchronously; the pass itself outlives ctx
// and is only stopped through Cancel or CancelAll.
func (c *SyncController) Trigger(ctx context.Context, cat models.Category, kind models.PassKind) error {
	passCtx, status, state, err := c.start(context.WithoutCancel(ctx), cat, kind)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(cat)

		if _, err := c.runPass(passCtx, cat, status, state); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"category": cat,
				"kind":     kind,
				"run_id":   status.RunID,
			}).Error("Triggered pass failed")
		}
	}()
	return nil
}

// RunScheduled runs one pass per category concurrently, backfilling
// categories that still need it when AutoBackfill is set. A category that is
// already busy is skipped.
func (c *SyncController) RunScheduled(ctx context.Context) error {
	var g errgroup.Group
	for _, cat := range models.Categories {
		g.Go(func() error {
			kind := models.PassIncremental
			state, err := c.store.GetSyncState(ctx, cat)
			if err != nil {
				return err
			}
			if !state.InitialScrapeCompleted && c.opts.AutoBackfill {
				kind = models.PassInitial
			}

			logger := c.logger.WithFields(logrus.Fields{"category": cat, "kind": kind})
			_, err = c.run(ctx, cat, kind)
			switch {
			case errors.Is(err, ErrConcurrentPass):
				logger.Info("Pass already running, skipping scheduled run")
				return nil
			case errors.Is(err, ErrBackfillRequired):
				logger.Warn("Initial backfill required before incremental sync, skipping")
				return nil
			case err != nil:
				logger.WithError(err).Error("Scheduled pass failed")
				return fmt.Errorf("%s %s pass: %w", cat, kind, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Reset returns the category to its never-synced state. Stored torrents
// are kept.
func (c *SyncController) Reset(ctx context.Context, cat models.Category) error {
	if _, err := c.acquire(ctx, cat, kindReset); err != nil {
		return err
	}
	defer c.release(cat)

	if err := c.store.ResetSyncState(ctx, cat); err != nil {
		return err
	}

	c.metrics.SetLastKnownID(cat, 0)
	c.logger.WithField("category", cat).Info("Sync state reset")
	c.publish(models.Event{
		Type:     models.EventStateReset,
		Category: cat,
		Message:  fmt.Sprintf("%s sync state reset", cat),
	})
	return nil
}

// Cancel asks the running pass of the category to stop after the current
// item. It reports whether a pass was running.
func (c *SyncController) Cancel(cat models.Category) bool {
	g, ok := c.guards[cat]
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active || g.cancel == nil {
		return false
	}
	g.cancel()
	return true
}

// CancelAll cancels every running pass
func (c *SyncController) CancelAll() {
	for _, cat := range models.Categories {
		c.Cancel(cat)
	}
}

// Wait blocks until every pass started by Trigger has returned
func (c *SyncController) Wait() {
	c.wg.Wait()
}

// IsPassActive reports whether a pass currently holds the category
func (c *SyncController) IsPassActive(cat models.Category) bool {
	_, ok := c.ActivePass(cat)
	return ok
}

// ActivePass returns the status of the running pass, if any
func (c *SyncController) ActivePass(cat models.Category) (PassStatus, bool) {
	g, ok := c.guards[cat]
	if !ok {
		return PassStatus{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.active
}

// GetState returns the persisted sync state of the category
func (c *SyncController) GetState(ctx context.Context, cat models.Category) (*models.SyncState, error) {
	return c.store.GetSyncState(ctx, cat)
}

// acquire takes the category guard and derives the pass context
func (c *SyncController) acquire(ctx context.Context, cat models.Category, kind models.PassKind) (context.Context, error) {
	g, ok := c.guards[cat]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", cat)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		c.metrics.ObservePass(cat, kind, metrics.OutcomeRejected, 0)
		return nil, fmt.Errorf("%w: %s %s since %s", ErrConcurrentPass, cat, g.status.Kind, g.status.StartedAt.Format(time.RFC3339))
	}

	passCtx, cancel := context.WithCancel(ctx)
	g.active = true
	g.cancel = cancel
	g.status = PassStatus{
		Kind:      kind,
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	c.metrics.SetPassActive(cat, true)
	return passCtx, nil
}

func (c *SyncController) release(cat models.Category) {
	g := c.guards[cat]
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.active = false
	g.cancel = nil
	g.status = PassStatus{}
	c.metrics.SetPassActive(cat, false)
}

// start acquires the guard and checks the pass preconditions. On error the
// guard is already released.
func (c *SyncController) start(ctx context.Context, cat models.Category, kind models.PassKind) (context.Context, PassStatus, *models.SyncState, error) {
	if _, ok := c.opts.CategoryCodes[cat]; !ok {
		return nil, PassStatus{}, nil, fmt.Errorf("no source category code configured for %q", cat)
	}

	passCtx, err := c.acquire(ctx, cat, kind)
	if err != nil {
		return nil, PassStatus{}, nil, err
	}
	status, _ := c.ActivePass(cat)

	state, err := c.store.GetSyncState(passCtx, cat)
	if err != nil {
		c.release(cat)
		return nil, PassStatus{}, nil, err
	}
	if kind == models.PassIncremental && !state.InitialScrapeCompleted {
		c.release(cat)
		return nil, PassStatus{}, nil, fmt.Errorf("%w: %s", ErrBackfillRequired, cat)
	}
	return passCtx, status, state, nil
}

// runPass executes a pass while the caller holds the guard
func (c *SyncController) runPass(ctx context.Context, cat models.Category, status PassStatus, state *models.SyncState) (*models.PassResult, error) {
	result := &models.PassResult{
		RunID:               status.RunID,
		Category:            cat,
		Kind:                status.Kind,
		StartedAt:           status.StartedAt,
		Failed:              []int64{},
		PreviousLastKnownID: state.LastKnownID,
		LastKnownID:         state.LastKnownID,
		InitialCompleted:    state.InitialScrapeCompleted,
	}

	ctx, span := c.tracer.Start(ctx, spanPass, trace.WithAttributes(
		attribute.String("sync.category", string(cat)),
		attribute.String("sync.kind", string(status.Kind)),
		attribute.String("sync.run_id", status.RunID),
		attribute.Int64("sync.previous_last_known_id", state.LastKnownID),
	))
	defer span.End()

	logger := c.logger.WithFields(logrus.Fields{
		"category": cat,
		"kind":     status.Kind,
		"run_id":   status.RunID,
	})
	logger.WithField("last_known_id", state.LastKnownID).Info("Starting sync pass")

	c.publish(models.Event{
		Type:     models.EventPassStarted,
		Category: cat,
		Kind:     status.Kind,
		RunID:    status.RunID,
		Message:  fmt.Sprintf("%s %s pass started", cat, status.Kind),
	})

	err := c.execute(ctx, cat, state, result, logger)
	result.FinishedAt = time.Now().UTC()

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailed
		if errors.Is(err, context.Canceled) {
			outcome = metrics.OutcomeCanceled
		}
		result.Aborted = true
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("sync.pages", result.Pages),
		attribute.Int("sync.listed", result.Listed),
		attribute.Int("sync.upserted", result.Upserted),
		attribute.Int("sync.skipped", result.Skipped),
		attribute.Int("sync.failed", len(result.Failed)),
		attribute.Int64("sync.last_known_id", result.LastKnownID),
		attribute.String("sync.outcome", outcome),
	)
	c.metrics.ObservePass(cat, status.Kind, outcome, result.Duration())

	fields := logrus.Fields{
		"pages":         result.Pages,
		"listed":        result.Listed,
		"upserted":      result.Upserted,
		"skipped":       result.Skipped,
		"failed":        len(result.Failed),
		"last_known_id": result.LastKnownID,
		"duration":      result.Duration().Round(time.Millisecond).String(),
	}
	message := fmt.Sprintf("%s %s pass completed: %d new or updated", cat, status.Kind, result.Upserted)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Sync pass aborted")
		message = fmt.Sprintf("%s %s pass aborted", cat, status.Kind)
	} else {
		logger.WithFields(fields).Info("Sync pass completed")
	}

	c.publish(models.Event{
		Type:     models.EventPassCompleted,
		Category: cat,
		Kind:     status.Kind,
		RunID:    status.RunID,
		Percent:  100,
		Message:  message,
		Error:    result.Error,
		Result:   result,
	})

	return result, err
}

// execute enumerates, fetches, writes and finally checkpoints. Any error
// leaves the checkpoint untouched.
func (c *SyncController) execute(ctx context.Context, cat models.Category, state *models.SyncState, result *models.PassResult, logger *logrus.Entry) error {
	var stop func(id int64) bool
	if result.Kind == models.PassIncremental {
		lastKnown := state.LastKnownID
		stop = func(id int64) bool { return id <= lastKnown }
	}

	summaries, pages, err := c.collect(ctx, cat, stop, result, logger)
	result.Pages = pages
	if err != nil {
		return err
	}
	result.Listed = len(summaries)

	maxID := state.LastKnownID
	if n := len(summaries); n > 0 && summaries[n-1].ID > maxID {
		maxID = summaries[n-1].ID
	}

	// A backfill resumes: rows that already carry a hash were fully
	// written by an earlier pass
	var detailed map[int64]bool
	if result.Kind == models.PassInitial && len(summaries) > 0 {
		ids := make([]int64, len(summaries))
		for i, s := range summaries {
			ids[i] = s.ID
		}
		detailed, err = c.store.DetailedIDs(ctx, cat, ids)
		if err != nil {
			return err
		}
	}

	lastPercent := -1
	for i, summary := range summaries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pass interrupted before torrent %d: %w", summary.ID, err)
		}

		if detailed[summary.ID] {
			result.Skipped++
		} else if err := c.syncItem(ctx, cat, summary, result, logger); err != nil {
			return err
		}

		if pct := (i + 1) * 100 / len(summaries); pct != lastPercent {
			lastPercent = pct
			c.publish(models.Event{
				Type:     models.EventPassProgress,
				Category: cat,
				Kind:     result.Kind,
				RunID:    result.RunID,
				Percent:  float64(pct),
				Message:  fmt.Sprintf("%d/%d torrents processed", i+1, len(summaries)),
			})
		}
	}
	c.metrics.AddSkipped(cat, result.Skipped)

	// The pass is complete; the checkpoint is written even if ctx was
	// cancelled after the last item
	saved, err := c.store.SaveCheckpoint(context.WithoutCancel(ctx), cat, models.Checkpoint{
		LastKnownID: maxID,
		ScrapedAt:   time.Now().UTC(),
		MarkInitial: result.Kind == models.PassInitial,
	})
	if err != nil {
		return err
	}

	result.LastKnownID = saved.LastKnownID
	result.InitialCompleted = saved.InitialScrapeCompleted
	c.metrics.SetLastKnownID(cat, saved.LastKnownID)
	return nil
}

// syncItem fetches the detail of one torrent and upserts it. On a detail
// failure the listing fields are stored without a hash, so the next backfill
// fetches the detail again, and the ID is recorded on the result. Store
// failures are returned.
func (c *SyncController) syncItem(ctx context.Context, cat models.Category, summary ygg.TorrentSummary, result *models.PassResult, logger *logrus.Entry) error {
	itemLogger := logger.WithField("torrent_id", summary.ID)

	detail, err := withRetry(ctx, c.opts.Retry, c.retryNotify(itemLogger), func() (*ygg.TorrentDetail, error) {
		return c.source.FetchDetail(ctx, summary.ID)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("pass interrupted during torrent %d: %w", summary.ID, ctxErr)
		}
		itemLogger.WithError(err).Warn("Detail fetch failed, storing listing fields only")
		result.Failed = append(result.Failed, summary.ID)
		c.metrics.IncDetailFailure(cat)
		return c.store.UpsertSummary(context.WithoutCancel(ctx), cat, ygg.ToTorrent(summary, nil))
	}

	// Writes are never interrupted half way
	if err := c.store.UpsertTorrent(context.WithoutCancel(ctx), cat, ygg.ToTorrent(summary, detail)); err != nil {
		return err
	}
	result.Upserted++
	c.metrics.IncUpserted(cat)
	itemLogger.Debug("Torrent synced")
	return nil
}

// collect walks the listing newest first until the source runs dry or stop
// matches an identifier. The result is de-duplicated and sorted by
// ascending ID.
func (c *SyncController) collect(ctx context.Context, cat models.Category, stop func(id int64) bool, result *models.PassResult, logger *logrus.Entry) ([]ygg.TorrentSummary, int, error) {
	code := c.opts.CategoryCodes[cat]
	seen := make(map[int64]ygg.TorrentSummary)
	pages := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, pages, fmt.Errorf("listing interrupted at page %d: %w", page, err)
		}

		pageLogger := logger.WithField("page", page)
		items, err := withRetry(ctx, c.opts.Retry, c.retryNotify(pageLogger), func() ([]ygg.TorrentSummary, error) {
			return c.source.ListPage(ctx, code, page)
		})
		if err != nil {
			return nil, pages, fmt.Errorf("listing %s page %d: %w", cat, page, err)
		}
		pages++

		if len(items) == 0 {
			pageLogger.Debug("Listing exhausted")
			break
		}

		added := 0
		reachedKnown := false
		for _, item := range items {
			if stop != nil && stop(item.ID) {
				reachedKnown = true
				continue
			}
			if _, dup := seen[item.ID]; !dup {
				seen[item.ID] = item
				added++
			}
		}

		c.publish(models.Event{
			Type:     models.EventPassProgress,
			Category: cat,
			Kind:     result.Kind,
			RunID:    result.RunID,
			Message:  fmt.Sprintf("listed page %d, %d new torrents so far", page, len(seen)),
		})

		if reachedKnown {
			pageLogger.Debug("Reached last known torrent")
			break
		}
		if added == 0 {
			// A page made only of repeats means the source ignores paging
			pageLogger.Warn("Listing page added no new torrents, treating as exhausted")
			break
		}
	}

	summaries := make([]ygg.TorrentSummary, 0, len(seen))
	for _, s := range seen {
		summaries = append(summaries, s)
	}
	slices.SortFunc(summaries, func(a, b ygg.TorrentSummary) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return summaries, pages, nil
}

func (c *SyncController) retryNotify(logger *logrus.Entry) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		logger.WithError(err).WithField("retry_in", wait.String()).Warn("ygg API call failed, retrying")
	}
}

func (c *SyncController) publish(event models.Event) {
	if c.publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.publisher.Publish(event)
}
