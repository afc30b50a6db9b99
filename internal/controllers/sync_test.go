package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/services/ygg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesRange(src *fakeSource, from, to int64) {
	for id := from; id <= to; id++ {
		src.add(seriesCode, id)
	}
}

// backfilled returns a controller whose series category holds 101..105
func backfilled(t *testing.T) (*SyncController, *models.Database, *fakeSource, *recorder) {
	t.Helper()
	src := newFakeSource(3)
	seriesRange(src, 101, 105)
	ctrl, db, rec := newTestController(t, src)

	_, err := ctrl.RunInitial(context.Background(), models.CategorySeries)
	require.NoError(t, err)
	return ctrl, db, src, rec
}

func TestRunInitial_EmptyStore(t *testing.T) {
	src := newFakeSource(3)
	seriesRange(src, 101, 105)
	ctrl, db, rec := newTestController(t, src)
	ctx := context.Background()

	result, err := ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Pages, "two pages of data plus the empty terminator")
	assert.Equal(t, 5, result.Listed)
	assert.Equal(t, 5, result.Upserted)
	assert.Empty(t, result.Failed)
	assert.False(t, result.Aborted)
	assert.EqualValues(t, 105, result.LastKnownID)
	assert.True(t, result.InitialCompleted)

	count, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	state, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 105, state.LastKnownID)
	assert.True(t, state.InitialScrapeCompleted)
	require.NotNil(t, state.LastScrapeTime)

	stored, err := db.GetTorrent(ctx, models.CategorySeries, 103)
	require.NoError(t, err)
	require.NotNil(t, stored.Hash)
	assert.Equal(t, "hash103", *stored.Hash)

	films, err := db.GetSyncState(ctx, models.CategoryFilms)
	require.NoError(t, err)
	assert.False(t, films.InitialScrapeCompleted, "other category untouched")

	started := rec.ofType(models.EventPassStarted)
	completed := rec.ofType(models.EventPassCompleted)
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.Equal(t, result.RunID, completed[0].RunID)
	assert.Empty(t, completed[0].Error)
	require.NotNil(t, completed[0].Result)
	assert.Equal(t, 5, completed[0].Result.Upserted)
	assert.NotEmpty(t, rec.ofType(models.EventPassProgress))
}

func TestRunIncremental_NewItems(t *testing.T) {
	ctrl, db, src, _ := backfilled(t)
	ctx := context.Background()
	src.add(seriesCode, 106, 107)

	result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Upserted)
	assert.EqualValues(t, 105, result.PreviousLastKnownID)
	assert.EqualValues(t, 107, result.LastKnownID)
	assert.Equal(t, 1, result.Pages, "stops on the first page containing a known ID")
	assert.Equal(t, 1, src.detailCallsFor(105), "known torrents are not fetched again")

	count, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)
}

func TestRunIncremental_NothingNew(t *testing.T) {
	ctrl, db, _, _ := backfilled(t)
	ctx := context.Background()

	before, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Zero(t, result.Upserted)
	assert.Zero(t, result.Listed)

	after, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Equal(t, before.LastKnownID, after.LastKnownID)
	require.NotNil(t, after.LastScrapeTime)
	assert.True(t, after.LastScrapeTime.After(*before.LastScrapeTime), "scrape time still advances")

	count, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestRunIncremental_DetailFailureKeepsListingRow(t *testing.T) {
	ctrl, db, src, rec := backfilled(t)
	ctx := context.Background()
	src.add(seriesCode, 106, 107)
	src.detailFailures[106] = 3

	result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.NoError(t, err, "item-level failures do not abort the pass")

	assert.False(t, result.Aborted)
	assert.Equal(t, []int64{106}, result.Failed)
	assert.Equal(t, 1, result.Upserted)
	assert.EqualValues(t, 107, result.LastKnownID)
	assert.Equal(t, 3, src.detailCallsFor(106))

	partial, err := db.GetTorrent(ctx, models.CategorySeries, 106)
	require.NoError(t, err, "the listing row is stored without detail")
	assert.Nil(t, partial.Hash)
	assert.Nil(t, partial.Description)
	assert.Equal(t, "Torrent 106", partial.Title)
	assert.False(t, partial.HasDetail())

	full, err := db.GetTorrent(ctx, models.CategorySeries, 107)
	require.NoError(t, err)
	assert.True(t, full.HasDetail())

	count, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)

	completed := rec.ofType(models.EventPassCompleted)
	last := completed[len(completed)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, []int64{106}, last.Result.Failed)
}

func TestRunInitial_RefetchesItemsMissingDetail(t *testing.T) {
	ctrl, db, src, _ := backfilled(t)
	ctx := context.Background()
	src.add(seriesCode, 106)
	src.detailFailures[106] = 3

	_, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.NoError(t, err)

	result, err := ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Skipped, "101..105 are already detailed")
	assert.Equal(t, 1, result.Upserted)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 4, src.detailCallsFor(106))

	stored, err := db.GetTorrent(ctx, models.CategorySeries, 106)
	require.NoError(t, err)
	assert.True(t, stored.HasDetail())
}

func TestRunIncremental_StoreWriteFailureAborts(t *testing.T) {
	src := newFakeSource(3)
	seriesRange(src, 101, 105)
	db := openTestStore(t)
	store := &failingStore{Database: db, failID: 106}
	rec := &recorder{}
	ctrl := NewSyncController(store, src, rec, nil, testOptions(), quietLogger())
	ctx := context.Background()

	_, err := ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)

	src.add(seriesCode, 106, 107, 108)
	result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreWrite)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.Zero(t, result.Upserted)
	assert.EqualValues(t, 105, result.LastKnownID)

	state, err := db.GetSyncState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 105, state.LastKnownID, "checkpoint is not advanced past the failure")

	for _, id := range []int64{106, 107, 108} {
		_, err := db.GetTorrent(ctx, models.CategorySeries, id)
		assert.ErrorIs(t, err, models.ErrNotFound, "torrent %d", id)
	}
	assert.Zero(t, src.detailCallsFor(107), "the pass stops at the failing write")

	completed := rec.ofType(models.EventPassCompleted)
	require.NotEmpty(t, completed)
	last := completed[len(completed)-1]
	assert.Contains(t, last.Error, "disk full")
	require.NotNil(t, last.Result)
	assert.True(t, last.Result.Aborted)
}

func TestRunIncremental_ListingFailureAborts(t *testing.T) {
	ctrl, db, src, rec := backfilled(t)
	ctx := context.Background()

	before, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)

	src.add(seriesCode, 106)
	src.setListErr(&ygg.StatusError{StatusCode: 502, Body: "bad gateway"})
	callsBefore := src.listCallCount()

	result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.Error(t, err)
	assert.ErrorIs(t, err, ygg.ErrSourceUnavailable)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.Equal(t, 3, src.listCallCount()-callsBefore, "listing retried up to the attempt budget")

	after, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Equal(t, before.LastKnownID, after.LastKnownID)
	assert.True(t, before.LastScrapeTime.Equal(*after.LastScrapeTime), "checkpoint untouched")

	_, err = db.GetTorrent(ctx, models.CategorySeries, 106)
	assert.ErrorIs(t, err, models.ErrNotFound)

	completed := rec.ofType(models.EventPassCompleted)
	assert.NotEmpty(t, completed[len(completed)-1].Error)
	assert.False(t, ctrl.IsPassActive(models.CategorySeries), "guard released after abort")
}

func TestRunIncremental_ListingClientErrorNotRetried(t *testing.T) {
	ctrl, _, src, _ := backfilled(t)
	src.setListErr(&ygg.StatusError{StatusCode: 400})
	callsBefore := src.listCallCount()

	_, err := ctrl.RunIncremental(context.Background(), models.CategorySeries)
	require.Error(t, err)
	assert.Equal(t, 1, src.listCallCount()-callsBefore)
}

func TestRunIncremental_Idempotent(t *testing.T) {
	ctrl, db, src, _ := backfilled(t)
	ctx := context.Background()
	src.add(seriesCode, 106)

	_, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	require.NoError(t, err)
	first, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	firstCount, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)

	_, err = ctrl.RunIncremental(ctx, models.CategorySeries)
	require.NoError(t, err)
	second, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	secondCount, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)

	assert.Equal(t, first.LastKnownID, second.LastKnownID)
	assert.Equal(t, first.InitialScrapeCompleted, second.InitialScrapeCompleted)
	assert.Equal(t, firstCount, secondCount)
}

func TestLastKnownIDIsMonotonic(t *testing.T) {
	ctrl, _, src, _ := backfilled(t)
	ctx := context.Background()

	last := int64(105)
	batches := [][]int64{{106}, {}, {107, 108, 109}, {}, {110}}
	for _, batch := range batches {
		src.add(seriesCode, batch...)
		result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.LastKnownID, last)
		last = result.LastKnownID
	}
	assert.EqualValues(t, 110, last)
}

func TestNoDuplicatesWithOverlappingPages(t *testing.T) {
	src := newFakeSource(3)
	src.stride = 2 // every page repeats the last entry of the previous one
	seriesRange(src, 1, 9)
	ctrl, db, _ := newTestController(t, src)
	ctx := context.Background()

	result, err := ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Equal(t, 9, result.Listed)
	assert.Equal(t, 9, result.Upserted)

	_, err = ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)

	count, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 9, count)
}

func TestRunIncremental_RequiresBackfill(t *testing.T) {
	src := newFakeSource(3)
	seriesRange(src, 1, 3)
	ctrl, db, rec := newTestController(t, src)
	ctx := context.Background()

	result, err := ctrl.RunIncremental(ctx, models.CategorySeries)
	assert.ErrorIs(t, err, ErrBackfillRequired)
	assert.Nil(t, result)
	assert.Zero(t, src.listCallCount())
	assert.Empty(t, rec.ofType(models.EventPassStarted))

	state, err := db.GetSyncState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Nil(t, state.LastScrapeTime)

	assert.ErrorIs(t, ctrl.Trigger(ctx, models.CategorySeries, models.PassIncremental), ErrBackfillRequired)
	assert.False(t, ctrl.IsPassActive(models.CategorySeries))
}

func TestRunInitial_ResumesDetailedItems(t *testing.T) {
	src := newFakeSource(10)
	seriesRange(src, 101, 105)
	ctrl, db, _ := newTestController(t, src)
	ctx := context.Background()

	// An interrupted earlier backfill already wrote these
	for _, id := range []int64{102, 104} {
		hash := "existing"
		require.NoError(t, db.UpsertTorrent(ctx, models.CategorySeries, &models.Torrent{
			ID: id, Title: "old", CategoryID: seriesCode, UploadedAt: baseUpload, Link: "x", Hash: &hash,
		}))
	}
	// Stored without detail, so it is fetched again
	require.NoError(t, db.UpsertTorrent(ctx, models.CategorySeries, &models.Torrent{
		ID: 101, Title: "old", CategoryID: seriesCode, UploadedAt: baseUpload, Link: "x",
	}))

	result, err := ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 3, result.Upserted)
	assert.Zero(t, src.detailCallsFor(102))
	assert.Zero(t, src.detailCallsFor(104))
	assert.Equal(t, 1, src.detailCallsFor(101))

	t101, err := db.GetTorrent(ctx, models.CategorySeries, 101)
	require.NoError(t, err)
	assert.True(t, t101.HasDetail())
}

func TestRunInitial_NoItemsStillCompletes(t *testing.T) {
	ctrl, _, _ := newTestController(t, newFakeSource(3))
	ctx := context.Background()

	result, err := ctrl.RunInitial(ctx, models.CategoryFilms)
	require.NoError(t, err)
	assert.Zero(t, result.Listed)
	assert.True(t, result.InitialCompleted)

	state, err := ctrl.GetState(ctx, models.CategoryFilms)
	require.NoError(t, err)
	assert.True(t, state.InitialScrapeCompleted)
	assert.Zero(t, state.LastKnownID)
}

func TestRateLimitedDetailDoesNotCountAsAttempt(t *testing.T) {
	src := newFakeSource(5)
	seriesRange(src, 1, 2)
	src.rateLimits[1] = 5
	ctrl, db, _ := newTestController(t, src)
	ctx := context.Background()

	result, err := ctrl.RunInitial(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 6, src.detailCallsFor(1))

	_, err = db.GetTorrent(ctx, models.CategorySeries, 1)
	assert.NoError(t, err)
}

func TestConcurrentPassRejected(t *testing.T) {
	src := newFakeSource(3)
	seriesRange(src, 1, 3)
	src.add(filmsCode, 50, 51)
	release := src.blockCategory(seriesCode)
	ctrl, _, _ := newTestController(t, src)
	ctx := context.Background()

	require.NoError(t, ctrl.Trigger(ctx, models.CategorySeries, models.PassInitial))
	assert.True(t, ctrl.IsPassActive(models.CategorySeries))

	status, ok := ctrl.ActivePass(models.CategorySeries)
	require.True(t, ok)
	assert.Equal(t, models.PassInitial, status.Kind)
	assert.NotEmpty(t, status.RunID)

	_, err := ctrl.RunInitial(ctx, models.CategorySeries)
	assert.ErrorIs(t, err, ErrConcurrentPass)
	assert.ErrorIs(t, ctrl.Trigger(ctx, models.CategorySeries, models.PassInitial), ErrConcurrentPass)
	assert.ErrorIs(t, ctrl.Reset(ctx, models.CategorySeries), ErrConcurrentPass)

	// The other category is independent
	films, err := ctrl.RunInitial(ctx, models.CategoryFilms)
	require.NoError(t, err)
	assert.Equal(t, 2, films.Upserted)

	close(release)
	ctrl.Wait()
	assert.False(t, ctrl.IsPassActive(models.CategorySeries))

	state, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.True(t, state.InitialScrapeCompleted)
	assert.EqualValues(t, 3, state.LastKnownID)
}

func TestCancelStopsPass(t *testing.T) {
	src := newFakeSource(3)
	seriesRange(src, 1, 3)
	src.blockCategory(seriesCode)
	ctrl, db, rec := newTestController(t, src)
	ctx := context.Background()

	assert.False(t, ctrl.Cancel(models.CategorySeries), "nothing to cancel yet")

	require.NoError(t, ctrl.Trigger(ctx, models.CategorySeries, models.PassInitial))
	assert.True(t, ctrl.Cancel(models.CategorySeries))
	ctrl.Wait()

	assert.False(t, ctrl.IsPassActive(models.CategorySeries))
	state, err := db.GetSyncState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.False(t, state.InitialScrapeCompleted)
	assert.Nil(t, state.LastScrapeTime)

	completed := rec.ofType(models.EventPassCompleted)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Result)
	assert.True(t, completed[0].Result.Aborted)
	assert.Contains(t, completed[0].Error, context.Canceled.Error())
}

func TestTriggerOutlivesRequestContext(t *testing.T) {
	src := newFakeSource(3)
	seriesRange(src, 1, 3)
	release := src.blockCategory(seriesCode)
	ctrl, _, _ := newTestController(t, src)

	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Trigger(reqCtx, models.CategorySeries, models.PassInitial))
	cancel()
	close(release)
	ctrl.Wait()

	state, err := ctrl.GetState(context.Background(), models.CategorySeries)
	require.NoError(t, err)
	assert.True(t, state.InitialScrapeCompleted)
}

func TestReset(t *testing.T) {
	ctrl, db, _, rec := backfilled(t)
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx, models.CategorySeries))

	state, err := ctrl.GetState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.Zero(t, state.LastKnownID)
	assert.False(t, state.InitialScrapeCompleted)
	assert.Nil(t, state.LastScrapeTime)

	count, err := db.CountTorrents(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count, "reset keeps stored torrents")
	assert.Len(t, rec.ofType(models.EventStateReset), 1)

	_, err = ctrl.RunIncremental(ctx, models.CategorySeries)
	assert.ErrorIs(t, err, ErrBackfillRequired)
}

func TestRunScheduled(t *testing.T) {
	src := newFakeSource(2)
	seriesRange(src, 10, 12)
	src.add(filmsCode, 20, 21)
	ctrl, db, _ := newTestController(t, src)
	ctx := context.Background()

	require.NoError(t, ctrl.RunScheduled(ctx))

	for cat, want := range map[models.Category]int64{models.CategorySeries: 12, models.CategoryFilms: 21} {
		state, err := db.GetSyncState(ctx, cat)
		require.NoError(t, err)
		assert.True(t, state.InitialScrapeCompleted, cat)
		assert.Equal(t, want, state.LastKnownID, cat)
	}

	// Second run is incremental
	seriesRange(src, 13, 13)
	require.NoError(t, ctrl.RunScheduled(ctx))
	state, err := db.GetSyncState(ctx, models.CategorySeries)
	require.NoError(t, err)
	assert.EqualValues(t, 13, state.LastKnownID)
}

func TestRunScheduled_WithoutAutoBackfill(t *testing.T) {
	src := newFakeSource(2)
	seriesRange(src, 1, 2)
	db := openTestStore(t)
	opts := testOptions()
	opts.AutoBackfill = false
	ctrl := NewSyncController(db, src, nil, nil, opts, quietLogger())

	require.NoError(t, ctrl.RunScheduled(context.Background()), "missing backfill is logged, not returned")
	assert.Zero(t, src.listCallCount())
}

func TestRunScheduled_ReportsPassErrors(t *testing.T) {
	src := newFakeSource(2)
	src.setListErr(&ygg.StatusError{StatusCode: 503})
	ctrl, _, _ := newTestController(t, src)

	err := ctrl.RunScheduled(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ygg.ErrSourceUnavailable))
}

func TestUnknownCategory(t *testing.T) {
	ctrl, _, _ := newTestController(t, newFakeSource(1))
	_, err := ctrl.RunInitial(context.Background(), models.Category("music"))
	assert.Error(t, err)
	assert.False(t, ctrl.Cancel(models.Category("music")))
}
