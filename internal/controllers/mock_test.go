package controllers

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/services/ygg"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	seriesCode = 2179
	filmsCode  = 2178
)

var baseUpload = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSource serves listings newest first from an in-memory set of IDs
type fakeSource struct {
	mu sync.Mutex

	ids     map[int][]int64 // category code -> available IDs
	perPage int
	stride  int // page offset step; smaller than perPage makes pages overlap

	listErr        error
	detailFailures map[int64]int // remaining StatusError responses per ID
	rateLimits     map[int64]int // remaining 429 responses per ID
	block          map[int]chan struct{}

	listCalls   int
	detailCalls map[int64]int
}

func newFakeSource(perPage int) *fakeSource {
	return &fakeSource{
		ids:            map[int][]int64{},
		perPage:        perPage,
		detailFailures: map[int64]int{},
		rateLimits:     map[int64]int{},
		block:          map[int]chan struct{}{},
		detailCalls:    map[int64]int{},
	}
}

func (f *fakeSource) add(code int, ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[code] = append(f.ids[code], ids...)
}

func (f *fakeSource) ListPage(ctx context.Context, code int, page int) ([]ygg.TorrentSummary, error) {
	f.mu.Lock()
	block := f.block[code]
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	ids := slices.Clone(f.ids[code])
	slices.SortFunc(ids, func(a, b int64) int { return int(b - a) })

	stride := f.stride
	if stride <= 0 {
		stride = f.perPage
	}
	start := (page - 1) * stride
	if start >= len(ids) {
		return []ygg.TorrentSummary{}, nil
	}
	end := min(start+f.perPage, len(ids))

	out := make([]ygg.TorrentSummary, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, summaryFor(id, code))
	}
	return out, nil
}

func (f *fakeSource) FetchDetail(ctx context.Context, id int64) (*ygg.TorrentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls[id]++

	if n := f.rateLimits[id]; n > 0 {
		f.rateLimits[id] = n - 1
		return nil, &ygg.RateLimitError{}
	}
	if n := f.detailFailures[id]; n > 0 {
		f.detailFailures[id] = n - 1
		return nil, &ygg.StatusError{StatusCode: 503, Body: "unavailable"}
	}

	hash := fmt.Sprintf("HASH%d", id)
	desc := fmt.Sprintf("description of %d", id)
	return &ygg.TorrentDetail{
		TorrentSummary: summaryFor(id, 0),
		Description:    &desc,
		Hash:           &hash,
	}, nil
}

func (f *fakeSource) detailCallsFor(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls[id]
}

func (f *fakeSource) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeSource) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeSource) blockCategory(code int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[code] = ch
	return ch
}

func summaryFor(id int64, code int) ygg.TorrentSummary {
	return ygg.TorrentSummary{
		ID:         id,
		Title:      fmt.Sprintf("Torrent %d", id),
		Seeders:    int(id % 50),
		Leechers:   int(id % 7),
		Size:       id * 1024,
		Slug:       fmt.Sprintf("torrent-%d", id),
		CategoryID: code,
		UploadedAt: ygg.APITime{Time: baseUpload.Add(time.Duration(id) * time.Minute)},
		Link:       fmt.Sprintf("https://ygg.example/torrent/%d", id),
	}
}

// recorder is a Publisher that keeps every event
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func openTestStore(t *testing.T) *models.Database {
	t.Helper()
	db, err := models.NewDatabase(models.DriverSQLite, filepath.Join(t.TempDir(), "yggsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testOptions() SyncOptions {
	return SyncOptions{
		CategoryCodes: map[models.Category]int{
			models.CategorySeries: seriesCode,
			models.CategoryFilms:  filmsCode,
		},
		Retry:        RetryPolicy{MaxAttempts: 3},
		AutoBackfill: true,
	}
}

func newTestController(t *testing.T, src *fakeSource) (*SyncController, *models.Database, *recorder) {
	t.Helper()
	db := openTestStore(t)
	rec := &recorder{}
	ctrl := NewSyncController(db, src, rec, nil, testOptions(), quietLogger())
	return ctrl, db, rec
}

// failingStore is a real database whose UpsertTorrent fails for one ID
type failingStore struct {
	*models.Database
	failID int64
}

func (s *failingStore) UpsertTorrent(ctx context.Context, cat models.Category, t *models.Torrent) error {
	if t.ID == s.failID {
		return fmt.Errorf("%w: upserting %s torrent %d: disk full", models.ErrStoreWrite, cat, t.ID)
	}
	return s.Database.UpsertTorrent(ctx, cat, t)
}
