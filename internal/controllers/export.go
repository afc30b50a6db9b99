package controllers

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/sirupsen/logrus"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatSQL  = "sql"
	FormatAll  = "all"
)

const exportBatchSize = 500

// ErrUnsupportedFormat is returned for formats other than json, csv, sql and all
var ErrUnsupportedFormat = errors.New("unsupported export format")

var csvHeader = []string{
	"id", "title", "seeders", "leechers", "downloads", "size",
	"category_id", "uploaded_at", "link", "hash", "scraped_at",
}

// ExportStore is the read side used by exports
type ExportStore interface {
	EachTorrent(ctx context.Context, cat models.Category, batchSize int, fn func([]models.Torrent) error) error
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
	Counts(ctx context.Context) (map[models.Category]int64, error)
}

// ExportController writes database dumps as zip archives
type ExportController struct {
	store  ExportStore
	logger *logrus.Logger
}

// NewExportController creates a new export controller
func NewExportController(store ExportStore, logger *logrus.Logger) *ExportController {
	return &ExportController{
		store:  store,
		logger: logger,
	}
}

// ParseFormat validates an export format
func ParseFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case FormatJSON, FormatCSV, FormatSQL, FormatAll:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// FileName returns the download name of an export created at t
func FileName(format string, t time.Time) string {
	return fmt.Sprintf("ygg_anime_export_%s_%s.zip", format, t.Format("20060102_150405"))
}

// WriteZip streams the export to w
func (c *ExportController) WriteZip(ctx context.Context, w io.Writer, format string) error {
	format, err := ParseFormat(format)
	if err != nil {
		return err
	}

	start := time.Now()
	zw := zip.NewWriter(w)

	if format == FormatJSON || format == FormatAll {
		if err := c.writeJSON(ctx, zw); err != nil {
			return err
		}
	}
	if format == FormatCSV || format == FormatAll {
		if err := c.writeCSV(ctx, zw); err != nil {
			return err
		}
	}
	if format == FormatSQL || format == FormatAll {
		if err := c.writeSQL(ctx, zw); err != nil {
			return err
		}
	}
	if err := writeReadme(zw, format, start); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalise export archive: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"format":      format,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Export completed")
	return nil
}

func (c *ExportController) writeJSON(ctx context.Context, zw *zip.Writer) error {
	for _, cat := range models.Categories {
		f, err := zw.Create("json/" + cat.TableName() + ".json")
		if err != nil {
			return err
		}
		if err := c.writeTorrentsJSON(ctx, f, cat); err != nil {
			return fmt.Errorf("exporting %s as JSON: %w", cat, err)
		}
	}

	states, err := c.store.ListSyncStates(ctx)
	if err != nil {
		return err
	}
	if err := writeJSONFile(zw, "json/scraping_state.json", states); err != nil {
		return err
	}

	counts, err := c.store.Counts(ctx)
	if err != nil {
		return err
	}
	return writeJSONFile(zw, "json/metadata.json", map[string]any{
		"export_date":      time.Now().UTC(),
		"total_series":     counts[models.CategorySeries],
		"total_films":      counts[models.CategoryFilms],
		"exporter_version": "1.0",
	})
}

// writeTorrentsJSON streams a JSON array without holding the table in memory
func (c *ExportController) writeTorrentsJSON(ctx context.Context, w io.Writer, cat models.Category) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}

	first := true
	err := c.store.EachTorrent(ctx, cat, exportBatchSize, func(batch []models.Torrent) error {
		for i := range batch {
			data, err := json.MarshalIndent(&batch[i], "  ", "  ")
			if err != nil {
				return err
			}
			sep := ",\n  "
			if first {
				sep = "\n  "
				first = false
			}
			if _, err := io.WriteString(w, sep); err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	closing := "\n]\n"
	if first {
		closing = "]\n"
	}
	_, err = io.WriteString(w, closing)
	return err
}

func (c *ExportController) writeCSV(ctx context.Context, zw *zip.Writer) error {
	for _, cat := range models.Categories {
		f, err := zw.Create("csv/" + cat.TableName() + ".csv")
		if err != nil {
			return err
		}

		cw := csv.NewWriter(f)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		err = c.store.EachTorrent(ctx, cat, exportBatchSize, func(batch []models.Torrent) error {
			for i := range batch {
				if err := cw.Write(csvRecord(&batch[i])); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("exporting %s as CSV: %w", cat, err)
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
	}
	return nil
}

func csvRecord(t *models.Torrent) []string {
	downloads := ""
	if t.Downloads != nil {
		downloads = strconv.Itoa(*t.Downloads)
	}
	hash := ""
	if t.Hash != nil {
		hash = *t.Hash
	}
	return []string{
		strconv.FormatInt(t.ID, 10),
		t.Title,
		strconv.Itoa(t.Seeders),
		strconv.Itoa(t.Leechers),
		downloads,
		strconv.FormatInt(t.Size, 10),
		strconv.Itoa(t.CategoryID),
		formatTime(t.UploadedAt),
		t.Link,
		hash,
		formatTime(t.ScrapedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSONFile(zw *zip.Writer, name string, v any) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReadme(zw *zip.Writer, format string, at time.Time) error {
	var b strings.Builder
	b.WriteString("yggsync database export\n")
	b.WriteString("=======================\n")
	fmt.Fprintf(&b, "Export date: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Format: %s\n\nContents:\n", strings.ToUpper(format))
	if format == FormatJSON || format == FormatAll {
		b.WriteString("- json/: one array per category, sync state and metadata\n")
	}
	if format == FormatCSV || format == FormatAll {
		b.WriteString("- csv/: one file per category for spreadsheets\n")
	}
	if format == FormatSQL || format == FormatAll {
		b.WriteString("- sql/: PostgreSQL dumps per table; complete_backup.sql restores everything\n")
		b.WriteString("  psql -d <database> -f sql/complete_backup.sql\n")
	}

	f, err := zw.Create("README.txt")
	if err != nil {
		return err
	}
	_, err = io.WriteString(f, b.String())
	return err
}
