package controllers

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/yggsync/internal/models"
)

type sqlColumn struct {
	name string
	def  string
}

// The DDL targets PostgreSQL, which is what the dumps are meant to be
// restored into
var torrentColumns = []sqlColumn{
	{"id", "BIGINT PRIMARY KEY"},
	{"title", "TEXT NOT NULL"},
	{"seeders", "INTEGER NOT NULL DEFAULT 0"},
	{"leechers", "INTEGER NOT NULL DEFAULT 0"},
	{"downloads", "INTEGER"},
	{"size", "BIGINT NOT NULL"},
	{"slug", "TEXT"},
	{"category_id", "INTEGER NOT NULL"},
	{"uploaded_at", "TIMESTAMPTZ"},
	{"link", "TEXT NOT NULL"},
	{"description", "TEXT"},
	{"hash", "TEXT"},
	{"updated_at", "TIMESTAMPTZ"},
	{"scraped_at", "TIMESTAMPTZ NOT NULL"},
}

var syncStateColumns = []sqlColumn{
	{"id", "INTEGER PRIMARY KEY"},
	{"category", "TEXT NOT NULL UNIQUE"},
	{"last_known_id", "BIGINT NOT NULL DEFAULT 0"},
	{"last_scrape_time", "TIMESTAMPTZ"},
	{"initial_scrape_completed", "BOOLEAN NOT NULL DEFAULT FALSE"},
}

// writeSQL adds one dump per table plus complete_backup.sql, which holds all
// of them in a single transaction. Tables are streamed twice rather than
// buffered.
func (c *ExportController) writeSQL(ctx context.Context, zw *zip.Writer) error {
	for _, cat := range models.Categories {
		if err := writeZipEntry(zw, "sql/"+cat.TableName()+".sql", func(w *bufio.Writer) error {
			return c.writeTorrentsSQL(ctx, w, cat)
		}); err != nil {
			return fmt.Errorf("exporting %s as SQL: %w", cat, err)
		}
	}

	states, err := c.store.ListSyncStates(ctx)
	if err != nil {
		return err
	}
	if err := writeZipEntry(zw, "sql/scraping_state.sql", func(w *bufio.Writer) error {
		return writeSyncStateSQL(w, states)
	}); err != nil {
		return err
	}

	return writeZipEntry(zw, "sql/complete_backup.sql", func(w *bufio.Writer) error {
		fmt.Fprintf(w, "-- yggsync database export\n-- Export date: %s\n-- Restore with: psql -d <database> -f complete_backup.sql\n\n",
			time.Now().UTC().Format(time.RFC3339))
		w.WriteString("BEGIN;\n\n")
		for _, cat := range models.Categories {
			if err := c.writeTorrentsSQL(ctx, w, cat); err != nil {
				return fmt.Errorf("exporting %s as SQL: %w", cat, err)
			}
			w.WriteString("\n")
		}
		if err := writeSyncStateSQL(w, states); err != nil {
			return err
		}
		_, err := w.WriteString("\nCOMMIT;\n")
		return err
	})
}

func writeZipEntry(zw *zip.Writer, name string, fn func(w *bufio.Writer) error) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		return err
	}
	return w.Flush()
}

func (c *ExportController) writeTorrentsSQL(ctx context.Context, w *bufio.Writer, cat models.Category) error {
	table := cat.TableName()
	writeCreateTable(w, table, torrentColumns)
	insert := insertPrefix(table, torrentColumns)

	return c.store.EachTorrent(ctx, cat, exportBatchSize, func(batch []models.Torrent) error {
		for i := range batch {
			t := &batch[i]
			w.WriteString(insert)
			writeValues(w,
				strconv.FormatInt(t.ID, 10),
				sqlString(t.Title),
				strconv.Itoa(t.Seeders),
				strconv.Itoa(t.Leechers),
				sqlIntPtr(t.Downloads),
				strconv.FormatInt(t.Size, 10),
				sqlString(t.Slug),
				strconv.Itoa(t.CategoryID),
				sqlTime(t.UploadedAt),
				sqlString(t.Link),
				sqlStringPtr(t.Description),
				sqlStringPtr(t.Hash),
				sqlTimePtr(t.UpdatedAt),
				sqlTime(t.ScrapedAt),
			)
			if _, err := w.WriteString(" ON CONFLICT (id) DO NOTHING;\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSyncStateSQL(w *bufio.Writer, states []models.SyncState) error {
	table := models.SyncState{}.TableName()
	writeCreateTable(w, table, syncStateColumns)
	insert := insertPrefix(table, syncStateColumns)

	for _, st := range states {
		w.WriteString(insert)
		writeValues(w,
			strconv.FormatUint(uint64(st.ID), 10),
			sqlString(string(st.Category)),
			strconv.FormatInt(st.LastKnownID, 10),
			sqlTimePtr(st.LastScrapeTime),
			strings.ToUpper(strconv.FormatBool(st.InitialScrapeCompleted)),
		)
		// A restore overwrites the checkpoint of an already seeded database
		w.WriteString(" ON CONFLICT (category) DO UPDATE SET last_known_id = EXCLUDED.last_known_id," +
			" last_scrape_time = EXCLUDED.last_scrape_time," +
			" initial_scrape_completed = EXCLUDED.initial_scrape_completed;\n")
	}
	_, err := w.WriteString("\n")
	return err
}

func writeCreateTable(w *bufio.Writer, table string, columns []sqlColumn) {
	fmt.Fprintf(w, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	for i, col := range columns {
		sep := ",\n"
		if i == len(columns)-1 {
			sep = "\n"
		}
		fmt.Fprintf(w, "    %s %s%s", col.name, col.def, sep)
	}
	fmt.Fprintf(w, ");\n\n-- Data for %s\n", table)
}

func insertPrefix(table string, columns []sqlColumn) string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.name
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(names, ", "))
}

func writeValues(w io.StringWriter, values ...string) {
	w.WriteString("(")
	w.WriteString(strings.Join(values, ", "))
	w.WriteString(")")
}

// sqlString quotes s as a standard SQL literal. PostgreSQL text cannot hold
// NUL bytes, so they are dropped.
func sqlString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sqlStringPtr(s *string) string {
	if s == nil {
		return "NULL"
	}
	return sqlString(*s)
}

func sqlIntPtr(n *int) string {
	if n == nil {
		return "NULL"
	}
	return strconv.Itoa(*n)
}

func sqlTime(t time.Time) string {
	if t.IsZero() {
		return "NULL"
	}
	return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
}

func sqlTimePtr(t *time.Time) string {
	if t == nil {
		return "NULL"
	}
	return sqlTime(*t)
}
