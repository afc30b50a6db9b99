package ygg

import (
	"strings"

	"github.com/amaumene/yggsync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// ToTorrent merges a listing entry with its detail record. detail may be nil,
// in which case the hash and description stay empty.
func ToTorrent(summary TorrentSummary, detail *TorrentDetail) *models.Torrent {
	t := &models.Torrent{
		ID:         summary.ID,
		Title:      normalizeText(summary.Title),
		Seeders:    summary.Seeders,
		Leechers:   summary.Leechers,
		Downloads:  summary.Downloads,
		Size:       summary.Size,
		Slug:       strings.TrimSpace(summary.Slug),
		CategoryID: summary.CategoryID,
		UploadedAt: summary.UploadedAt.Time,
		Link:       strings.TrimSpace(summary.Link),
	}

	if detail == nil {
		return t
	}

	// The detail endpoint is fresher than the listing for mutable fields
	if title := normalizeText(detail.Title); title != "" {
		t.Title = title
	}
	if detail.Seeders != 0 || detail.Leechers != 0 {
		t.Seeders = detail.Seeders
		t.Leechers = detail.Leechers
	}
	if detail.Downloads != nil {
		t.Downloads = detail.Downloads
	}
	if t.UploadedAt.IsZero() {
		t.UploadedAt = detail.UploadedAt.Time
	}
	if detail.Description != nil {
		desc := norm.NFC.String(*detail.Description)
		t.Description = &desc
	}
	if detail.Hash != nil {
		hash := strings.ToLower(strings.TrimSpace(*detail.Hash))
		if hash != "" {
			t.Hash = &hash
		}
	}

	if detail.UpdatedAt != nil && !detail.UpdatedAt.IsZero() {
		updated := detail.UpdatedAt.Time
		t.UpdatedAt = &updated
	} else if !t.UploadedAt.IsZero() {
		uploaded := t.UploadedAt
		t.UpdatedAt = &uploaded
	}

	return t
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
