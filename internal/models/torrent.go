package models

import "time"

// Torrent is a torrent record as stored in one of the category tables.
// The same struct backs both anime_series and anime_films.
type Torrent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title      string    `gorm:"not null" json:"title"`
	Seeders    int       `json:"seeders"`
	Leechers   int       `json:"leechers"`
	Downloads  *int      `json:"downloads"`
	Size       int64     `gorm:"not null" json:"size"`
	Slug       string    `json:"slug"`
	CategoryID int       `gorm:"not null" json:"category_id"`
	UploadedAt time.Time `gorm:"not null" json:"uploaded_at"`
	Link       string    `gorm:"not null" json:"link"`

	// Filled from the detail endpoint
	Description *string    `gorm:"type:text" json:"description"`
	Hash        *string    `json:"hash"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`

	// First time this record was written locally; never overwritten
	ScrapedAt time.Time `gorm:"not null" json:"scraped_at"`
}

// HasDetail reports whether the detail fields were populated
func (t *Torrent) HasDetail() bool {
	return t.Hash != nil && *t.Hash != ""
}

// mutableColumns are overwritten when an existing torrent is upserted again
var mutableColumns = []string{
	"title",
	"seeders",
	"leechers",
	"downloads",
	"size",
	"slug",
	"category_id",
	"uploaded_at",
	"link",
	"description",
	"hash",
	"updated_at",
}

// summaryColumns are the listing fields; a summary upsert leaves the detail
// columns of an existing row alone
var summaryColumns = []string{
	"title",
	"seeders",
	"leechers",
	"downloads",
	"size",
	"slug",
	"category_id",
	"uploaded_at",
	"link",
}
