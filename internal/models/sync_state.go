package models

import "time"

// SyncState tracks synchronisation progress for one category
type SyncState struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Category               Category   `gorm:"uniqueIndex;not null" json:"category"`
	LastKnownID            int64      `gorm:"not null;default:0" json:"last_known_id"`
	LastScrapeTime         *time.Time `json:"last_scrape_time"`
	InitialScrapeCompleted bool       `gorm:"not null;default:false" json:"initial_scrape_completed"`
}

// TableName pins the table name regardless of gorm's naming strategy
func (SyncState) TableName() string {
	return "sync_state"
}

// Checkpoint is the set of fields written at the end of a successful pass
type Checkpoint struct {
	LastKnownID int64
	ScrapedAt   time.Time
	MarkInitial bool // Flip initial_scrape_completed to true
}
