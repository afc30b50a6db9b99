package models

import "fmt"

// Category identifies one of the two synchronised content partitions
type Category string

const (
	CategorySeries Category = "series"
	CategoryFilms  Category = "films"
)

// Categories lists every category in a stable order
var Categories = []Category{CategorySeries, CategoryFilms}

// ParseCategory converts a user-supplied string into a Category
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategorySeries:
		return CategorySeries, nil
	case CategoryFilms:
		return CategoryFilms, nil
	}
	return "", fmt.Errorf("unknown category %q (expected %q or %q)", s, CategorySeries, CategoryFilms)
}

// TableName returns the table holding the torrents of this category
func (c Category) TableName() string {
	switch c {
	case CategorySeries:
		return "anime_series"
	case CategoryFilms:
		return "anime_films"
	}
	return ""
}

// PassKind is the kind of synchronisation pass
type PassKind string

const (
	PassInitial     PassKind = "initial"     // Full backfill of the category
	PassIncremental PassKind = "incremental" // Catch-up from the last known ID
)

// EventType is the kind of event broadcast to observers
type EventType string

const (
	EventPassStarted   EventType = "pass_started"
	EventPassProgress  EventType = "pass_progress"
	EventPassCompleted EventType = "pass_completed"
	EventStateReset    EventType = "state_reset"
)
