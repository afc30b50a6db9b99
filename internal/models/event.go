package models

import "time"

// Event is a progress notification emitted by the sync engine
type Event struct {
	Type      EventType   `json:"type"`
	Category  Category    `json:"category"`
	Kind      PassKind    `json:"kind"`
	RunID     string      `json:"run_id"`
	Percent   float64     `json:"percent"`
	Message   string      `json:"message"`
	Error     string      `json:"error,omitempty"`
	Result    *PassResult `json:"result,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// PassResult summarises a finished (or aborted) pass
type PassResult struct {
	RunID    string   `json:"run_id"`
	Category Category `json:"category"`
	Kind     PassKind `json:"kind"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Pages    int     `json:"pages"`    // Listing pages fetched
	Listed   int     `json:"listed"`   // Distinct items selected for this pass
	Upserted int     `json:"upserted"` // Items written to the store
	Skipped  int     `json:"skipped"`  // Items already stored with detail
	Failed   []int64 `json:"failed"`   // Items dropped after detail retries

	PreviousLastKnownID int64 `json:"previous_last_known_id"`
	LastKnownID         int64 `json:"last_known_id"`
	InitialCompleted    bool  `json:"initial_completed"`

	Aborted bool   `json:"aborted"`
	Error   string `json:"error,omitempty"`
}

// Duration returns how long the pass ran
func (r *PassResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
