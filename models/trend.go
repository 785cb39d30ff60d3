package models

import "time"

// Trend stores one search-interest observation for an asset name, fetched
// from the trends provider. Partial points cover a period that has not fully
// elapsed yet and are re-reported by the provider on the next refresh.
type Trend struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SearchTerm string    `gorm:"index:idx_term_stamp" json:"search_term"`
	Timestamp  time.Time `gorm:"index:idx_term_stamp" json:"timestamp"`
	Value      int       `json:"value"`
	IsPartial  bool      `json:"is_partial"`
	CreatedAt  time.Time `json:"created_at"`
}
