// Package models defines the database models mirroring the observation records.
package models

import "time"

// ConsensusSnapshot is the last /consensus_state document fetched for a height.
type ConsensusSnapshot struct {
	ID        uint   `gorm:"primaryKey"`
	Height    int64  `gorm:"uniqueIndex;not null"`
	Document  string `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
