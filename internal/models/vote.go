package models

import "time"

// RoundVote is one observed prevote or precommit. Re-deliveries of the same
// vote collapse on the unique index; re-votes with a new timestamp are kept.
type RoundVote struct {
	ID               uint   `gorm:"primaryKey"`
	Height           int64  `gorm:"index:ux_round_vote,unique,priority:1;index"`
	Round            int32  `gorm:"index:ux_round_vote,unique,priority:2"`
	VoteType         string `gorm:"size:16;index:ux_round_vote,unique,priority:3"` // "Prevote" or "Precommit"
	ValidatorAddress string `gorm:"size:128;index:ux_round_vote,unique,priority:4;index"`
	ValidatorMoniker string `gorm:"size:128"`
	Timestamp        string `gorm:"size:64;index:ux_round_vote,unique,priority:5"`
	BlockHash        string `gorm:"size:128;index:ux_round_vote,unique,priority:6"` // empty for nil votes
	Signature        string `gorm:"size:256;index:ux_round_vote,unique,priority:7"`
	CreatedAt        time.Time
}
