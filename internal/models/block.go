package models

import "time"

// Block is a finalized height with its commit participation totals.
type Block struct {
	ID              uint   `gorm:"primaryKey"`
	Height          int64  `gorm:"uniqueIndex;not null"`
	ProposerAddress string `gorm:"size:128;index"`
	TotalSigned     int
	TotalMissed     int
	Signatures      []BlockSignature `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BlockSignature is one roster validator's participation in a block's last commit.
type BlockSignature struct {
	ID               uint   `gorm:"primaryKey"`
	BlockID          uint   `gorm:"index"`
	Height           int64  `gorm:"index"`
	ValidatorAddress string `gorm:"size:128;index"`
	ValidatorMoniker string `gorm:"size:128"`
	OperatorAddress  string `gorm:"size:128"`
	ConsensusPubKey  string `gorm:"size:128"`
	Signed           bool   `gorm:"index"`
	Timestamp        string `gorm:"size:64"` // empty when missed
	Signature        string `gorm:"type:text"`
	CreatedAt        time.Time
}
