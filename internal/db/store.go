package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"consensus-observer/internal/models"
	"consensus-observer/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a store.Store backed by GORM.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func voteRow(v store.Vote) models.RoundVote {
	return models.RoundVote{
		Height:           v.Height,
		Round:            v.Round,
		VoteType:         string(v.Kind),
		ValidatorAddress: v.Validator,
		ValidatorMoniker: v.Moniker,
		Timestamp:        v.Timestamp,
		BlockHash:        v.Hash,
		Signature:        v.Signature,
	}
}

// AppendVote inserts v; a vote already recorded is left alone.
func (s *Store) AppendVote(ctx context.Context, v store.Vote) (bool, error) {
	row := voteRow(v)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert vote: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// blockRows flattens set into a block row and its signature rows, signers
// first, each group ordered by address.
func blockRows(set store.BlockSignatureSet) (models.Block, []models.BlockSignature) {
	block := models.Block{
		Height:          set.Height,
		ProposerAddress: set.Proposer,
		TotalSigned:     set.TotalSigned,
		TotalMissed:     set.TotalMissed,
	}

	sigs := make([]models.BlockSignature, 0, len(set.Signed)+len(set.Missed))
	add := func(entries map[string]store.SignerEntry, signed bool) {
		addrs := make([]string, 0, len(entries))
		for a := range entries {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		for _, a := range addrs {
			e := entries[a]
			row := models.BlockSignature{
				Height:           set.Height,
				ValidatorAddress: e.Address,
				ValidatorMoniker: e.Moniker,
				OperatorAddress:  e.OperatorAddress,
				ConsensusPubKey:  e.ConsensusPubKey,
				Signed:           signed,
			}
			if e.Signature != nil {
				row.Timestamp = e.Signature.Timestamp
				row.Signature = e.Signature.Signature
			}
			sigs = append(sigs, row)
		}
	}
	add(set.Signed, true)
	add(set.Missed, false)
	return block, sigs
}

// SaveBlockSignatures writes set unless its height is already stored.
func (s *Store) SaveBlockSignatures(ctx context.Context, set store.BlockSignatureSet) (bool, error) {
	block, sigs := blockRows(set)
	written := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "height"}},
			DoNothing: true,
		}).Create(&block)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for i := range sigs {
			sigs[i].BlockID = block.ID
		}
		if len(sigs) > 0 {
			if err := tx.CreateInBatches(sigs, 200).Error; err != nil {
				return err
			}
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert signatures for %d: %w", set.Height, err)
	}
	return written, nil
}

// SaveSnapshot upserts the document of height.
func (s *Store) SaveSnapshot(ctx context.Context, height int64, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return fmt.Errorf("snapshot for %d is not valid JSON", height)
	}
	row := models.ConsensusSnapshot{Height: height, Document: string(doc)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "height"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert snapshot for %d: %w", height, err)
	}
	return nil
}
