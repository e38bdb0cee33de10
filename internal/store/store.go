// Package store persists per-height consensus observations.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hashicorp/go-multierror"
)

// ErrCorruptRecord is returned when an existing record cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt record")

// VoteKind is the consensus phase of a vote.
type VoteKind string

const (
	Prevote   VoteKind = "Prevote"
	Precommit VoteKind = "Precommit"
)

// VoteEntry is one observed vote. Two entries are the same vote iff all
// three fields are equal.
type VoteEntry struct {
	Timestamp string `json:"timestamp"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// Vote is a VoteEntry with its coordinates.
type Vote struct {
	Height    int64
	Round     int32
	Kind      VoteKind
	Validator string
	Moniker   string
	VoteEntry
}

// RoundVotes holds every vote seen for one round, per validator.
type RoundVotes struct {
	Prevote   map[string][]VoteEntry `json:"Prevote"`
	Precommit map[string][]VoteEntry `json:"Precommit"`
}

// RoundState is the cumulative vote record of one height.
type RoundState struct {
	Height int64                 `json:"height"`
	Rounds map[int32]*RoundVotes `json:"rounds"`
}

// NewRoundState returns an empty record for height.
func NewRoundState(height int64) *RoundState {
	return &RoundState{Height: height, Rounds: map[int32]*RoundVotes{}}
}

// Merge adds v unless an identical entry is already recorded and
// reports whether the record changed.
func (s *RoundState) Merge(v Vote) bool {
	if s.Rounds == nil {
		s.Rounds = map[int32]*RoundVotes{}
	}
	s.Height = v.Height
	rv, ok := s.Rounds[v.Round]
	if !ok || rv == nil {
		rv = &RoundVotes{}
		s.Rounds[v.Round] = rv
	}
	if rv.Prevote == nil {
		rv.Prevote = map[string][]VoteEntry{}
	}
	if rv.Precommit == nil {
		rv.Precommit = map[string][]VoteEntry{}
	}

	bucket := rv.Prevote
	if v.Kind == Precommit {
		bucket = rv.Precommit
	}
	for _, e := range bucket[v.Validator] {
		if e == v.VoteEntry {
			return false
		}
	}
	bucket[v.Validator] = append(bucket[v.Validator], v.VoteEntry)
	return true
}

// CommitSignature is a validator's signature in a block's last commit.
type CommitSignature struct {
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

// SignerEntry is a roster validator annotated with its commit signature,
// nil when it missed the block.
type SignerEntry struct {
	Moniker         string           `json:"moniker"`
	Address         string           `json:"hex"`
	OperatorAddress string           `json:"valoper"`
	ConsensusPubKey string           `json:"consensus_pubkey"`
	Signature       *CommitSignature `json:"signature"`
}

// BlockSignatureSet partitions the roster by whether it signed a finalized block.
type BlockSignatureSet struct {
	Height      int64                  `json:"height"`
	TotalSigned int                    `json:"total_signed"`
	TotalMissed int                    `json:"total_missed"`
	Proposer    string                 `json:"proposer"`
	Signed      map[string]SignerEntry `json:"signed_validators"`
	Missed      map[string]SignerEntry `json:"missed_validators"`
}

// Store is a sink for observations. Implementations must make AppendVote
// idempotent and SaveBlockSignatures write-once per height.
type Store interface {
	// AppendVote merges v into the round state of its height.
	AppendVote(ctx context.Context, v Vote) (bool, error)
	// SaveBlockSignatures writes set unless one exists for its height.
	SaveBlockSignatures(ctx context.Context, set BlockSignatureSet) (bool, error)
	// SaveSnapshot stores the fetched consensus state document verbatim.
	SaveSnapshot(ctx context.Context, height int64, doc json.RawMessage) error
}

// Multi fans every call out to all stores. The first store is authoritative:
// it decides the returned booleans, and when it fails on a vote or a
// signature set the remaining stores are not written. Errors from the other
// stores are combined.
type Multi []Store

var _ Store = Multi(nil)

func (m Multi) AppendVote(ctx context.Context, v Vote) (bool, error) {
	var (
		result  *multierror.Error
		changed bool
	)
	for i, s := range m {
		ok, err := s.AppendVote(ctx, v)
		if i == 0 {
			if err != nil {
				return false, err
			}
			changed = ok
			continue
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return changed, result.ErrorOrNil()
}

func (m Multi) SaveBlockSignatures(ctx context.Context, set BlockSignatureSet) (bool, error) {
	var (
		result  *multierror.Error
		written bool
	)
	for i, s := range m {
		ok, err := s.SaveBlockSignatures(ctx, set)
		if i == 0 {
			if err != nil {
				return false, err
			}
			written = ok
			continue
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return written, result.ErrorOrNil()
}

func (m Multi) SaveSnapshot(ctx context.Context, height int64, doc json.RawMessage) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.SaveSnapshot(ctx, height, doc); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
