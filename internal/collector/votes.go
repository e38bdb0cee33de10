package collector

import (
	"context"
	"errors"
	"fmt"

	"consensus-observer/internal/store"
	"consensus-observer/internal/validator"

	"github.com/cometbft/cometbft/libs/log"
)

var (
	// ErrUnknownVoteType is returned for vote type codes other than prevote/precommit.
	ErrUnknownVoteType = errors.New("unknown vote type")
	// ErrUnknownValidator is returned when a vote's validator is not in the roster
	// even after a refresh.
	ErrUnknownValidator = errors.New("validator not found even after update")
)

// Vote type codes on the wire.
const (
	VoteTypePrevote   = 1
	VoteTypePrecommit = 2
)

// VoteEvent is a vote received on the event stream.
type VoteEvent struct {
	Height    int64
	Round     int32
	TypeCode  int32
	Validator string
	Timestamp string
	Hash      string
	Signature string
}

// VoteKind maps a vote type code to its phase.
func VoteKind(code int32) (store.VoteKind, error) {
	switch code {
	case VoteTypePrevote:
		return store.Prevote, nil
	case VoteTypePrecommit:
		return store.Precommit, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownVoteType, code)
	}
}

// Aggregator merges stream votes into per-height round state records.
type Aggregator struct {
	dir    *validator.Directory
	store  store.Store
	policy SavePolicy
	log    log.Logger
}

func NewAggregator(dir *validator.Directory, st store.Store, policy SavePolicy, logger log.Logger) *Aggregator {
	return &Aggregator{dir: dir, store: st, policy: policy, log: logger}
}

// OnVote records ev when the policy selects its height. Dropped votes are
// reported through the returned error; a skipped height is not an error.
func (a *Aggregator) OnVote(ctx context.Context, ev VoteEvent) error {
	kind, err := VoteKind(ev.TypeCode)
	if err != nil {
		return err
	}

	val, ok := a.dir.Resolve(ctx, ev.Validator)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, ev.Validator)
	}

	if !a.policy.ShouldSave(ev.Height) || a.store == nil {
		a.log.Debug("Skipping vote", "type", kind, "moniker", val.Moniker, "round", ev.Round, "height", ev.Height, "target", a.policy.Target)
		return nil
	}

	changed, err := a.store.AppendVote(ctx, store.Vote{
		Height:    ev.Height,
		Round:     ev.Round,
		Kind:      kind,
		Validator: val.Address,
		Moniker:   val.Moniker,
		VoteEntry: store.VoteEntry{
			Timestamp: ev.Timestamp,
			Hash:      ev.Hash,
			Signature: ev.Signature,
		},
	})
	if err != nil {
		return fmt.Errorf("save %s of %s at %d/%d: %w", kind, val.Moniker, ev.Height, ev.Round, err)
	}
	if changed {
		a.log.Debug("Saved vote", "type", kind, "moniker", val.Moniker, "round", ev.Round, "height", ev.Height)
	}
	return nil
}
