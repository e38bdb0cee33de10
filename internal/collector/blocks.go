package collector

import (
	"context"
	"fmt"

	"consensus-observer/internal/store"
	"consensus-observer/internal/validator"

	"github.com/cometbft/cometbft/libs/log"
)

// CommitSig is one signature of a block's last commit.
type CommitSig struct {
	Validator string
	Timestamp string
	Signature string
}

// BlockEvent is a finalized block: the height and signatures of its last
// commit, and the block's proposer.
type BlockEvent struct {
	Height     int64
	Proposer   string
	Signatures []CommitSig
}

// Tracker splits the roster into signers and non-signers of finalized blocks.
type Tracker struct {
	dir    *validator.Directory
	store  store.Store
	policy SavePolicy
	log    log.Logger
}

func NewTracker(dir *validator.Directory, st store.Store, policy SavePolicy, logger log.Logger) *Tracker {
	return &Tracker{dir: dir, store: st, policy: policy, log: logger}
}

// Partition builds the signature set of ev against roster.
func Partition(ev BlockEvent, roster []validator.Validator) store.BlockSignatureSet {
	signed := make(map[string]store.CommitSignature, len(ev.Signatures))
	for _, sig := range ev.Signatures {
		if sig.Validator == "" {
			continue
		}
		signed[validator.NormalizeAddress(sig.Validator)] = store.CommitSignature{
			Timestamp: sig.Timestamp,
			Signature: sig.Signature,
		}
	}

	set := store.BlockSignatureSet{
		Height:   ev.Height,
		Proposer: validator.NormalizeAddress(ev.Proposer),
		Signed:   map[string]store.SignerEntry{},
		Missed:   map[string]store.SignerEntry{},
	}
	for _, v := range roster {
		entry := store.SignerEntry{
			Moniker:         v.Moniker,
			Address:         v.Address,
			OperatorAddress: v.OperatorAddress,
			ConsensusPubKey: v.PubKeyBase64(),
		}
		if sig, ok := signed[v.Address]; ok {
			entry.Signature = &sig
			set.Signed[v.Address] = entry
		} else {
			set.Missed[v.Address] = entry
		}
	}
	set.TotalSigned = len(set.Signed)
	set.TotalMissed = len(set.Missed)
	return set
}

// OnBlock partitions the current roster for ev and persists it once per
// height when the policy selects it.
func (t *Tracker) OnBlock(ctx context.Context, ev BlockEvent) (store.BlockSignatureSet, error) {
	roster := t.dir.Validators()
	set := Partition(ev, roster)

	missing := make([]string, 0, len(set.Missed))
	for _, v := range roster {
		if _, ok := set.Missed[v.Address]; ok {
			missing = append(missing, v.Moniker)
		}
	}
	t.log.Info(fmt.Sprintf("Finalized #%d", ev.Height),
		"signatures", fmt.Sprintf("%d/%d", set.TotalSigned, len(roster)),
		"proposer", set.Proposer,
		"missing", missing,
	)

	if !t.policy.ShouldSave(ev.Height) || t.store == nil {
		t.log.Debug("Skipping saving signatures", "height", ev.Height)
		return set, nil
	}
	written, err := t.store.SaveBlockSignatures(ctx, set)
	if err != nil {
		return set, fmt.Errorf("save signatures for %d: %w", ev.Height, err)
	}
	if written {
		t.log.Debug("Saved signatures", "height", ev.Height)
	}
	return set, nil
}
