package consensus

import "consensus-observer/internal/validator"

// NilVote marks a validator without a vote in the current round.
const NilVote = "nil-Vote"

// Snapshot is the current round as seen by one poll of /consensus_state.
type Snapshot struct {
	Height           int64
	Round            int32
	Step             int
	Proposer         string
	PrevotePercent   float64
	PrecommitPercent float64
	// short address key -> vote payload (block hash fingerprint)
	Prevotes         map[string]string
	Precommits       map[string]string
	OnlineValidators int

	Validators []ValidatorVote
}

// ValidatorVote is a roster entry with its vote payloads in this round.
type ValidatorVote struct {
	validator.Validator
	Prevote   string
	Precommit string
}

// Voted reports whether vote is a real vote payload.
func Voted(vote string) bool {
	return vote != "" && vote != NilVote
}

// Annotate attaches each validator's prevote/precommit, matched on the
// 12 character address prefix. Short keys can collide in very large sets.
func (s *Snapshot) Annotate(roster []validator.Validator) {
	s.Validators = make([]ValidatorVote, 0, len(roster))
	for _, v := range roster {
		vv := ValidatorVote{Validator: v, Prevote: NilVote, Precommit: NilVote}
		if p, ok := s.Prevotes[v.ShortAddress()]; ok {
			vv.Prevote = p
		}
		if p, ok := s.Precommits[v.ShortAddress()]; ok {
			vv.Precommit = p
		}
		s.Validators = append(s.Validators, vv)
	}
}
