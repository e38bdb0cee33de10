// Package consensus decodes the node's /consensus_state round state.
package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"consensus-observer/internal/validator"
)

var (
	// ErrMalformed wraps every structural problem in a consensus state document.
	ErrMalformed = errors.New("malformed consensus state")
	// ErrRoundNotFound means the vote set of the current round is absent.
	ErrRoundNotFound = errors.New("round not found in height vote set")
)

// Vote tags as printed by cometbft in vote fingerprints.
const (
	PrevoteTag   = "SIGNED_MSG_TYPE_PREVOTE(Prevote)"
	PrecommitTag = "SIGNED_MSG_TYPE_PRECOMMIT(Precommit)"
)

type roundStateDoc struct {
	HeightRoundStep string       `json:"height/round/step"`
	HeightVoteSet   []voteSetDoc `json:"height_vote_set"`
	Proposer        *struct {
		Address string `json:"address"`
	} `json:"proposer"`
}

type voteSetDoc struct {
	Prevotes           []string `json:"prevotes"`
	PrevotesBitArray   *string  `json:"prevotes_bit_array"`
	Precommits         []string `json:"precommits"`
	PrecommitsBitArray *string  `json:"precommits_bit_array"`
}

// Parse decodes a /consensus_state result, either wrapped in "round_state"
// or the round state object itself.
func Parse(doc []byte) (Snapshot, error) {
	var wrapper struct {
		RoundState json.RawMessage `json:"round_state"`
	}
	if err := json.Unmarshal(doc, &wrapper); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	body := []byte(wrapper.RoundState)
	if len(body) == 0 {
		body = doc
	}

	var rs roundStateDoc
	if err := json.Unmarshal(body, &rs); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	height, round, step, err := ParseHeightRoundStep(rs.HeightRoundStep)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Height: height, Round: round, Step: step}
	if rs.Proposer != nil {
		snap.Proposer = validator.NormalizeAddress(rs.Proposer.Address)
	}

	if round < 0 || int(round) >= len(rs.HeightVoteSet) {
		return Snapshot{}, fmt.Errorf("%w: round %d, %d vote sets", ErrRoundNotFound, round, len(rs.HeightVoteSet))
	}
	set := rs.HeightVoteSet[round]
	if set.PrevotesBitArray == nil || set.PrecommitsBitArray == nil {
		return Snapshot{}, fmt.Errorf("%w: missing bit array in round %d", ErrMalformed, round)
	}

	if snap.PrevotePercent, err = ParseBitArray(*set.PrevotesBitArray); err != nil {
		return Snapshot{}, err
	}
	if snap.PrecommitPercent, err = ParseBitArray(*set.PrecommitsBitArray); err != nil {
		return Snapshot{}, err
	}

	var prevoteLines, precommitLines int
	snap.Prevotes, prevoteLines = parseVoteLines(set.Prevotes, PrevoteTag)
	snap.Precommits, precommitLines = parseVoteLines(set.Precommits, PrecommitTag)
	snap.OnlineValidators = prevoteLines
	if precommitLines > snap.OnlineValidators {
		snap.OnlineValidators = precommitLines
	}
	return snap, nil
}

// ParseHeightRoundStep splits "height/round/step" into its three integers.
func ParseHeightRoundStep(s string) (int64, int32, int, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: height/round/step %q", ErrMalformed, s)
	}
	height, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: height %q", ErrMalformed, parts[0])
	}
	round, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: round %q", ErrMalformed, parts[1])
	}
	step, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: step %q", ErrMalformed, parts[2])
	}
	return height, int32(round), step, nil
}

// ParseBitArray returns the completion percentage from the fraction that
// ends a bit array string, e.g. "BA{4:x_x_} 2/4 = 0.50" is 50.
func ParseBitArray(s string) (float64, error) {
	frac := s
	if i := strings.LastIndex(s, "="); i >= 0 {
		frac = s[i+1:]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(frac), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bit array %q", ErrMalformed, s)
	}
	return f * 100, nil
}

// ParseVoteLine extracts the short validator key and the vote payload from a
// vote fingerprint carrying tag. ok is false for nil votes and other lines.
func ParseVoteLine(line, tag string) (key, payload string, ok bool) {
	if !strings.Contains(line, tag) {
		return "", "", false
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", "", false
	}
	key = fields[0]
	if len(key) > validator.ShortKeyLen {
		key = key[len(key)-validator.ShortKeyLen:]
	}
	return key, fields[2], true
}

func parseVoteLines(lines []string, tag string) (map[string]string, int) {
	votes := make(map[string]string, len(lines))
	n := 0
	for _, line := range lines {
		key, payload, ok := ParseVoteLine(line, tag)
		if !ok {
			continue
		}
		votes[key] = payload
		n++
	}
	return votes, n
}
