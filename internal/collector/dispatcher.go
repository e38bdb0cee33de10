package collector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"consensus-observer/internal/validator"

	cmtjson "github.com/cometbft/cometbft/libs/json"
	"github.com/cometbft/cometbft/libs/log"
	cmttypes "github.com/cometbft/cometbft/types"
)

// ErrMalformedEvent wraps events missing the fields their kind requires.
var ErrMalformedEvent = errors.New("malformed event")

// EventQuery is the subscription query for an event kind.
func EventQuery(kind string) string {
	return fmt.Sprintf("%s='%s'", cmttypes.EventTypeKey, kind)
}

// DefaultTopics are the subscriptions of the stream pipeline.
var DefaultTopics = []string{
	EventQuery(cmttypes.EventVote),
	EventQuery(cmttypes.EventNewRoundStep),
	EventQuery(cmttypes.EventValidatorSetUpdates),
	EventQuery(cmttypes.EventNewBlock),
}

// eventKind extracts Kind from "tm.event='Kind'".
func eventKind(query string) string {
	i := strings.LastIndex(query, "=")
	return strings.Trim(strings.TrimSpace(query[i+1:]), "'")
}

type eventEnvelope struct {
	Query string          `json:"query"`
	Data  json.RawMessage `json:"data"`
}

// Dispatcher routes subscription results to the aggregator, the tracker
// and the validator directory.
type Dispatcher struct {
	dir    *validator.Directory
	votes  *Aggregator
	blocks *Tracker
	log    log.Logger
}

func NewDispatcher(dir *validator.Directory, votes *Aggregator, blocks *Tracker, logger log.Logger) *Dispatcher {
	return &Dispatcher{dir: dir, votes: votes, blocks: blocks, log: logger}
}

var _ FrameHandler = (*Dispatcher)(nil)

// HandleEvent processes one subscription result. Errors never escape:
// a bad event is logged and dropped.
func (d *Dispatcher) HandleEvent(ctx context.Context, result json.RawMessage) {
	if err := d.dispatch(ctx, result); err != nil {
		d.log.Error("An error occurred while parsing event", "err", err, "data", string(result))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, result json.RawMessage) error {
	var env eventEnvelope
	if err := json.Unmarshal(result, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind := eventKind(env.Query)
	switch kind {
	case cmttypes.EventVote, cmttypes.EventNewRoundStep, cmttypes.EventValidatorSetUpdates, cmttypes.EventNewBlock:
	default:
		d.log.Error("Received unknown event. Skipping", "event", kind)
		return nil
	}

	var data cmttypes.TMEventData
	if err := cmtjson.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", ErrMalformedEvent, kind, err)
	}

	switch kind {
	case cmttypes.EventVote:
		ev, err := voteEvent(data)
		if err != nil {
			return err
		}
		if err := d.votes.OnVote(ctx, ev); err != nil {
			d.log.Error("Dropped vote", "height", ev.Height, "round", ev.Round, "validator", ev.Validator, "err", err)
		}

	case cmttypes.EventNewRoundStep:
		rs, ok := data.(cmttypes.EventDataRoundState)
		if !ok {
			if p, okp := data.(*cmttypes.EventDataRoundState); okp && p != nil {
				rs, ok = *p, true
			}
		}
		if !ok {
			return fmt.Errorf("%w: unexpected %s data type %T", ErrMalformedEvent, kind, data)
		}
		d.log.Debug("New round step", "step", rs.Step, "round", rs.Round, "height", rs.Height)

	case cmttypes.EventValidatorSetUpdates:
		d.log.Info("ValidatorSetUpdates event received")
		if err := d.dir.Refresh(ctx); err != nil {
			d.log.Error("An error occurred while updating validators", "err", err)
		}

	case cmttypes.EventNewBlock:
		ev, err := blockEvent(data)
		if err != nil {
			return err
		}
		if _, err := d.blocks.OnBlock(ctx, ev); err != nil {
			d.log.Error("Failed to record block signatures", "height", ev.Height, "err", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func voteEvent(data cmttypes.TMEventData) (VoteEvent, error) {
	var vote *cmttypes.Vote
	switch v := data.(type) {
	case cmttypes.EventDataVote:
		vote = v.Vote
	case *cmttypes.EventDataVote:
		if v != nil {
			vote = v.Vote
		}
	default:
		return VoteEvent{}, fmt.Errorf("%w: unexpected Vote data type %T", ErrMalformedEvent, data)
	}
	if vote == nil {
		return VoteEvent{}, fmt.Errorf("%w: Vote event has nil Vote field", ErrMalformedEvent)
	}
	return VoteEvent{
		Height:    vote.Height,
		Round:     vote.Round,
		TypeCode:  int32(vote.Type),
		Validator: vote.ValidatorAddress.String(),
		Timestamp: formatTime(vote.Timestamp),
		Hash:      vote.BlockID.Hash.String(),
		Signature: base64.StdEncoding.EncodeToString(vote.Signature),
	}, nil
}

func blockEvent(data cmttypes.TMEventData) (BlockEvent, error) {
	var block *cmttypes.Block
	switch v := data.(type) {
	case cmttypes.EventDataNewBlock:
		block = v.Block
	case *cmttypes.EventDataNewBlock:
		if v != nil {
			block = v.Block
		}
	default:
		return BlockEvent{}, fmt.Errorf("%w: unexpected NewBlock data type %T", ErrMalformedEvent, data)
	}
	if block == nil || block.LastCommit == nil {
		return BlockEvent{}, fmt.Errorf("%w: NewBlock event without block or last commit", ErrMalformedEvent)
	}

	ev := BlockEvent{
		Height:     block.LastCommit.Height,
		Proposer:   block.Header.ProposerAddress.String(),
		Signatures: make([]CommitSig, 0, len(block.LastCommit.Signatures)),
	}
	for _, sig := range block.LastCommit.Signatures {
		if len(sig.ValidatorAddress) == 0 {
			continue
		}
		ev.Signatures = append(ev.Signatures, CommitSig{
			Validator: sig.ValidatorAddress.String(),
			Timestamp: formatTime(sig.Timestamp),
			Signature: base64.StdEncoding.EncodeToString(sig.Signature),
		})
	}
	return ev, nil
}
