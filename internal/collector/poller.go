package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"consensus-observer/internal/config"
	"consensus-observer/internal/consensus"
	"consensus-observer/internal/store"
	"consensus-observer/internal/validator"

	"github.com/cometbft/cometbft/libs/log"
)

// ConsensusSource returns the raw /consensus_state document.
type ConsensusSource interface {
	ConsensusState(ctx context.Context) (json.RawMessage, error)
}

// WithUpdates publishes every parsed snapshot to ch without blocking.
func WithUpdates(ch chan<- consensus.Snapshot) Option {
	return func(o *options) { o.updates = ch }
}

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// Poller is the poll pipeline: it samples the node's consensus state on a
// fixed interval.
type Poller struct {
	dir      *validator.Directory
	source   ConsensusSource
	store    store.Store
	policy   SavePolicy
	interval time.Duration
	updates  chan<- consensus.Snapshot
	log      log.Logger

	mu      sync.RWMutex
	current *consensus.Snapshot
}

// NewPoller builds the poll pipeline with its own validator directory over
// vals.
func NewPoller(cfg config.Config, vals validator.Source, cs ConsensusSource, st store.Store, logger log.Logger, opts ...Option) *Poller {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	interval := cfg.PollInterval
	if o.interval > 0 {
		interval = o.interval
	}
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	dir := validator.NewDirectory(vals, logger)
	return &Poller{
		dir:      dir,
		source:   cs,
		store:    st,
		policy:   PolicyFromConfig(cfg),
		interval: interval,
		updates:  o.updates,
		log:      logger.With("module", "poller"),
	}
}

// Directory returns the roster owned by this pipeline.
func (p *Poller) Directory() *validator.Directory { return p.dir }

// Current returns the last successfully parsed snapshot.
func (p *Poller) Current() (consensus.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return consensus.Snapshot{}, false
	}
	return *p.current, true
}

// Run loads the roster and polls until ctx is cancelled. A failed initial
// roster load is fatal.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.dir.Refresh(ctx); err != nil {
		return fmt.Errorf("initial validator load: %w", err)
	}
	p.log.Info("Starting poller", "interval", p.interval, "validators", p.dir.Len())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("An error occurred while fetching consensus state", "err", err)
		}
		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	doc, err := p.source.ConsensusState(ctx)
	if err != nil {
		return err
	}
	snap, err := consensus.Parse(doc)
	if err != nil {
		return fmt.Errorf("parse consensus state: %w", err)
	}

	if p.policy.ShouldSave(snap.Height) && p.store != nil {
		if err := p.store.SaveSnapshot(ctx, snap.Height, doc); err != nil {
			p.log.Error("Failed to save consensus state", "height", snap.Height, "err", err)
		} else {
			p.log.Debug("Saved consensus state", "height", snap.Height, "round", snap.Round)
		}
	}

	snap.Annotate(p.dir.Validators())
	p.mu.Lock()
	p.current = &snap
	p.mu.Unlock()

	p.log.Debug("Consensus state",
		"height", snap.Height,
		"round", snap.Round,
		"step", snap.Step,
		"prevotes", fmt.Sprintf("%.2f%%", snap.PrevotePercent),
		"precommits", fmt.Sprintf("%.2f%%", snap.PrecommitPercent),
		"online", snap.OnlineValidators,
	)

	if p.updates != nil {
		select {
		case p.updates <- snap:
		default:
		}
	}
	return nil
}
