package collector

import (
	"context"
	"fmt"
	"time"

	"consensus-observer/internal/config"
	"consensus-observer/internal/consensus"
	"consensus-observer/internal/store"
	"consensus-observer/internal/validator"

	"github.com/cometbft/cometbft/libs/log"
)

// Option configures a Collector or a Poller.
type Option func(*options)

type options struct {
	dialer   Dialer
	onState  func(StreamState)
	updates  chan<- consensus.Snapshot
	interval time.Duration // 0 keeps the config value
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithStateHook observes stream state transitions.
func WithStateHook(fn func(StreamState)) Option {
	return func(o *options) { o.onState = fn }
}

// Collector is the stream pipeline: it keeps the live event subscription
// open and feeds votes and finalized blocks into the store.
type Collector struct {
	cfg    config.Config
	dir    *validator.Directory
	stream *Stream
	log    log.Logger
}

// NewCollector builds the stream pipeline with its own validator directory
// over src.
func NewCollector(cfg config.Config, src validator.Source, st store.Store, logger log.Logger, opts ...Option) *Collector {
	o := options{dialer: WebsocketDialer{}}
	for _, opt := range opts {
		opt(&o)
	}

	dir := validator.NewDirectory(src, logger)
	logger = logger.With("module", "collector")
	policy := PolicyFromConfig(cfg)
	votes := NewAggregator(dir, st, policy, logger)
	blocks := NewTracker(dir, st, policy, logger)
	dispatcher := NewDispatcher(dir, votes, blocks, logger)
	stream := NewStream(cfg.WSURL, DefaultTopics, o.dialer, dispatcher, logger.With("component", "stream"))
	stream.OnStateChange = o.onState

	return &Collector{
		cfg:    cfg,
		dir:    dir,
		stream: stream,
		log:    logger,
	}
}

// Directory returns the roster owned by this pipeline.
func (c *Collector) Directory() *validator.Directory { return c.dir }

// Run loads the validator roster and then receives events until ctx is
// cancelled. A failed initial roster load is fatal.
func (c *Collector) Run(ctx context.Context) error {
	if c.dir.Len() == 0 {
		if err := c.dir.Refresh(ctx); err != nil {
			return fmt.Errorf("initial validator load: %w", err)
		}
	}
	c.log.Info("Starting collector", "url", c.cfg.WSURL, "validators", c.dir.Len(), "target", c.cfg.TargetHeight)
	return c.stream.Run(ctx)
}
