// Package chain talks to the node: CometBFT RPC and the Cosmos staking/upgrade queries.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/sethvargo/go-retry"
)

// ErrUnavailable is returned for any failed transport call.
var ErrUnavailable = errors.New("unavailable")

const (
	defaultTimeout = 10 * time.Second

	validatorsPath  = "/cosmos.staking.v1beta1.Query/Validators"
	currentPlanPath = "/cosmos.upgrade.v1beta1.Query/CurrentPlan"
	bondedStatus    = "BOND_STATUS_BONDED"
	validatorsLimit = 1000
)

// Client is the transport used by both pipelines.
// Staking and upgrade data come from the REST API when appURL is set and
// from abci_query otherwise.
type Client struct {
	rpc    *rpchttp.HTTP
	appURL string
	http   *http.Client
	log    log.Logger
}

func New(rpcURL, appURL string, logger log.Logger) (*Client, error) {
	// rpchttp.New takes RPC base URL and WS path separately
	c, err := rpchttp.NewWithTimeout(rpcURL, "/websocket", uint(defaultTimeout/time.Second))
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return &Client{
		rpc:    c,
		appURL: strings.TrimSuffix(appURL, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		log:    logger.With("module", "chain"),
	}, nil
}

// Status returns the node /status.
func (c *Client) Status(ctx context.Context) (*rpccoretypes.ResultStatus, error) {
	st, err := c.rpc.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrUnavailable, err)
	}
	return st, nil
}

// StatusWithRetry polls /status up to retries extra times, interval apart.
func (c *Client) StatusWithRetry(ctx context.Context, retries uint64, interval time.Duration) (*rpccoretypes.ResultStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	backoff := retry.NewConstant(interval)
	var st *rpccoretypes.ResultStatus
	err := retry.Do(ctx, retry.WithMaxRetries(retries, backoff), func(ctx context.Context) error {
		var err error
		st, err = c.Status(ctx)
		if err != nil {
			c.log.Error("RPC status check failed, retrying", "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	return st, err
}

// ConsensusState returns the /consensus_state result document,
// {"round_state": {...}}, as received.
func (c *Client) ConsensusState(ctx context.Context) (json.RawMessage, error) {
	res, err := c.rpc.ConsensusState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: consensus_state: %v", ErrUnavailable, err)
	}
	doc, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode consensus_state: %w", err)
	}
	return doc, nil
}

func (c *Client) abciQuery(ctx context.Context, path string, data []byte) ([]byte, error) {
	res, err := c.rpc.ABCIQuery(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: abci_query %s: %v", ErrUnavailable, path, err)
	}
	if res.Response.Code != 0 {
		return nil, fmt.Errorf("%w: abci_query %s returned code %d: %s", ErrUnavailable, path, res.Response.Code, res.Response.Log)
	}
	if len(res.Response.Value) == 0 {
		return nil, fmt.Errorf("%w: abci_query %s returned an empty value", ErrUnavailable, path)
	}
	return res.Response.Value, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: request to %s failed with status code %d", ErrUnavailable, url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, url, err)
	}
	return nil
}
