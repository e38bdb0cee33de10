package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"consensus-observer/internal/validator"
)

var _ validator.Source = (*Client)(nil)

type restValidatorsResp struct {
	Validators []struct {
		OperatorAddress string `json:"operator_address"`
		ConsensusPubkey struct {
			Type string `json:"@type"`
			Key  string `json:"key"`
		} `json:"consensus_pubkey"`
		Tokens      string `json:"tokens"`
		Description struct {
			Moniker string `json:"moniker"`
		} `json:"description"`
	} `json:"validators"`
	Pagination struct {
		NextKey string `json:"next_key"`
	} `json:"pagination"`
}

// BondedValidators returns the bonded validator set.
func (c *Client) BondedValidators(ctx context.Context) ([]validator.RawValidator, error) {
	if c.appURL != "" {
		return c.restValidators(ctx)
	}
	return c.abciValidators(ctx)
}

func (c *Client) restValidators(ctx context.Context) ([]validator.RawValidator, error) {
	var (
		out     []validator.RawValidator
		nextKey string
	)
	for {
		q := url.Values{}
		q.Set("status", bondedStatus)
		q.Set("pagination.limit", strconv.Itoa(validatorsLimit))
		if nextKey != "" {
			q.Set("pagination.key", nextKey)
		}
		var payload restValidatorsResp
		if err := c.getJSON(ctx, c.appURL+"/cosmos/staking/v1beta1/validators?"+q.Encode(), &payload); err != nil {
			return nil, err
		}

		for _, v := range payload.Validators {
			rv := validator.RawValidator{
				Moniker:         v.Description.Moniker,
				OperatorAddress: v.OperatorAddress,
				Tokens:          v.Tokens,
			}
			if v.ConsensusPubkey.Key != "" {
				pk, err := base64.StdEncoding.DecodeString(v.ConsensusPubkey.Key)
				if err != nil {
					c.log.Error("Invalid consensus pubkey encoding", "valoper", v.OperatorAddress, "err", err)
				} else {
					rv.PubKey = pk
				}
			}
			out = append(out, rv)
		}

		if payload.Pagination.NextKey == "" || payload.Pagination.NextKey == nextKey {
			return out, nil
		}
		nextKey = payload.Pagination.NextKey
	}
}

func (c *Client) abciValidators(ctx context.Context) ([]validator.RawValidator, error) {
	var (
		out     []validator.RawValidator
		nextKey []byte
	)
	for {
		value, err := c.abciQuery(ctx, validatorsPath, encodeValidatorsRequest(bondedStatus, nextKey, validatorsLimit))
		if err != nil {
			return nil, err
		}
		page, key, err := decodeValidatorsResponse(value)
		if err != nil {
			return nil, fmt.Errorf("decode validators response: %w", err)
		}
		out = append(out, page...)
		if len(key) == 0 || string(key) == string(nextKey) {
			return out, nil
		}
		nextKey = key
	}
}

// UpgradePlan is a scheduled software upgrade.
type UpgradePlan struct {
	Name   string
	Height int64
	Info   string
}

// UpgradePlan returns the pending upgrade, nil when none is scheduled.
func (c *Client) UpgradePlan(ctx context.Context) (*UpgradePlan, error) {
	if c.appURL != "" {
		var payload struct {
			Plan *struct {
				Name   string `json:"name"`
				Height string `json:"height"`
				Info   string `json:"info"`
			} `json:"plan"`
		}
		if err := c.getJSON(ctx, c.appURL+"/cosmos/upgrade/v1beta1/current_plan", &payload); err != nil {
			return nil, err
		}
		if payload.Plan == nil {
			return nil, nil
		}
		height, _ := strconv.ParseInt(payload.Plan.Height, 10, 64)
		return &UpgradePlan{Name: payload.Plan.Name, Height: height, Info: payload.Plan.Info}, nil
	}

	res, err := c.rpc.ABCIQuery(ctx, currentPlanPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: abci_query %s: %v", ErrUnavailable, currentPlanPath, err)
	}
	if res.Response.Code != 0 {
		return nil, fmt.Errorf("%w: abci_query %s returned code %d: %s", ErrUnavailable, currentPlanPath, res.Response.Code, res.Response.Log)
	}
	// an empty value is an empty response: no plan
	return decodeCurrentPlanResponse(res.Response.Value)
}
