package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/cometbft/cometbft/libs/log"
)

// ErrEmptyValidatorSet is returned when a refresh yields no usable validators.
var ErrEmptyValidatorSet = errors.New("empty validator set")

// Source fetches the bonded validator set.
type Source interface {
	BondedValidators(ctx context.Context) ([]RawValidator, error)
}

// Directory is the current bonded roster. A refresh replaces it wholesale;
// a failed refresh keeps the previous roster.
type Directory struct {
	src Source
	log log.Logger

	mu         sync.RWMutex
	validators map[string]Validator
}

func NewDirectory(src Source, logger log.Logger) *Directory {
	return &Directory{
		src:        src,
		log:        logger.With("module", "validators"),
		validators: map[string]Validator{},
	}
}

// Refresh fetches the bonded set and swaps it in.
func (d *Directory) Refresh(ctx context.Context) error {
	raw, err := d.src.BondedValidators(ctx)
	if err != nil {
		return fmt.Errorf("fetch bonded validators: %w", err)
	}
	if len(raw) == 0 {
		return ErrEmptyValidatorSet
	}

	next := make(map[string]Validator, len(raw))
	total := new(big.Int)
	for _, rv := range raw {
		if len(rv.PubKey) == 0 {
			d.log.Error("Skipping validator with missing consensus pubkey", "moniker", rv.Moniker, "valoper", rv.OperatorAddress)
			continue
		}
		moniker := rv.Moniker
		if moniker == "" {
			moniker = "N/A"
		}
		v := Validator{
			Address:         ConsensusAddress(rv.PubKey),
			Moniker:         moniker,
			OperatorAddress: rv.OperatorAddress,
			PubKey:          append([]byte(nil), rv.PubKey...),
			Tokens:          parseTokens(rv.Tokens),
		}
		next[v.Address] = v
		total.Add(total, v.Tokens)
	}
	if len(next) == 0 {
		return ErrEmptyValidatorSet
	}

	if total.Sign() > 0 {
		totalF := new(big.Float).SetInt(total)
		for addr, v := range next {
			share, _ := new(big.Float).Quo(new(big.Float).SetInt(v.Tokens), totalF).Float64()
			v.PowerShare = share * 100
			next[addr] = v
		}
	}

	d.mu.Lock()
	d.validators = next
	d.mu.Unlock()

	d.log.Info("Updated validators", "active_set", len(next))
	return nil
}

// Lookup returns the validator with the given consensus address.
func (d *Directory) Lookup(addr string) (Validator, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.validators[NormalizeAddress(addr)]
	return v, ok
}

// Resolve is Lookup with one synchronous refresh and retry on a miss.
func (d *Directory) Resolve(ctx context.Context, addr string) (Validator, bool) {
	if v, ok := d.Lookup(addr); ok {
		return v, true
	}
	if err := d.Refresh(ctx); err != nil {
		d.log.Error("Validator refresh failed", "err", err)
	}
	return d.Lookup(addr)
}

// Len is the size of the current roster.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.validators)
}

// Validators returns a copy of the roster ordered by power share, then address.
func (d *Directory) Validators() []Validator {
	d.mu.RLock()
	out := make([]Validator, 0, len(d.validators))
	for _, v := range d.validators {
		out = append(out, v)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PowerShare != out[j].PowerShare {
			return out[i].PowerShare > out[j].PowerShare
		}
		return out[i].Address < out[j].Address
	})
	return out
}
