package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	sets  [][]RawValidator
	errs  []error
	calls int
}

func (f *fakeSource) BondedValidators(context.Context) ([]RawValidator, error) {
	i := f.calls
	f.calls++
	if i >= len(f.sets) {
		i = len(f.sets) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.sets[i], err
}

func key(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b + byte(i)
	}
	return k
}

func TestConsensusAddress(t *testing.T) {
	pk := make([]byte, 32)
	for i := range pk {
		pk[i] = byte(i)
	}
	assert.Equal(t, "EA4BEB47DEF8492389A1E16634795441E1B87245", ConsensusAddress(pk))
	assert.Equal(t, "B472A266D0BD89C13706A4132CCFB16F7C3B9FCB", ConsensusAddress(nil))
	assert.Equal(t, ConsensusAddress(pk), ConsensusAddress(append([]byte(nil), pk...)), "derivation must be deterministic")
}

func TestRefreshSkipsMissingKeys(t *testing.T) {
	src := &fakeSource{sets: [][]RawValidator{{
		{PubKey: key(1), Moniker: "alpha", OperatorAddress: "valoper1", Tokens: "300"},
		{PubKey: nil, Moniker: "broken"},
		{PubKey: key(2), Moniker: "", OperatorAddress: "valoper2", Tokens: "100"},
	}}}
	d := NewDirectory(src, log.NewNopLogger())
	require.NoError(t, d.Refresh(context.Background()))

	assert.Equal(t, 2, d.Len())
	v, ok := d.Lookup(ConsensusAddress(key(1)))
	require.True(t, ok)
	assert.Equal(t, "alpha", v.Moniker)
	assert.InDelta(t, 75.0, v.PowerShare, 1e-9)

	v, ok = d.Lookup("0x" + ConsensusAddress(key(2)))
	require.True(t, ok)
	assert.Equal(t, "N/A", v.Moniker)

	vals := d.Validators()
	require.Len(t, vals, 2)
	assert.Equal(t, "alpha", vals[0].Moniker, "ordered by power")
}

func TestFailedRefreshKeepsRoster(t *testing.T) {
	src := &fakeSource{
		sets: [][]RawValidator{
			{{PubKey: key(1), Moniker: "alpha", Tokens: "1"}},
			nil,
			{},
			{{PubKey: nil, Moniker: "nokey"}},
		},
		errs: []error{nil, errors.New("unavailable")},
	}
	d := NewDirectory(src, log.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, d.Refresh(ctx))

	assert.Error(t, d.Refresh(ctx))
	assert.ErrorIs(t, d.Refresh(ctx), ErrEmptyValidatorSet)
	assert.ErrorIs(t, d.Refresh(ctx), ErrEmptyValidatorSet)

	_, ok := d.Lookup(ConsensusAddress(key(1)))
	assert.True(t, ok)
}

func TestRefreshReplacesRoster(t *testing.T) {
	src := &fakeSource{sets: [][]RawValidator{
		{{PubKey: key(1), Moniker: "alpha"}},
		{{PubKey: key(2), Moniker: "beta"}},
	}}
	d := NewDirectory(src, log.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, d.Refresh(ctx))
	require.NoError(t, d.Refresh(ctx))

	_, ok := d.Lookup(ConsensusAddress(key(1)))
	assert.False(t, ok, "validators absent from a fresh fetch disappear")
	_, ok = d.Lookup(ConsensusAddress(key(2)))
	assert.True(t, ok)
}

func TestResolveRefreshesOnce(t *testing.T) {
	src := &fakeSource{sets: [][]RawValidator{
		{{PubKey: key(1), Moniker: "alpha"}},
		{{PubKey: key(1), Moniker: "alpha"}, {PubKey: key(2), Moniker: "beta"}},
	}}
	d := NewDirectory(src, log.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, d.Refresh(ctx))

	v, ok := d.Resolve(ctx, ConsensusAddress(key(2)))
	require.True(t, ok)
	assert.Equal(t, "beta", v.Moniker)
	assert.Equal(t, 2, src.calls)

	_, ok = d.Resolve(ctx, "DEADBEEF")
	assert.False(t, ok)
	assert.Equal(t, 3, src.calls, "exactly one refresh per miss")
}
