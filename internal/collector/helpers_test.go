package collector

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"consensus-observer/internal/config"
	"consensus-observer/internal/store"
	"consensus-observer/internal/validator"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	vals  []validator.RawValidator
	err   error
	calls int
}

func (f *fakeSource) BondedValidators(context.Context) ([]validator.RawValidator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.vals, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func key(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b + byte(i)
	}
	return k
}

func addr(b byte) string { return validator.ConsensusAddress(key(b)) }

func threeValidators() *fakeSource {
	return &fakeSource{vals: []validator.RawValidator{
		{PubKey: key(1), Moniker: "alpha", OperatorAddress: "valoper1", Tokens: "500"},
		{PubKey: key(2), Moniker: "beta", OperatorAddress: "valoper2", Tokens: "300"},
		{PubKey: key(3), Moniker: "gamma", OperatorAddress: "valoper3", Tokens: "200"},
	}}
}

func loadedDirectory(t *testing.T, src validator.Source) *validator.Directory {
	t.Helper()
	dir := validator.NewDirectory(src, log.NewNopLogger())
	require.NoError(t, dir.Refresh(context.Background()))
	return dir
}

func testConfig(t *testing.T, target int64) config.Config {
	t.Helper()
	return config.Config{
		WSURL:        "ws://node.invalid:26657/websocket",
		TargetHeight: target,
		ResultDir:    t.TempDir(),
	}
}

func readJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func readRoundState(t *testing.T, fs *store.FileStore, height int64) *store.RoundState {
	t.Helper()
	state, err := fs.LoadRoundState(height)
	require.NoError(t, err)
	return state
}
