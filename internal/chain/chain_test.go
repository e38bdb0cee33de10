package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/p2p"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func bytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func encodeTestValidator(valoper, moniker, tokens string, key []byte) []byte {
	pubKey := bytesField(nil, fieldPubKeyKey, key)
	anyMsg := bytesField(nil, 1, []byte("/cosmos.crypto.ed25519.PubKey"))
	anyMsg = bytesField(anyMsg, fieldAnyValue, pubKey)
	desc := bytesField(nil, fieldDescMoniker, []byte(moniker))

	var v []byte
	v = bytesField(v, fieldValOperator, []byte(valoper))
	v = bytesField(v, fieldValConsPubkey, anyMsg)
	v = protowire.AppendTag(v, 3, protowire.VarintType) // jailed
	v = protowire.AppendVarint(v, 0)
	v = bytesField(v, fieldValTokens, []byte(tokens))
	v = bytesField(v, fieldValDescription, desc)
	return v
}

func TestDecodeValidatorsResponse(t *testing.T) {
	k1 := []byte{1, 2, 3, 4}
	k2 := []byte{9, 9, 9}

	var resp []byte
	resp = bytesField(resp, fieldRespValidators, encodeTestValidator("valoper1", "alpha", "1000", k1))
	resp = bytesField(resp, fieldRespValidators, encodeTestValidator("valoper2", "beta", "5", k2))
	resp = bytesField(resp, fieldRespPagination, bytesField(nil, fieldPageNextKey, []byte("next")))

	vals, next, err := decodeValidatorsResponse(resp)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "valoper1", vals[0].OperatorAddress)
	assert.Equal(t, "alpha", vals[0].Moniker)
	assert.Equal(t, "1000", vals[0].Tokens)
	assert.Equal(t, k1, vals[0].PubKey)
	assert.Equal(t, k2, vals[1].PubKey)
	assert.Equal(t, []byte("next"), next)

	_, _, err = decodeValidatorsResponse([]byte{0x0a, 0x05, 0x01})
	assert.Error(t, err)
}

func TestEncodeValidatorsRequest(t *testing.T) {
	req := encodeValidatorsRequest(bondedStatus, []byte("k"), 1000)

	var (
		status string
		key    []byte
		limit  uint64
	)
	err := walkFields(req, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		switch num {
		case fieldReqStatus:
			status = string(raw)
		case fieldReqPagination:
			return walkFields(raw, func(num protowire.Number, typ protowire.Type, raw []byte, v uint64) error {
				switch num {
				case fieldPageKey:
					key = raw
				case fieldPageLimit:
					limit = v
				}
				return nil
			})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, bondedStatus, status)
	assert.Equal(t, []byte("k"), key)
	assert.Equal(t, uint64(1000), limit)
}

func TestDecodeCurrentPlan(t *testing.T) {
	plan, err := decodeCurrentPlanResponse(nil)
	require.NoError(t, err)
	assert.Nil(t, plan)

	var p []byte
	p = bytesField(p, fieldPlanName, []byte("v2"))
	p = protowire.AppendTag(p, fieldPlanHeight, protowire.VarintType)
	p = protowire.AppendVarint(p, 123456)
	p = bytesField(p, fieldPlanInfo, []byte("binaries"))

	plan, err = decodeCurrentPlanResponse(bytesField(nil, fieldPlan, p))
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, UpgradePlan{Name: "v2", Height: 123456, Info: "binaries"}, *plan)
}

func TestRESTBondedValidatorsPaginates(t *testing.T) {
	pk := base64.StdEncoding.EncodeToString([]byte{7, 7, 7})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cosmos/staking/v1beta1/validators", r.URL.Path)
		assert.Equal(t, bondedStatus, r.URL.Query().Get("status"))
		if r.URL.Query().Get("pagination.key") == "" {
			fmt.Fprintf(w, `{"validators":[{"operator_address":"valoper1","consensus_pubkey":{"@type":"/cosmos.crypto.ed25519.PubKey","key":%q},"tokens":"10","description":{"moniker":"alpha"}}],"pagination":{"next_key":"cGFnZTI="}}`, pk)
			return
		}
		assert.Equal(t, "cGFnZTI=", r.URL.Query().Get("pagination.key"))
		fmt.Fprint(w, `{"validators":[{"operator_address":"valoper2","consensus_pubkey":{"key":""},"tokens":"5","description":{"moniker":"nokey"}}],"pagination":{"next_key":null}}`)
	}))
	defer srv.Close()

	c, err := New("http://127.0.0.1:1", srv.URL, log.NewNopLogger())
	require.NoError(t, err)

	vals, err := c.BondedValidators(context.Background())
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, []byte{7, 7, 7}, vals[0].PubKey)
	assert.Equal(t, "alpha", vals[0].Moniker)
	assert.Empty(t, vals[1].PubKey)
}

func TestRESTUpgradePlan(t *testing.T) {
	body := `{"plan":null}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c, err := New("http://127.0.0.1:1", srv.URL, log.NewNopLogger())
	require.NoError(t, err)

	plan, err := c.UpgradePlan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, plan)

	body = `{"plan":{"name":"v3","height":"900","info":""}}`
	plan, err = c.UpgradePlan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, int64(900), plan.Height)
}

func TestRESTFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New("http://127.0.0.1:1", srv.URL, log.NewNopLogger())
	require.NoError(t, err)

	_, err = c.BondedValidators(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStatusWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpctypes.RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "status", req.Method)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := rpctypes.NewRPCSuccessResponse(req.ID, &rpccoretypes.ResultStatus{
			NodeInfo: p2p.DefaultNodeInfo{Network: "testchain-1"},
			SyncInfo: rpccoretypes.SyncInfo{LatestBlockHeight: 42},
		})
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "", log.NewNopLogger())
	require.NoError(t, err)

	st, err := c.StatusWithRetry(context.Background(), 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "testchain-1", st.NodeInfo.Network)
	assert.Equal(t, int64(42), st.SyncInfo.LatestBlockHeight)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-100)
	_, err = c.StatusWithRetry(context.Background(), 2, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(-97), calls.Load())
}
