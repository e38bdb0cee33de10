// Package validator holds the bonded validator roster keyed by consensus address.
package validator

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // consensus addresses are defined with RIPEMD160
)

// ConsensusAddress derives the uppercase hex consensus address
// RIPEMD160(SHA256(pubKey)) used to key validators in consensus messages.
func ConsensusAddress(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	h := ripemd160.New()
	h.Write(sum[:])
	return fmt.Sprintf("%X", h.Sum(nil))
}

// NormalizeAddress uppercases a hex address and strips a 0x prefix.
func NormalizeAddress(addr string) string {
	return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(addr)), "0X")
}

// RawValidator is a bonded validator as reported by the staking module.
type RawValidator struct {
	PubKey          []byte
	Moniker         string
	OperatorAddress string
	Tokens          string
}

// Validator is a roster entry.
type Validator struct {
	Address         string
	Moniker         string
	OperatorAddress string
	PubKey          []byte
	Tokens          *big.Int
	PowerShare      float64 // percent of the bonded tokens in the roster
}

// PubKeyBase64 returns the consensus public key the way the staking API prints it.
func (v Validator) PubKeyBase64() string {
	return base64.StdEncoding.EncodeToString(v.PubKey)
}

// ShortAddress is the 12 character prefix cometbft prints in vote fingerprints.
func (v Validator) ShortAddress() string {
	if len(v.Address) <= ShortKeyLen {
		return v.Address
	}
	return v.Address[:ShortKeyLen]
}

// ShortKeyLen is the length of the address fingerprint in consensus_state vote lines.
const ShortKeyLen = 12

func parseTokens(s string) *big.Int {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return new(big.Int)
	}
	return n
}
