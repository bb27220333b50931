// Package signer produces EIP-712 signatures over MMQuote orders. The
// signing key is sealed at rest in a memguard.Enclave and only opened for
// the instant of signing — the decrypted buffer never survives past the
// call that uses it.
package signer

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

// DomainName is the fixed EIP-712 domain name for all RFQ manager
// deployments; only chainId and verifyingContract vary per chain.
const DomainName = "DarkPool Pool"

// DomainVersion is the fixed EIP-712 domain version.
const DomainVersion = "1"

// mmQuoteTypes is the EIP-712 type set for the MMQuote struct, field order
// matching the protocol's struct hash exactly.
var mmQuoteTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"MMQuote": {
		{Name: "manager", Type: "address"},
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "inputToken", Type: "address"},
		{Name: "outputToken", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOut", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "extraDataHash", Type: "bytes32"},
	},
}

// Signer seals a single EOA private key and signs MMQuote typed-data
// messages on demand. Safe for concurrent use.
type Signer struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	address common.Address
}

// New seals keyBytes into an enclave and derives the signer's address.
// The caller must not retain its own copy of keyBytes after this returns;
// New does not zero the caller's slice.
func New(keyBytes []byte) (*Signer, error) {
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	return &Signer{
		enclave: memguard.NewEnclave(keyBytes),
		address: addr,
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign produces a 65-byte (r || s || v) signature over an MMQuote typed
// data message for the given chain, opening the sealed key only for the
// instant of signing.
func (s *Signer) Sign(chainID uint64, manager common.Address, quote types.MMQuote) ([]byte, error) {
	domain := apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           (*ethmath.HexOrDecimal256)(new(big.Int).SetUint64(chainID)),
		VerifyingContract: manager.Hex(),
	}

	message := apitypes.TypedDataMessage{
		"manager":       manager.Hex(),
		"from":          quote.From,
		"to":            quote.To,
		"inputToken":    quote.InputToken,
		"outputToken":   quote.OutputToken,
		"amountIn":      quote.AmountIn.String(),
		"amountOut":     quote.AmountOut.String(),
		"deadline":      fmt.Sprintf("%d", quote.Deadline),
		"nonce":         quote.Nonce.String(),
		"extraDataHash": "0x" + common.Bytes2Hex(quote.ExtraDataHash[:]),
	}

	typedData := apitypes.TypedData{
		Types:       mmQuoteTypes,
		PrimaryType: "MMQuote",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("signer: typed data hash: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enclave == nil {
		return nil, fmt.Errorf("signer: key has been destroyed")
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("signer: open enclave: %w", err)
	}
	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("signer: parse sealed key: %w", err)
	}

	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return nil, fmt.Errorf("signer: sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Destroy releases the sealed key. The Signer must not be used afterward.
func (s *Signer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}
