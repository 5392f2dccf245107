// Package signature issues the purchase authorizations checked by the sale
// contract's buy() function.
package signature

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrBadSignature is returned when a signature cannot be decoded or recovered.
	ErrBadSignature = errors.New("invalid signature")

	// ErrBadAddress is returned for strings that are not hex Ethereum addresses.
	ErrBadAddress = errors.New("invalid address")
)

// NonceSource hands out nonces per wallet. Reserving again with the same
// claimID returns the same nonce.
type NonceSource interface {
	ReserveNonce(ctx context.Context, wallet, claimID string) (uint64, error)
}

// Authorization is the tuple the contract verifies.
type Authorization struct {
	Wallet     common.Address
	Nonce      uint64
	Contract   common.Address
	Allocation int64
}

// authArgs mirrors abi.encode(address, uint256, address, uint256).
var authArgs = func() abi.Arguments {
	address, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: address}, {Type: uint256}, {Type: address}, {Type: uint256}}
}()

// Encode returns the ABI encoding of a.
func (a Authorization) Encode() ([]byte, error) {
	if a.Allocation < 0 {
		return nil, fmt.Errorf("negative allocation %d", a.Allocation)
	}
	return authArgs.Pack(a.Wallet, new(big.Int).SetUint64(a.Nonce), a.Contract, big.NewInt(a.Allocation))
}

// Digest is keccak256(abi.encode(...)).
func (a Authorization) Digest() (common.Hash, error) {
	encoded, err := a.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// MessageHash is the EIP-191 personal message hash of Digest, the value that
// is actually signed.
func (a Authorization) MessageHash() ([]byte, error) {
	digest, err := a.Digest()
	if err != nil {
		return nil, err
	}
	return accounts.TextHash(digest.Bytes()), nil
}

// Signer signs authorizations with a secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner loads a hex private key, with or without 0x.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return newSigner(key), nil
}

// GenerateSigner creates a signer with a random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return newSigner(key), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address is the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// KeyID identifies the key in logs and responses.
func (s *Signer) KeyID() string {
	return s.address.Hex()
}

// Sign returns a 0x-prefixed 65 byte signature with V in {27, 28}.
func (s *Signer) Sign(a Authorization) (string, error) {
	hash, err := a.MessageHash()
	if err != nil {
		return "", fmt.Errorf("hash authorization: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover returns the address that produced sig over a.
func Recover(a Authorization, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(raw))
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	hash, err := a.MessageHash()
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over a was produced by signer.
func Verify(a Authorization, sig string, signer common.Address) (bool, error) {
	got, err := Recover(a, sig)
	if err != nil {
		return false, err
	}
	return got == signer, nil
}

// ParseAddress validates and parses a hex Ethereum address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w %q", ErrBadAddress, s)
	}
	return common.HexToAddress(s), nil
}
