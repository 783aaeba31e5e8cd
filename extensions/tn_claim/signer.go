package tn_claim

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuthoritySigner produces attestations on behalf of the trusted authority.
// It is the backend half of the protocol: the guard only ever verifies.
type AuthoritySigner struct {
	privateKey *ecdsa.PrivateKey
	mu         sync.RWMutex
}

// NewAuthoritySigner wraps an existing secp256k1 private key.
func NewAuthoritySigner(privateKey *ecdsa.PrivateKey) (*AuthoritySigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	return &AuthoritySigner{privateKey: privateKey}, nil
}

// NewAuthoritySignerFromHex parses a hex private key, with or without 0x prefix.
func NewAuthoritySignerFromHex(hexKey string) (*AuthoritySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewAuthoritySigner(key)
}

// SignDigest signs a 32-byte digest and returns a 65-byte signature with V in {27,28}.
func (s *AuthoritySigner) SignDigest(digest common.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return nil, fmt.Errorf("private key not initialized")
	}

	signature, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	// crypto.Sign returns V in {0,1}; ethers and Solidity ecrecover use {27,28}.
	v := signature[64]
	if v >= 27 {
		v -= 27
	}
	v &= 1
	signature[64] = v + 27
	return signature, nil
}

// SignAttestation signs the prefixed canonical message for requester.
func (s *AuthoritySigner) SignAttestation(requester common.Address, chainID *big.Int, contract common.Address) ([]byte, error) {
	digest, err := AttestationDigest(requester, chainID, contract)
	if err != nil {
		return nil, fmt.Errorf("build attestation digest: %w", err)
	}
	return s.SignDigest(digest)
}

// Address returns the authority identity derived from the public key.
func (s *AuthoritySigner) Address() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(s.privateKey.PublicKey)
}
