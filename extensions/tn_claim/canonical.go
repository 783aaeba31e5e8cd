package tn_claim

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// maxUint256 bounds the chain ID so it always fits the fixed 32-byte slot.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PackMessage returns the tightly packed attestation preimage.
//
// Layout (matches abi.encodePacked(address, uint256, address)):
//
//	20 bytes  requester
//	32 bytes  chain ID (big-endian, left-padded)
//	20 bytes  contract
//
// Every field is fixed width, so no two distinct inputs share a preimage.
func PackMessage(requester common.Address, chainID *big.Int, contract common.Address) ([]byte, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id cannot be nil")
	}
	if chainID.Sign() < 0 {
		return nil, fmt.Errorf("chain id cannot be negative: %s", chainID)
	}
	if chainID.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("chain id exceeds uint256: %s", chainID)
	}

	packed := make([]byte, 0, packedMessageLength)
	packed = append(packed, requester.Bytes()...)
	packed = append(packed, common.LeftPadBytes(chainID.Bytes(), 32)...)
	packed = append(packed, contract.Bytes()...)
	return packed, nil
}

// BuildMessage computes keccak256 over the packed (requester, chainID, contract)
// triple. This is the value the authority signs, before the EIP-191 prefix.
func BuildMessage(requester common.Address, chainID *big.Int, contract common.Address) (common.Hash, error) {
	packed, err := PackMessage(requester, chainID, contract)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// SigningDigest wraps the message with the "\x19Ethereum Signed Message:\n32"
// prefix and hashes it, yielding the digest that signatures are recovered from.
func SigningDigest(message common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(message.Bytes()))
}

// AttestationDigest is BuildMessage followed by SigningDigest.
func AttestationDigest(requester common.Address, chainID *big.Int, contract common.Address) (common.Hash, error) {
	msg, err := BuildMessage(requester, chainID, contract)
	if err != nil {
		return common.Hash{}, err
	}
	return SigningDigest(msg), nil
}
