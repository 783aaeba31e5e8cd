package tn_claim

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverSigner returns the address that produced signature over digest.
//
// Recovery steps:
// 1. Require a 65-byte [R || S || V] signature
// 2. Normalise V from {27,28} to the compact {0,1} form
// 3. Reject out-of-range R/S and high-S (malleable) encodings
// 4. Recover the public key and derive its address
//
// All failures wrap ErrInvalidSignature.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			ErrInvalidSignature, SignatureLength, len(signature))
	}

	normSignature := append([]byte(nil), signature...)
	recoveryID, err := toCompactRecoveryID(normSignature[64])
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	normSignature[64] = recoveryID

	r := new(big.Int).SetBytes(normSignature[:32])
	s := new(big.Int).SetBytes(normSignature[32:64])
	if !crypto.ValidateSignatureValues(recoveryID, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: non-canonical signature values", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normSignature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: recover public key: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyAttestation checks that signature is the authority's attestation for
// requester on the given chain and contract. It touches no claim state.
func VerifyAttestation(authority, requester common.Address, chainID *big.Int, contract common.Address, signature []byte) error {
	digest, err := AttestationDigest(requester, chainID, contract)
	if err != nil {
		return fmt.Errorf("build attestation digest: %w", err)
	}

	signer, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}

	if signer != authority {
		return fmt.Errorf("%w: recovered signer %s does not match authority %s",
			ErrInvalidSignature, signer.Hex(), authority.Hex())
	}
	return nil
}

func toCompactRecoveryID(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v, nil
	case 27, 28:
		return v - 27, nil
	default:
		return 0, fmt.Errorf("invalid recovery id %d", v)
	}
}
