package tn_claim

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *AuthoritySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewAuthoritySigner(key)
	require.NoError(t, err)
	return signer
}

func TestRecoverSigner_ValidSignature(t *testing.T) {
	signer := newTestSigner(t)

	digest, err := AttestationDigest(testRequester, testChainID, testContract)
	require.NoError(t, err)
	signature, err := signer.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, signature, SignatureLength)

	recovered, err := RecoverSigner(digest, signature)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)
}

func TestRecoverSigner_AcceptsCompactRecoveryID(t *testing.T) {
	signer := newTestSigner(t)

	digest, err := AttestationDigest(testRequester, testChainID, testContract)
	require.NoError(t, err)
	signature, err := signer.SignDigest(digest)
	require.NoError(t, err)

	signature[64] -= 27
	recovered, err := RecoverSigner(digest, signature)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)
}

func TestRecoverSigner_Malformed(t *testing.T) {
	signer := newTestSigner(t)
	digest, err := AttestationDigest(testRequester, testChainID, testContract)
	require.NoError(t, err)
	valid, err := signer.SignDigest(digest)
	require.NoError(t, err)

	withV := func(v byte) []byte {
		sig := append([]byte(nil), valid...)
		sig[64] = v
		return sig
	}

	tests := []struct {
		name      string
		signature []byte
		contains  string
	}{
		{name: "empty", signature: nil, contains: "must be 65 bytes"},
		{name: "short", signature: valid[:64], contains: "must be 65 bytes"},
		{name: "long", signature: append(append([]byte(nil), valid...), 0x00), contains: "must be 65 bytes"},
		{name: "recovery id 2", signature: withV(2), contains: "invalid recovery id"},
		{name: "recovery id 29", signature: withV(29), contains: "invalid recovery id"},
		{name: "zero r and s", signature: append(make([]byte, 64), 27), contains: "non-canonical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecoverSigner(digest, tt.signature)
			require.ErrorIs(t, err, ErrInvalidSignature)
			require.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestRecoverSigner_RejectsHighS(t *testing.T) {
	signer := newTestSigner(t)
	digest, err := AttestationDigest(testRequester, testChainID, testContract)
	require.NoError(t, err)
	signature, err := signer.SignDigest(digest)
	require.NoError(t, err)

	// (r, N-s, v^1) is the malleated twin of a valid signature and recovers the
	// same key without the low-S check.
	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(signature[32:64])
	highS := new(big.Int).Sub(n, s)

	malleated := append([]byte(nil), signature...)
	copy(malleated[32:64], common.LeftPadBytes(highS.Bytes(), 32))
	malleated[64] = ((signature[64] - 27) ^ 1) + 27

	_, err = RecoverSigner(digest, malleated)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.ErrorContains(t, err, "non-canonical")
}

func TestVerifyAttestation(t *testing.T) {
	authority := newTestSigner(t)
	impostor := newTestSigner(t)
	other := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	signature, err := authority.SignAttestation(testRequester, testChainID, testContract)
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, VerifyAttestation(authority.Address(), testRequester, testChainID, testContract, signature))
	})

	t.Run("WrongRequester", func(t *testing.T) {
		err := VerifyAttestation(authority.Address(), other, testChainID, testContract, signature)
		require.ErrorIs(t, err, ErrInvalidSignature)
		require.ErrorContains(t, err, "does not match authority")
	})

	t.Run("WrongNetwork", func(t *testing.T) {
		err := VerifyAttestation(authority.Address(), testRequester, big.NewInt(1), testContract, signature)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("WrongContract", func(t *testing.T) {
		err := VerifyAttestation(authority.Address(), testRequester, testChainID, other, signature)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("WrongAuthority", func(t *testing.T) {
		forged, err := impostor.SignAttestation(testRequester, testChainID, testContract)
		require.NoError(t, err)
		err = VerifyAttestation(authority.Address(), testRequester, testChainID, testContract, forged)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("CorruptedSignature", func(t *testing.T) {
		corrupted := append([]byte(nil), signature...)
		corrupted[10] ^= 0xFF
		corrupted[20] ^= 0xFF
		err := VerifyAttestation(authority.Address(), testRequester, testChainID, testContract, corrupted)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("InvalidChainID", func(t *testing.T) {
		err := VerifyAttestation(authority.Address(), testRequester, big.NewInt(-5), testContract, signature)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrInvalidSignature)
	})
}
