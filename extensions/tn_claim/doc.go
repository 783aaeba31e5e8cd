// Package tn_claim implements the authorization gate for one-time claims.
//
// A trusted authority signs an attestation for a requester address. The guard
// accepts that attestation exactly once:
// 1. Rebuilds the canonical message keccak256(requester ‖ chainID ‖ contract)
// 2. Applies the EIP-191 personal message prefix
// 3. Recovers the signer and compares it to the configured authority
// 4. Atomically marks the requester as claimed in the claim store
//
// Key components:
// - BuildMessage / SigningDigest: canonical attestation encoding
// - RecoverSigner: strict 65-byte signature recovery (low-S, V in {0,1,27,28})
// - Guard: authorization and single-use enforcement
// - AuthoritySigner: backend-side attestation signing
//
// Issuance itself lives in the issuance subpackage, which calls
// Guard.Authorize before minting.
package tn_claim
