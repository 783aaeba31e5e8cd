package tn_claim

import "github.com/pkg/errors"

var (
	// ErrInvalidSignature is returned when the signature is malformed or was not
	// produced by the trusted authority over the canonical message.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAlreadyClaimed is returned when the requester has already redeemed an attestation.
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrNetworkUnavailable is returned when the live chain ID cannot be read.
	// The attempt leaves no state behind and may be retried.
	ErrNetworkUnavailable = errors.New("network unavailable")
)
