package tn_claim

const (
	// ExtensionName is used for logger naming, metric prefixes and config namespace.
	ExtensionName = "tn_claim"

	// SignatureLength is the size of an [R || S || V] secp256k1 signature.
	SignatureLength = 65

	// packedMessageLength is address(20) + uint256(32) + address(20).
	packedMessageLength = 20 + 32 + 20
)
