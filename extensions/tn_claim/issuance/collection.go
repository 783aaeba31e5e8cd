// Package issuance mints one token per authorized claim.
//
// The Collection never decides who may mint. It asks an Authorizer first; the
// token ID is assigned by the claim record in the same step that sets the
// claim, so ownership survives restarts and is shared by replicas of one store.
package issuance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/trufnetwork/claimgate/extensions/tn_claim/internal/tracing"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/metrics"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/store"
)

var (
	// ErrInvalidReceiver is returned for the zero receiver address.
	ErrInvalidReceiver = errors.New("invalid receiver")

	// ErrTokenNotFound is returned for an ID that was never minted.
	ErrTokenNotFound = errors.New("token not found")
)

// Authorizer admits a requester for exactly one mint and owns the record of
// which token each claim was given.
type Authorizer interface {
	Claim(ctx context.Context, requester common.Address, signature []byte) (store.Record, error)
	HasClaimed(ctx context.Context, requester common.Address) (bool, error)
	ClaimByToken(ctx context.Context, tokenID uint64) (store.Record, bool, error)
	ClaimCount(ctx context.Context) (uint64, error)
}

// Token is a minted token.
type Token struct {
	ID    uint64
	Owner common.Address
	URI   string
}

// Transfer mirrors the ERC-721 Transfer event. Mints have a zero From.
type Transfer struct {
	From    common.Address
	To      common.Address
	TokenID uint64
}

// Option configures a Collection.
type Option func(*Collection)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Collection) {
		if logger != nil {
			c.logger = logger.Named("issuance")
		}
	}
}

func WithMetrics(recorder metrics.MetricsRecorder) Option {
	return func(c *Collection) {
		if recorder != nil {
			c.metrics = recorder
		}
	}
}

// Collection is the token ledger.
type Collection struct {
	auth    Authorizer
	baseURI string

	mu     sync.RWMutex
	events []Transfer

	logger  *zap.Logger
	metrics metrics.MetricsRecorder
}

// NewCollection builds a collection over auth's claim record. baseURI is fixed
// for its lifetime.
func NewCollection(auth Authorizer, baseURI string, opts ...Option) (*Collection, error) {
	if auth == nil {
		return nil, fmt.Errorf("authorizer cannot be nil")
	}
	c := &Collection{
		auth:    auth,
		baseURI: baseURI,
		logger:  zap.NewNop(),
		metrics: metrics.NewNoOpMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mint redeems signature for requester and returns the token its claim was
// assigned.
func (c *Collection) Mint(ctx context.Context, requester common.Address, signature []byte) (Token, error) {
	return tracing.TracedOperation(ctx, tracing.OpMint, func(ctx context.Context) (Token, error) {
		// Reject before authorizing so the zero address never consumes a claim.
		if requester == (common.Address{}) {
			c.metrics.RecordAuthorizeRejected(ctx, metrics.ReasonInvalidReceiver)
			return Token{}, ErrInvalidReceiver
		}

		rec, err := c.auth.Claim(ctx, requester, signature)
		if err != nil {
			return Token{}, err
		}

		c.mu.Lock()
		c.events = append(c.events, Transfer{To: requester, TokenID: rec.TokenID})
		c.mu.Unlock()

		c.metrics.RecordTokenMinted(ctx, rec.TokenID)
		c.logger.Info("token minted",
			zap.String("owner", requester.Hex()),
			zap.Uint64("token_id", rec.TokenID))

		return Token{ID: rec.TokenID, Owner: requester, URI: c.tokenURI(rec.TokenID)}, nil
	}, attribute.String("requester", requester.Hex()))
}

// HasMinted reports whether requester has already claimed its token.
func (c *Collection) HasMinted(ctx context.Context, requester common.Address) (bool, error) {
	return c.auth.HasClaimed(ctx, requester)
}

// OwnerOf returns the owner of token id.
func (c *Collection) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	rec, found, err := c.auth.ClaimByToken(ctx, id)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "look up token %d", id)
	}
	if !found {
		return common.Address{}, errors.Wrapf(ErrTokenNotFound, "token %d", id)
	}
	return rec.Requester, nil
}

// Token returns the minted token with the given id.
func (c *Collection) Token(ctx context.Context, id uint64) (Token, error) {
	owner, err := c.OwnerOf(ctx, id)
	if err != nil {
		return Token{}, err
	}
	return Token{ID: id, Owner: owner, URI: c.tokenURI(id)}, nil
}

// TokenURI returns baseURI followed by the decimal token id.
func (c *Collection) TokenURI(ctx context.Context, id uint64) (string, error) {
	if _, err := c.OwnerOf(ctx, id); err != nil {
		return "", err
	}
	return c.tokenURI(id), nil
}

// BaseURI returns the metadata prefix.
func (c *Collection) BaseURI() string { return c.baseURI }

// TotalSupply returns the number of minted tokens.
func (c *Collection) TotalSupply(ctx context.Context) (uint64, error) {
	return c.auth.ClaimCount(ctx)
}

// Events returns a copy of the transfers this process emitted, in mint order.
func (c *Collection) Events() []Transfer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Transfer(nil), c.events...)
}

func (c *Collection) tokenURI(id uint64) string {
	if c.baseURI == "" {
		return ""
	}
	return c.baseURI + strconv.FormatUint(id, 10)
}
