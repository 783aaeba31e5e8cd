package tn_claim

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/trufnetwork/claimgate/extensions/tn_claim/chain"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/internal/tracing"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/metrics"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/store"
)

// Settings are the immutable inputs of a Guard.
type Settings struct {
	// Authority is the only identity whose attestations are accepted.
	Authority common.Address
	// Contract is this deployment's identity, bound into every attestation.
	Contract common.Address
	// Network supplies the live chain ID at verification time.
	Network chain.Source
	// Claims is the claim record. The guard is its only writer.
	Claims store.Store
}

// Option configures optional Guard dependencies.
type Option func(*Guard)

// WithLogger sets the guard logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger.Named(ExtensionName)
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder metrics.MetricsRecorder) Option {
	return func(g *Guard) {
		if recorder != nil {
			g.metrics = recorder
		}
	}
}

// Guard decides whether a requester may trigger one issuance.
// Authority and contract are fixed at construction and have no setters.
type Guard struct {
	authority common.Address
	contract  common.Address
	network   chain.Source
	claims    store.Store

	logger  *zap.Logger
	metrics metrics.MetricsRecorder
	now     func() time.Time
}

// NewGuard validates settings and builds a Guard.
func NewGuard(settings Settings, opts ...Option) (*Guard, error) {
	if settings.Authority == (common.Address{}) {
		return nil, fmt.Errorf("trusted authority cannot be the zero address")
	}
	if settings.Network == nil {
		return nil, fmt.Errorf("network source cannot be nil")
	}
	if settings.Claims == nil {
		return nil, fmt.Errorf("claim store cannot be nil")
	}

	g := &Guard{
		authority: settings.Authority,
		contract:  settings.Contract,
		network:   settings.Network,
		claims:    settings.Claims,
		logger:    zap.NewNop(),
		metrics:   metrics.NewNoOpMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authority returns the trusted authority identity.
func (g *Guard) Authority() common.Address { return g.authority }

// Contract returns the contract identity bound into attestations.
func (g *Guard) Contract() common.Address { return g.contract }

// ChainID returns the live network identifier.
func (g *Guard) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := g.network.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return id, nil
}

// HasClaimed reports whether requester has already redeemed an attestation.
func (g *Guard) HasClaimed(ctx context.Context, requester common.Address) (bool, error) {
	return g.claims.HasClaimed(ctx, requester)
}

// ClaimByToken returns the claim record that was assigned tokenID.
func (g *Guard) ClaimByToken(ctx context.Context, tokenID uint64) (store.Record, bool, error) {
	return g.claims.Token(ctx, tokenID)
}

// ClaimCount returns the number of redeemed attestations.
func (g *Guard) ClaimCount(ctx context.Context) (uint64, error) {
	return g.claims.Count(ctx)
}

// Authorize admits requester for exactly one issuance if signature is the
// authority's attestation for (requester, live chain ID, contract).
//
// It returns nil only after the claim record for requester has been set. Any
// error leaves the record untouched, so a corrected signature can be resubmitted.
func (g *Guard) Authorize(ctx context.Context, requester common.Address, signature []byte) error {
	_, err := g.Claim(ctx, requester, signature)
	return err
}

// Claim is Authorize, returning the record it set. The record carries the
// token ID assigned to requester.
func (g *Guard) Claim(ctx context.Context, requester common.Address, signature []byte) (rec store.Record, err error) {
	start := g.now()
	ctx, end := tracing.TraceOp(ctx, tracing.OpAuthorize, attribute.String("requester", requester.Hex()))
	defer func() { end(err) }()

	g.metrics.RecordAuthorizeAttempt(ctx)
	log := g.logger.With(zap.String("requester", requester.Hex()))

	claimed, err := g.claims.HasClaimed(ctx, requester)
	if err != nil {
		return store.Record{}, g.fail(ctx, log, errors.Wrap(err, "check claim record"))
	}
	if claimed {
		return store.Record{}, g.reject(ctx, log, metrics.ReasonAlreadyClaimed, ErrAlreadyClaimed)
	}

	chainID, err := g.ChainID(ctx)
	if err != nil {
		return store.Record{}, g.fail(ctx, log, err)
	}

	if err := VerifyAttestation(g.authority, requester, chainID, g.contract, signature); err != nil {
		if !errors.Is(err, ErrInvalidSignature) {
			return store.Record{}, g.fail(ctx, log, err)
		}
		return store.Record{}, g.reject(ctx, log, metrics.ReasonInvalidSignature, err)
	}

	rec, set, err := g.claims.MarkClaimed(ctx, requester)
	if err != nil {
		return store.Record{}, g.fail(ctx, log, errors.Wrap(err, "mark claim record"))
	}
	if !set {
		// A concurrent attempt for the same requester won the compare-and-set.
		return store.Record{}, g.reject(ctx, log, metrics.ReasonAlreadyClaimed, ErrAlreadyClaimed)
	}

	g.metrics.RecordAuthorizeSuccess(ctx, g.now().Sub(start))
	log.Info("claim authorized",
		zap.String("chain_id", chainID.String()),
		zap.Uint64("token_id", rec.TokenID))
	return rec, nil
}

func (g *Guard) reject(ctx context.Context, log *zap.Logger, reason string, err error) error {
	g.metrics.RecordAuthorizeRejected(ctx, reason)
	log.Debug("claim rejected", zap.String("reason", reason), zap.Error(err))
	return err
}

func (g *Guard) fail(ctx context.Context, log *zap.Logger, err error) error {
	g.metrics.RecordAuthorizeError(ctx, classifyError(err))
	log.Warn("claim authorization failed", zap.Error(err))
	return err
}

// classifyError labels err for the authorize error counter. Sentinels are
// matched by identity before falling back to the message heuristics.
func classifyError(err error) string {
	if errors.Is(err, ErrNetworkUnavailable) {
		return metrics.ErrTypeNetworkUnavailable
	}
	return metrics.ClassifyError(err)
}
