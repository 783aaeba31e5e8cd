// Package chain supplies the network identifier that attestations are bound to.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
)

// Source returns the chain ID of the network the service is attached to.
type Source interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Static is a Source with a fixed chain ID.
type Static struct {
	id *big.Int
}

// NewStatic returns a Source that always reports id.
func NewStatic(id uint64) *Static {
	return &Static{id: new(big.Int).SetUint64(id)}
}

func (s *Static) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.id), nil
}

// chainIDReader is the ethclient call RPC depends on.
type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// RPC reads eth_chainId from a node on every call, so an attestation is only
// accepted on the network the node is currently serving.
type RPC struct {
	client     chainIDReader
	logger     *zap.Logger
	maxRetries uint64
	delay      time.Duration
	maxDelay   time.Duration
}

// RPCOption configures an RPC source.
type RPCOption func(*RPC)

// WithMaxRetries bounds the retries of a single lookup.
func WithMaxRetries(n uint64) RPCOption {
	return func(r *RPC) { r.maxRetries = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RPCOption {
	return func(r *RPC) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// DialRPC connects to an Ethereum JSON-RPC endpoint.
func DialRPC(ctx context.Context, url string, opts ...RPCOption) (*RPC, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc %s", url)
	}
	return newRPC(client, opts...), nil
}

func newRPC(client chainIDReader, opts ...RPCOption) *RPC {
	r := &RPC{
		client:     client,
		logger:     zap.NewNop(),
		maxRetries: defaultMaxRetries,
		delay:      defaultRetryDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ChainID reads eth_chainId, retrying transient failures with exponential backoff.
func (r *RPC) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			got, err := r.client.ChainID(ctx)
			if err != nil {
				return err
			}
			if got == nil || got.Sign() <= 0 {
				return retry.Unrecoverable(fmt.Errorf("node reported invalid chain id %v", got))
			}
			id = got
			return nil
		},
		retry.Attempts(uint(r.maxRetries+1)),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(r.maxDelay),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("chain id lookup failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
		retry.RetryIf(func(err error) bool {
			// Invalid ids are final; so is a caller that has given up
			return retry.IsRecoverable(err) && ctx.Err() == nil
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "read chain id after %d attempts", attempts)
	}
	return id, nil
}

// Close releases the underlying client.
func (r *RPC) Close() {
	r.client.Close()
}
