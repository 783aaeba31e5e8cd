// Package store persists the per-requester claim record.
//
// A record moves from unclaimed to claimed exactly once and is never reset.
// MarkClaimed is the only writer and must be an atomic compare-and-set: of any
// number of concurrent calls for the same requester, exactly one returns true.
// The token ID is written with the claim, so a restart never reissues one.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	KindMemory   = "memory"
	KindPebble   = "pebble"
	KindPostgres = "postgres"
)

// Kinds lists the supported backends.
var Kinds = []string{KindMemory, KindPebble, KindPostgres}

// Record is a claimed requester and the token its claim was issued.
type Record struct {
	Requester common.Address
	// TokenID is assigned by MarkClaimed: 0 for the first claim, then one more
	// for each claim after it. IDs are never reused.
	TokenID   uint64
	ClaimedAt time.Time
}

// Store is the claim record.
type Store interface {
	// HasClaimed reports whether requester has already claimed.
	HasClaimed(ctx context.Context, requester common.Address) (bool, error)
	// MarkClaimed sets the record for requester and assigns the next token ID
	// in the same step. It returns false, with no error, if the record was
	// already set.
	MarkClaimed(ctx context.Context, requester common.Address) (Record, bool, error)
	// Token returns the record that was assigned tokenID.
	Token(ctx context.Context, tokenID uint64) (Record, bool, error)
	// Count returns the number of records, which is also the next token ID.
	Count(ctx context.Context) (uint64, error)
	// List returns all claimed requesters ordered by address.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Kind string `env:"KIND" envDefault:"memory"`
	// Path is the pebble data directory.
	Path string `env:"PATH" envDefault:"data/claims"`
	// DSN is the Postgres connection string.
	DSN string `env:"DSN"`
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	kind := strings.ToLower(strings.TrimSpace(c.Kind))
	if !lo.Contains(Kinds, kind) {
		return fmt.Errorf("unknown store kind %q (expected one of %s)", c.Kind, strings.Join(Kinds, ", "))
	}
	switch kind {
	case KindPebble:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("pebble store requires a path")
		}
	case KindPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	}
	return nil
}

// Open constructs the backend described by cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindPebble:
		return OpenPebble(cfg.Path, logger)
	case KindPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	default:
		logger.Warn("using in-memory claim store; claims are lost on restart")
		return NewMemory(), nil
	}
}
