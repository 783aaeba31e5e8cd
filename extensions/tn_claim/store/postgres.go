package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// claimSchemaName is the private schema holding the claim record.
	claimSchemaName = "ext_tn_claim"

	connectRetries = 5
)

// Postgres stores claim records in a Postgres table. The primary key on
// requester makes INSERT ... ON CONFLICT DO NOTHING the compare-and-set, so
// several service replicas can share one database. MarkClaimed holds a
// self-exclusive table lock for the insert so token IDs stay gapless.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	err = backoff.RetryNotify(func() error { return pool.Ping(ctx) }, b, func(err error, next time.Duration) {
		logger.Warn("postgres not ready, retrying", zap.Duration("next", next), zap.Error(err))
	})
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := &Postgres{pool: pool, logger: logger}
	if err := s.Ensure(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("opened postgres claim store", zap.String("schema", claimSchemaName))
	return s, nil
}

// Ensure creates the schema and table. The statements are idempotent so the
// method runs on every start.
func (s *Postgres) Ensure(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin claim schema tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", claimSchemaName)); err != nil {
		return errors.Wrap(err, "create claim schema")
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.claims (
			requester BYTEA PRIMARY KEY CHECK (octet_length(requester) = 20),
			token_id BIGINT NOT NULL UNIQUE CHECK (token_id >= 0),
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, claimSchemaName)); err != nil {
		return errors.Wrap(err, "create claims table")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit claim schema tx")
	}
	return nil
}

func (s *Postgres) HasClaimed(ctx context.Context, requester common.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s.claims WHERE requester = $1)", claimSchemaName),
		requester.Bytes()).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "read claim for %s", requester.Hex())
	}
	return exists, nil
}

func (s *Postgres) MarkClaimed(ctx context.Context, requester common.Address) (Record, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, false, errors.Wrap(err, "begin claim tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"LOCK TABLE %s.claims IN SHARE ROW EXCLUSIVE MODE", claimSchemaName)); err != nil {
		return Record{}, false, errors.Wrap(err, "lock claims table")
	}

	var (
		tokenID int64
		at      time.Time
	)
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s.claims (requester, token_id, claimed_at)
		SELECT $1::bytea, COALESCE(MAX(token_id) + 1, 0), $2::timestamptz FROM %[1]s.claims
		ON CONFLICT (requester) DO NOTHING
		RETURNING token_id, claimed_at
	`, claimSchemaName), requester.Bytes(), time.Now().UTC()).Scan(&tokenID, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "persist claim for %s", requester.Hex())
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, false, errors.Wrapf(err, "commit claim for %s", requester.Hex())
	}
	return Record{Requester: requester, TokenID: uint64(tokenID), ClaimedAt: at.UTC()}, true, nil
}

func (s *Postgres) Token(ctx context.Context, tokenID uint64) (Record, bool, error) {
	if tokenID > math.MaxInt64 {
		return Record{}, false, nil
	}
	var (
		raw []byte
		at  time.Time
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT requester, claimed_at FROM %s.claims WHERE token_id = $1", claimSchemaName),
		int64(tokenID)).Scan(&raw, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "read token %d", tokenID)
	}
	if len(raw) != common.AddressLength {
		return Record{}, false, fmt.Errorf("malformed requester column: %d bytes", len(raw))
	}
	return Record{Requester: common.BytesToAddress(raw), TokenID: tokenID, ClaimedAt: at.UTC()}, true, nil
}

func (s *Postgres) Count(ctx context.Context) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.claims", claimSchemaName)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count claims")
	}
	return uint64(n), nil
}

func (s *Postgres) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT requester, token_id, claimed_at FROM %s.claims ORDER BY requester", claimSchemaName))
	if err != nil {
		return nil, errors.Wrap(err, "list claims")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			raw     []byte
			tokenID int64
			at      time.Time
		)
		if err := rows.Scan(&raw, &tokenID, &at); err != nil {
			return nil, errors.Wrap(err, "scan claim row")
		}
		if len(raw) != common.AddressLength {
			return nil, fmt.Errorf("malformed requester column: %d bytes", len(raw))
		}
		records = append(records, Record{
			Requester: common.BytesToAddress(raw),
			TokenID:   uint64(tokenID),
			ClaimedAt: at.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate claims")
	}
	return records, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
