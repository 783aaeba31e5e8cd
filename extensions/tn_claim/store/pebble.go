package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	claimKeyPrefix = []byte("claim/")
	tokenKeyPrefix = []byte("token/")
	nextTokenIDKey = []byte("meta/next_token_id")
)

const claimValueLength = 16

// Pebble stores claim records in an on-disk pebble database.
//
//	"claim/" + 20-byte requester  ->  8-byte unix nanos | 8-byte token id
//	"token/" + 8-byte token id    ->  20-byte requester
//	"meta/next_token_id"          ->  8-byte next token id
//
// All integers are big-endian. Pebble has no conditional put, so MarkClaimed
// serialises the read and the synced batch under writeMu. A directory must only
// be opened by one process.
type Pebble struct {
	db      *pebble.DB
	logger  *zap.Logger
	writeMu sync.Mutex
	now     func() time.Time
}

// OpenPebble opens (or creates) the database at path. Pebble's own log lines
// go to logger under the "pebble" name.
func OpenPebble(path string, logger *zap.Logger) (*Pebble, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{
		Logger: logger.Named("pebble").Sugar(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble store at %s", path)
	}
	logger.Info("opened pebble claim store", zap.String("path", path))
	return &Pebble{db: db, logger: logger, now: time.Now}, nil
}

func claimKey(requester common.Address) []byte {
	key := make([]byte, 0, len(claimKeyPrefix)+common.AddressLength)
	key = append(key, claimKeyPrefix...)
	return append(key, requester.Bytes()...)
}

func tokenKey(tokenID uint64) []byte {
	key := make([]byte, len(tokenKeyPrefix)+8)
	copy(key, tokenKeyPrefix)
	binary.BigEndian.PutUint64(key[len(tokenKeyPrefix):], tokenID)
	return key
}

func encodeClaim(rec Record) []byte {
	value := make([]byte, claimValueLength)
	binary.BigEndian.PutUint64(value[:8], uint64(rec.ClaimedAt.UnixNano()))
	binary.BigEndian.PutUint64(value[8:], rec.TokenID)
	return value
}

func decodeClaim(requester common.Address, value []byte) (Record, error) {
	if len(value) != claimValueLength {
		return Record{}, fmt.Errorf("malformed claim value for %s: %d bytes", requester.Hex(), len(value))
	}
	return Record{
		Requester: requester,
		TokenID:   binary.BigEndian.Uint64(value[8:]),
		ClaimedAt: time.Unix(0, int64(binary.BigEndian.Uint64(value[:8]))).UTC(),
	}, nil
}

// get copies the value at key. A missing key is (nil, false, nil).
func (p *Pebble) get(key []byte) ([]byte, bool, error) {
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return nil, false, errors.Wrap(err, "release value")
	}
	return out, true, nil
}

func (p *Pebble) HasClaimed(ctx context.Context, requester common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok, err := p.get(claimKey(requester))
	if err != nil {
		return false, errors.Wrapf(err, "read claim for %s", requester.Hex())
	}
	return ok, nil
}

func (p *Pebble) nextTokenID() (uint64, error) {
	value, ok, err := p.get(nextTokenIDKey)
	if err != nil {
		return 0, errors.Wrap(err, "read next token id")
	}
	if !ok {
		return 0, nil
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("malformed next token id: %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (p *Pebble) MarkClaimed(ctx context.Context, requester common.Address) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	claimed, err := p.HasClaimed(ctx, requester)
	if err != nil {
		return Record{}, false, err
	}
	if claimed {
		return Record{}, false, nil
	}

	next, err := p.nextTokenID()
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{Requester: requester, TokenID: next, ClaimedAt: p.now().UTC()}

	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, next+1)

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(claimKey(requester), encodeClaim(rec), nil); err != nil {
		return Record{}, false, errors.Wrap(err, "stage claim")
	}
	if err := batch.Set(tokenKey(next), requester.Bytes(), nil); err != nil {
		return Record{}, false, errors.Wrap(err, "stage token owner")
	}
	if err := batch.Set(nextTokenIDKey, counter, nil); err != nil {
		return Record{}, false, errors.Wrap(err, "stage next token id")
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return Record{}, false, errors.Wrapf(err, "persist claim for %s", requester.Hex())
	}
	return rec, true, nil
}

func (p *Pebble) Token(ctx context.Context, tokenID uint64) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	owner, ok, err := p.get(tokenKey(tokenID))
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "read token %d", tokenID)
	}
	if !ok {
		return Record{}, false, nil
	}
	if len(owner) != common.AddressLength {
		return Record{}, false, fmt.Errorf("malformed owner for token %d: %d bytes", tokenID, len(owner))
	}
	requester := common.BytesToAddress(owner)

	value, ok, err := p.get(claimKey(requester))
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "read claim for %s", requester.Hex())
	}
	if !ok {
		return Record{}, false, fmt.Errorf("token %d has no claim for %s", tokenID, requester.Hex())
	}
	rec, err := decodeClaim(requester, value)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (p *Pebble) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.nextTokenID()
}

func (p *Pebble) List(ctx context.Context) ([]Record, error) {
	upper := append([]byte(nil), claimKeyPrefix...)
	upper[len(upper)-1]++

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: claimKeyPrefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open claim iterator")
	}
	defer iter.Close()

	var records []Record
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := iter.Key()
		if len(key) != len(claimKeyPrefix)+common.AddressLength {
			return nil, fmt.Errorf("malformed claim key %x", key)
		}
		rec, err := decodeClaim(common.BytesToAddress(key[len(claimKeyPrefix):]), iter.Value())
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate claims")
	}
	return records, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
