package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is a process-local Store. The map is the claim record; the mutex makes
// the check and the write in MarkClaimed a single step.
type Memory struct {
	mu      sync.RWMutex
	claims  map[common.Address]Record
	byToken []common.Address
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		claims: make(map[common.Address]Record),
		now:    time.Now,
	}
}

func (m *Memory) HasClaimed(_ context.Context, requester common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.claims[requester]
	return ok, nil
}

func (m *Memory) MarkClaimed(_ context.Context, requester common.Address) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.claims[requester]; exists {
		return Record{}, false, nil
	}
	rec := Record{
		Requester: requester,
		TokenID:   uint64(len(m.byToken)),
		ClaimedAt: m.now().UTC(),
	}
	m.claims[requester] = rec
	m.byToken = append(m.byToken, requester)
	return rec, true, nil
}

func (m *Memory) Token(_ context.Context, tokenID uint64) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tokenID >= uint64(len(m.byToken)) {
		return Record{}, false, nil
	}
	return m.claims[m.byToken[tokenID]], true, nil
}

func (m *Memory) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.byToken)), nil
}

func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.claims))
	for _, rec := range m.claims {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Requester.Bytes(), records[j].Requester.Bytes()) < 0
	})
	return records, nil
}

// Len returns the number of claimed requesters.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.claims)
}

func (m *Memory) Close() error { return nil }
