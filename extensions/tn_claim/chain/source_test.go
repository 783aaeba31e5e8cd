package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeReader struct {
	failures int
	calls    int
	id       *big.Int
}

func (f *fakeReader) ChainID(ctx context.Context) (*big.Int, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("connection refused")
	}
	return f.id, nil
}

func (f *fakeReader) Close() {}

func zeroBackOff(r *RPC) {
	r.delay = 0
	r.maxDelay = 0
}

func TestStatic(t *testing.T) {
	src := NewStatic(31337)

	id, err := src.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())

	// callers cannot mutate the configured id
	id.SetInt64(1)
	again, err := src.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), again.Int64())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.ChainID(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPCRetriesTransientFailures(t *testing.T) {
	reader := &fakeReader{failures: 2, id: big.NewInt(11155111)}
	src := newRPC(reader, WithMaxRetries(3), WithLogger(zaptest.NewLogger(t)), zeroBackOff)

	id, err := src.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), id.Int64())
	assert.Equal(t, 3, reader.calls)
}

func TestRPCGivesUpAfterMaxRetries(t *testing.T) {
	reader := &fakeReader{failures: 10, id: big.NewInt(1)}
	src := newRPC(reader, WithMaxRetries(2), zeroBackOff)

	_, err := src.ChainID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read chain id")
	assert.Equal(t, 3, reader.calls, "one initial attempt plus two retries")
}

func TestRPCRejectsInvalidChainID(t *testing.T) {
	for _, id := range []int64{0, -5} {
		t.Run(fmt.Sprint(id), func(t *testing.T) {
			reader := &fakeReader{id: big.NewInt(id)}
			src := newRPC(reader, WithMaxRetries(3), zeroBackOff)

			_, err := src.ChainID(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid chain id")
			assert.Equal(t, 1, reader.calls, "invalid ids are not retried")
		})
	}
}

func TestRPCStopsOnCancelledContext(t *testing.T) {
	reader := &fakeReader{failures: 10, id: big.NewInt(1)}
	src := newRPC(reader, WithMaxRetries(5), zeroBackOff)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.ChainID(ctx)
	require.Error(t, err)
	assert.LessOrEqual(t, reader.calls, 1)
}

func TestDialRPCReadsLiveChainID(t *testing.T) {
	var chainID atomic.Value
	chainID.Store("0x7a69") // 31337
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_chainId", req.Method)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  chainID.Load(),
		})
	}))
	defer server.Close()

	src, err := DialRPC(context.Background(), server.URL, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer src.Close()

	id, err := src.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())

	// the node switched networks; the next lookup must see it
	chainID.Store("0x1")
	id, err = src.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())
}
