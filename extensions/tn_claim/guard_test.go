package tn_claim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trufnetwork/claimgate/extensions/tn_claim/chain"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/metrics"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/store"
)

// switchableNetwork lets a test move the guard to another chain mid-run.
type switchableNetwork struct {
	mu  sync.Mutex
	id  *big.Int
	err error
}

func (n *switchableNetwork) ChainID(context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	return new(big.Int).Set(n.id), nil
}

func (n *switchableNetwork) set(id int64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.id = big.NewInt(id)
	n.err = err
}

// failingStore wraps a Store and fails chosen operations.
type failingStore struct {
	store.Store
	failMark bool
}

func (f *failingStore) MarkClaimed(ctx context.Context, requester common.Address) (store.Record, bool, error) {
	if f.failMark {
		return store.Record{}, false, fmt.Errorf("disk full")
	}
	return f.Store.MarkClaimed(ctx, requester)
}

// recordingMetrics keeps the error types passed to RecordAuthorizeError.
type recordingMetrics struct {
	metrics.MetricsRecorder
	mu         sync.Mutex
	errorTypes []string
}

func (r *recordingMetrics) RecordAuthorizeError(_ context.Context, errType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorTypes = append(r.errorTypes, errType)
}

func (r *recordingMetrics) lastErrorType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errorTypes) == 0 {
		return ""
	}
	return r.errorTypes[len(r.errorTypes)-1]
}

type guardFixture struct {
	authority *AuthoritySigner
	user      *AuthoritySigner
	claims    *store.Memory
	guard     *Guard
}

func newGuardFixture(t *testing.T, network chain.Source) *guardFixture {
	t.Helper()
	authority, err := NewAuthoritySignerFromHex(devKeyHex)
	require.NoError(t, err)
	user := newTestSigner(t)
	claims := store.NewMemory()

	guard, err := NewGuard(Settings{
		Authority: authority.Address(),
		Contract:  testContract,
		Network:   network,
		Claims:    claims,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	return &guardFixture{authority: authority, user: user, claims: claims, guard: guard}
}

func TestNewGuard_Validation(t *testing.T) {
	network := chain.NewStatic(31337)
	claims := store.NewMemory()
	authority := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	_, err := NewGuard(Settings{Network: network, Claims: claims})
	require.ErrorContains(t, err, "zero address")

	_, err = NewGuard(Settings{Authority: authority, Claims: claims})
	require.ErrorContains(t, err, "network source")

	_, err = NewGuard(Settings{Authority: authority, Network: network})
	require.ErrorContains(t, err, "claim store")

	g, err := NewGuard(Settings{Authority: authority, Contract: testContract, Network: network, Claims: claims}, WithLogger(nil), WithMetrics(nil))
	require.NoError(t, err)
	assert.Equal(t, authority, g.Authority())
	assert.Equal(t, testContract, g.Contract())
}

// Authority T, requester U, network 31337, contract 0xABCD.
func TestAuthorize_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	u := f.user.Address()

	sig, err := f.authority.SignAttestation(u, big.NewInt(31337), testContract)
	require.NoError(t, err)

	require.NoError(t, f.guard.Authorize(ctx, u, sig))
	claimed, err := f.guard.HasClaimed(ctx, u)
	require.NoError(t, err)
	assert.True(t, claimed)

	err = f.guard.Authorize(ctx, u, sig)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// self-signed attestation against a fresh deployment
	fresh := newGuardFixture(t, chain.NewStatic(31337))
	selfSigned, err := f.user.SignAttestation(u, big.NewInt(31337), testContract)
	require.NoError(t, err)
	err = fresh.guard.Authorize(ctx, u, selfSigned)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthorize_ClaimCheckPrecedesVerification(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	u := f.user.Address()

	sig, err := f.authority.SignAttestation(u, testChainID, testContract)
	require.NoError(t, err)
	require.NoError(t, f.guard.Authorize(ctx, u, sig))

	selfSigned, err := f.user.SignAttestation(u, testChainID, testContract)
	require.NoError(t, err)
	assert.ErrorIs(t, f.guard.Authorize(ctx, u, selfSigned), ErrAlreadyClaimed)
	assert.ErrorIs(t, f.guard.Authorize(ctx, u, []byte("garbage")), ErrAlreadyClaimed)
}

func TestAuthorize_SelfSignedRejected(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	u := f.user.Address()

	selfSigned, err := f.user.SignAttestation(u, testChainID, testContract)
	require.NoError(t, err)

	err = f.guard.Authorize(ctx, u, selfSigned)
	require.ErrorIs(t, err, ErrInvalidSignature)

	claimed, err := f.guard.HasClaimed(ctx, u)
	require.NoError(t, err)
	assert.False(t, claimed, "rejected attempts must not touch the claim record")

	// a corrected signature is still accepted
	sig, err := f.authority.SignAttestation(u, testChainID, testContract)
	require.NoError(t, err)
	require.NoError(t, f.guard.Authorize(ctx, u, sig))
}

func TestAuthorize_RequesterBinding(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	a := f.user.Address()
	b := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	sigForA, err := f.authority.SignAttestation(a, testChainID, testContract)
	require.NoError(t, err)

	require.ErrorIs(t, f.guard.Authorize(ctx, b, sigForA), ErrInvalidSignature)
	require.NoError(t, f.guard.Authorize(ctx, a, sigForA))
}

func TestAuthorize_NetworkBinding(t *testing.T) {
	ctx := context.Background()
	network := &switchableNetwork{id: big.NewInt(1)}
	f := newGuardFixture(t, network)
	u := f.user.Address()

	sigForMainnet, err := f.authority.SignAttestation(u, big.NewInt(1), testContract)
	require.NoError(t, err)

	// the live network changed after the attestation was issued
	network.set(31337, nil)
	require.ErrorIs(t, f.guard.Authorize(ctx, u, sigForMainnet), ErrInvalidSignature)

	network.set(1, nil)
	require.NoError(t, f.guard.Authorize(ctx, u, sigForMainnet))
}

func TestAuthorize_ContractBinding(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	u := f.user.Address()

	sigForOtherDeployment, err := f.authority.SignAttestation(u, testChainID, common.HexToAddress("0xBEEF"))
	require.NoError(t, err)

	require.ErrorIs(t, f.guard.Authorize(ctx, u, sigForOtherDeployment), ErrInvalidSignature)
}

func TestAuthorize_MalformedSignature(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))

	err := f.guard.Authorize(ctx, f.user.Address(), []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, f.claims.Len())
}

func TestAuthorize_NetworkUnavailable(t *testing.T) {
	ctx := context.Background()
	network := &switchableNetwork{id: big.NewInt(31337)}
	f := newGuardFixture(t, network)
	u := f.user.Address()

	sig, err := f.authority.SignAttestation(u, testChainID, testContract)
	require.NoError(t, err)

	network.set(31337, fmt.Errorf("dial tcp: connection refused"))
	err = f.guard.Authorize(ctx, u, sig)
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, 0, f.claims.Len())

	network.set(31337, nil)
	require.NoError(t, f.guard.Authorize(ctx, u, sig))
}

func TestAuthorize_StoreFailureIsNotSuccess(t *testing.T) {
	ctx := context.Background()
	authority, err := NewAuthoritySignerFromHex(devKeyHex)
	require.NoError(t, err)
	claims := &failingStore{Store: store.NewMemory(), failMark: true}

	guard, err := NewGuard(Settings{
		Authority: authority.Address(),
		Contract:  testContract,
		Network:   chain.NewStatic(31337),
		Claims:    claims,
	})
	require.NoError(t, err)

	sig, err := authority.SignAttestation(testRequester, testChainID, testContract)
	require.NoError(t, err)

	err = guard.Authorize(ctx, testRequester, sig)
	require.ErrorContains(t, err, "mark claim record")
	require.NotErrorIs(t, err, ErrAlreadyClaimed)
	require.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthorize_ConcurrentSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	u := f.user.Address()

	sig, err := f.authority.SignAttestation(u, testChainID, testContract)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var successes, alreadyClaimed atomic.Int32
	numGoroutines := 64

	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			err := f.guard.Authorize(ctx, u, sig)
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, ErrAlreadyClaimed):
				alreadyClaimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(numGoroutines-1), alreadyClaimed.Load())
}

func TestAuthorize_ZeroRequesterIsNotSpecialCased(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	zero := common.Address{}

	sig, err := f.authority.SignAttestation(zero, testChainID, testContract)
	require.NoError(t, err)
	require.NoError(t, f.guard.Authorize(ctx, zero, sig))
}

func TestClaim_AssignsSequentialTokenIDs(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, chain.NewStatic(31337))
	second := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	for want, requester := range []common.Address{testRequester, second} {
		sig, err := f.authority.SignAttestation(requester, testChainID, testContract)
		require.NoError(t, err)

		rec, err := f.guard.Claim(ctx, requester, sig)
		require.NoError(t, err)
		assert.Equal(t, requester, rec.Requester)
		assert.Equal(t, uint64(want), rec.TokenID)

		byToken, found, err := f.guard.ClaimByToken(ctx, rec.TokenID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, requester, byToken.Requester)
	}

	n, err := f.guard.ClaimCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	// rejections do not consume token ids
	_, err = f.guard.Claim(ctx, testRequester, []byte("garbage"))
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	n, err = f.guard.ClaimCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestAuthorize_ErrorTypes(t *testing.T) {
	ctx := context.Background()
	authority, err := NewAuthoritySignerFromHex(devKeyHex)
	require.NoError(t, err)
	network := &switchableNetwork{id: big.NewInt(31337)}
	recorder := &recordingMetrics{MetricsRecorder: metrics.NewNoOpMetrics()}

	guard, err := NewGuard(Settings{
		Authority: authority.Address(),
		Contract:  testContract,
		Network:   network,
		Claims:    store.NewMemory(),
	}, WithMetrics(recorder))
	require.NoError(t, err)

	sig, err := authority.SignAttestation(testRequester, testChainID, testContract)
	require.NoError(t, err)

	network.set(31337, fmt.Errorf("dial tcp 127.0.0.1:8545: i/o timeout"))
	require.ErrorIs(t, guard.Authorize(ctx, testRequester, sig), ErrNetworkUnavailable)
	assert.Equal(t, metrics.ErrTypeNetworkUnavailable, recorder.lastErrorType())

	// a bad id from the node is not an outage
	network.set(-1, nil)
	err = guard.Authorize(ctx, testRequester, sig)
	require.ErrorContains(t, err, "chain id cannot be negative")
	require.NotErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, metrics.ErrTypeUnknown, recorder.lastErrorType())
}
