package monitor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	errCh chan error
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }
func (s *fakeSubscription) Unsubscribe()      {}

type fakeChain struct {
	latest      uint64
	block       *types.Block
	receipts    []*types.Receipt
	pendingTx   *types.Transaction
	receiptGate chan struct{}
	pending     chan<- common.Hash
	subscribed  chan struct{}
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return c.latest, nil
}

func (c *fakeChain) BlockByNumber(context.Context, uint64) (*types.Block, error) {
	return c.block, nil
}

func (c *fakeChain) HeaderByNumber(context.Context, uint64) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(101), Time: 1_700_000_000}, nil
}

func (c *fakeChain) BatchGetReceipts(context.Context, []common.Hash) ([]*types.Receipt, error) {
	if c.receipts == nil {
		return nil, errors.New("receipts unavailable")
	}
	return c.receipts, nil
}

func (c *fakeChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return c.pendingTx, true, nil
}

func (c *fakeChain) WaitMined(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.receiptGate:
		return &types.Receipt{GasUsed: 50_000, BlockNumber: big.NewInt(101)}, nil
	}
}

func (c *fakeChain) Sender(*types.Transaction) (common.Address, error) {
	return common.HexToAddress("0x1111111111111111111111111111111111111111"), nil
}

func (c *fakeChain) SubscribePendingTransactions(_ context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	c.pending = ch
	close(c.subscribed)
	return &fakeSubscription{errCh: make(chan error)}, nil
}

func legacyTx(nonce uint64, to common.Address, gas uint64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: big.NewInt(1_000_000_000),
	})
}

func contractCreationTx(nonce uint64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       nil,
		Gas:      1_000_000,
		GasPrice: big.NewInt(1_000_000_000),
	})
}

func newTestService(t *testing.T, f *pipelineFixture, chain ChainSource) *Service {
	t.Helper()
	s, err := NewService(chain, f.pipeline, f.ledger, &Config{
		PollInterval:  10 * time.Millisecond,
		ClearInterval: time.Hour,
		ReceiptWait:   time.Second,
	}, nil)
	require.NoError(t, err)
	return s
}

func TestPollOnce_FiltersAndProcesses(t *testing.T) {
	f := newPipelineFixture(t)

	to := common.HexToAddress("0xABC0000000000000000000000000000000000000")
	block := types.NewBlock(
		&types.Header{Number: big.NewInt(100), Time: uint64(time.Now().Unix())},
		&types.Body{Transactions: []*types.Transaction{
			legacyTx(0, to, 2_500_000),
			contractCreationTx(1),
			legacyTx(2, to, 60_000),
		}},
		nil,
		trie.NewStackTrie(nil),
	)

	chain := &fakeChain{latest: 100, block: block, subscribed: make(chan struct{})}
	s := newTestService(t, f, chain)

	polled, err := s.pollOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), polled)

	txs, _, _ := f.store.counts()
	assert.Equal(t, 2, txs, "contract creations must be skipped")
}

func TestPollOnce_UsesReceiptGasWhenAvailable(t *testing.T) {
	f := newPipelineFixture(t)

	to := common.HexToAddress("0xABC0000000000000000000000000000000000000")
	tx := legacyTx(0, to, 3_000_000)
	block := types.NewBlock(
		&types.Header{Number: big.NewInt(100), Time: uint64(time.Now().Unix())},
		&types.Body{Transactions: []*types.Transaction{tx}},
		nil,
		trie.NewStackTrie(nil),
	)

	chain := &fakeChain{
		latest:     100,
		block:      block,
		subscribed: make(chan struct{}),
		receipts:   []*types.Receipt{{TxHash: tx.Hash(), GasUsed: 42_000}},
	}
	s := newTestService(t, f, chain)

	_, err := s.pollOnce(context.Background(), 0)
	require.NoError(t, err)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.transactions, 1)
	assert.Equal(t, uint64(42_000), f.store.transactions[0].GasUsed,
		"stored gas must come from the receipt, not the limit")
}

// stalledChain hangs every block-number call until its context expires.
type stalledChain struct {
	fakeChain
}

func (c *stalledChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestPollOnce_HungEndpointHonorsCallTimeout(t *testing.T) {
	f := newPipelineFixture(t)
	chain := &stalledChain{fakeChain{subscribed: make(chan struct{})}}
	s, err := NewService(chain, f.pipeline, f.ledger, &Config{
		PollInterval:  10 * time.Millisecond,
		ClearInterval: time.Hour,
		ReceiptWait:   time.Second,
		CallTimeout:   50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.pollOnce(context.Background(), 0)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("pollOnce did not return after the call timeout")
	}
}

func TestPollOnce_UnchangedBlockIsSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	chain := &fakeChain{latest: 100, subscribed: make(chan struct{})}
	s := newTestService(t, f, chain)

	polled, err := s.pollOnce(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), polled)

	txs, _, _ := f.store.counts()
	assert.Equal(t, 0, txs)
}

func TestListener_DropsWhileInFlight(t *testing.T) {
	f := newPipelineFixture(t)

	to := common.HexToAddress("0xABC0000000000000000000000000000000000000")
	chain := &fakeChain{
		pendingTx:   legacyTx(0, to, 50_000),
		receiptGate: make(chan struct{}),
		subscribed:  make(chan struct{}),
		block: types.NewBlock(
			&types.Header{Number: big.NewInt(101), Time: uint64(time.Now().Unix())},
			&types.Body{},
			nil,
			trie.NewStackTrie(nil),
		),
	}
	s := newTestService(t, f, chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.consumePending(ctx)
	}()

	select {
	case <-chain.subscribed:
	case <-time.After(time.Second):
		t.Fatal("listener never subscribed")
	}

	// First hash occupies the single flight slot; the rest must drop.
	for i := byte(1); i <= 3; i++ {
		chain.pending <- common.BytesToHash([]byte{i})
	}

	// Give dropped hashes time to be discarded, then let the first mine.
	time.Sleep(50 * time.Millisecond)
	close(chain.receiptGate)

	assert.Eventually(t, func() bool {
		txs, _, _ := f.store.counts()
		return txs == 1
	}, 2*time.Second, 10*time.Millisecond, "exactly one pending hash should be processed")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	txs, _, _ := f.store.counts()
	assert.Equal(t, 1, txs)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{PollInterval: time.Second}).Validate())
	assert.NoError(t, (&Config{PollInterval: time.Second, ClearInterval: time.Hour}).Validate())
}

func TestServiceStartStop(t *testing.T) {
	f := newPipelineFixture(t)
	chain := &fakeChain{
		latest:     0,
		subscribed: make(chan struct{}),
		block: types.NewBlock(
			&types.Header{Number: big.NewInt(0), Time: uint64(time.Now().Unix())},
			&types.Body{},
			nil,
			trie.NewStackTrie(nil),
		),
	}
	s := newTestService(t, f, chain)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
