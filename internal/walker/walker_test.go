package walker

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/money-on-chain/stable-indexer/internal/checkpoint"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/store"
)

var chainID = big.NewInt(1)

type fakeNodeClient struct {
	head     uint64
	blocks   map[uint64]*types.Block
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeNodeClient) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeNodeClient) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return nil, errNoSuchBlock
	}
	return b, nil
}
func (f *fakeNodeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, errNoSuchReceipt
	}
	return r, nil
}
func (f *fakeNodeClient) Call(ctx context.Context, contractABI *abi.ABI, contract common.Address, method string, result interface{}, args ...interface{}) error {
	return nil
}
func (f *fakeNodeClient) ChainID(ctx context.Context) (*big.Int, error) { return chainID, nil }
func (f *fakeNodeClient) Close()                                       {}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const (
	errNoSuchBlock   = fakeErr("no such block")
	errNoSuchReceipt = fakeErr("no such receipt")
)

// signedTransfer builds a real signed legacy transaction so types.Sender
// recovers a deterministic `from` address, the same way the live pipeline
// recovers it from a raw block body.
func signedTransfer(t *testing.T, nonce uint64, to common.Address) (*types.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	tx := types.NewTransaction(nonce, to, big.NewInt(1), 21000, big.NewInt(1_000_000_000), nil)
	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		t.Fatalf("signing tx: %v", err)
	}
	return signedTx, from
}

func blockWithTx(t *testing.T, number uint64, txs ...*types.Transaction) *types.Block {
	t.Helper()
	header := &types.Header{Number: big.NewInt(int64(number)), Time: uint64(time.Now().Unix())}
	return types.NewBlockWithHeader(header).WithBody(txs, nil)
}

func newTestWalker(mode Mode, lag int64, nc *fakeNodeClient, s store.Store, filterSet model.AddressSet) *Walker {
	ckpt := checkpoint.NewManager(s)
	cfg := Config{Mode: mode, Lag: lag, FromBlock: 1, MaxBlocksPerTick: 100}
	return New(cfg, nc, s, ckpt, filterSet)
}

func TestTickOnlyPersistsTransactionsTouchingTheFilterSet(t *testing.T) {
	s := store.NewMemStore()
	to := common.HexToAddress("0x00000000000000000000000000000000000abc")
	txIn, fromIn := signedTransfer(t, 0, to)
	txOut, _ := signedTransfer(t, 0, common.HexToAddress("0x0000000000000000000000000000000000dead"))

	block := blockWithTx(t, 10, txIn, txOut)
	nc := &fakeNodeClient{
		head:   20,
		blocks: map[uint64]*types.Block{10: block},
		receipts: map[common.Hash]*types.Receipt{
			txIn.Hash():  {Status: 1, BlockNumber: big.NewInt(10), BlockHash: common.Hash{}},
			txOut.Hash(): {Status: 1, BlockNumber: big.NewInt(10), BlockHash: common.Hash{}},
		},
	}
	filterSet := model.NewAddressSet(to)
	w := newTestWalker(ModeRaw, 5, nc, s, filterSet)
	// populate checkpoint so only block 10 is in range this tick
	ckptOnly10 := checkpoint.NewManager(s)
	if err := ckptOnly10.AdvanceRaw(context.Background(), 9, time.Now()); err != nil {
		t.Fatalf("seeding checkpoint: %v", err)
	}
	w.cfg.ToBlock = 10

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var got model.RawTransaction
	found, err := s.FindOne(context.Background(), "raw_transactions", model.RawTransactionKey(txIn.Hash().Hex(), 10), &got)
	if err != nil {
		t.Fatalf("FindOne(txIn): %v", err)
	}
	if !found {
		t.Fatal("expected the transaction touching the filter set to be persisted")
	}
	if got.From != model.Lower(fromIn) {
		t.Fatalf("expected recovered sender %s, got %s", model.Lower(fromIn), got.From)
	}

	foundOut, err := s.FindOne(context.Background(), "raw_transactions", model.RawTransactionKey(txOut.Hash().Hex(), 10), &model.RawTransaction{})
	if err != nil {
		t.Fatalf("FindOne(txOut): %v", err)
	}
	if foundOut {
		t.Fatal("expected the transaction outside the filter set to be skipped")
	}
}

func TestTickSkipsTransactionsWhoseReceiptIsNotYetAvailable(t *testing.T) {
	s := store.NewMemStore()
	to := common.HexToAddress("0x00000000000000000000000000000000000abc")
	tx, _ := signedTransfer(t, 0, to)

	block := blockWithTx(t, 10, tx)
	nc := &fakeNodeClient{
		head:     20,
		blocks:   map[uint64]*types.Block{10: block},
		receipts: map[common.Hash]*types.Receipt{}, // receipt deliberately missing
	}
	filterSet := model.NewAddressSet(to)
	w := newTestWalker(ModeRaw, 5, nc, s, filterSet)
	w.cfg.ToBlock = 10
	if err := checkpoint.NewManager(s).AdvanceRaw(context.Background(), 9, time.Now()); err != nil {
		t.Fatalf("seeding checkpoint: %v", err)
	}

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	found, err := s.FindOne(context.Background(), "raw_transactions", model.RawTransactionKey(tx.Hash().Hex(), 10), &model.RawTransaction{})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if found {
		t.Fatal("expected a transaction with no available receipt to be skipped this tick")
	}

	state, err := checkpoint.NewManager(s).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LastRawBlock != 10 {
		t.Fatalf("expected the block checkpoint to still advance past a skipped tx, got %d", state.LastRawBlock)
	}
}

func TestConfirmingModeDoesNotOverwriteAlreadyPersistedTransaction(t *testing.T) {
	s := store.NewMemStore()
	to := common.HexToAddress("0x00000000000000000000000000000000000abc")
	tx, _ := signedTransfer(t, 0, to)
	block := blockWithTx(t, 10, tx)
	nc := &fakeNodeClient{
		head:   20,
		blocks: map[uint64]*types.Block{10: block},
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): {Status: 1, BlockNumber: big.NewInt(10)},
		},
	}
	filterSet := model.NewAddressSet(to)

	existing := model.RawTransaction{Hash: tx.Hash().Hex(), BlockNumber: 10, Processed: true}
	if err := s.Upsert(context.Background(), "raw_transactions", model.RawTransactionKey(tx.Hash().Hex(), 10), existing); err != nil {
		t.Fatalf("seeding existing raw_transaction: %v", err)
	}

	w := newTestWalker(ModeConfirming, 0, nc, s, filterSet)
	w.cfg.FromBlock = 10
	w.cfg.ToBlock = 10
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var got model.RawTransaction
	if _, err := s.FindOne(context.Background(), "raw_transactions", model.RawTransactionKey(tx.Hash().Hex(), 10), &got); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !got.Processed {
		t.Fatal("expected ConfirmingRescanner's upsert-if-absent to leave the already-processed record untouched")
	}
	if got.From != "" {
		t.Fatalf("expected the seeded record's From field to be left as-is (never populated), got %s", got.From)
	}
}

func TestRawModeReUpsertDoesNotResetProcessedFlag(t *testing.T) {
	s := store.NewMemStore()
	to := common.HexToAddress("0x00000000000000000000000000000000000abc")
	tx, _ := signedTransfer(t, 0, to)
	block := blockWithTx(t, 10, tx)
	nc := &fakeNodeClient{
		head:   20,
		blocks: map[uint64]*types.Block{10: block},
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): {Status: 1, BlockNumber: big.NewInt(10)},
		},
	}
	filterSet := model.NewAddressSet(to)

	// Simulate the EventDispatcher having already flipped processed to
	// true before RawBlockWalker re-touches the same record on a retried
	// tick (spec.md section 4.1: processed is insert-only).
	key := model.RawTransactionKey(tx.Hash().Hex(), 10)
	if err := s.Upsert(context.Background(), "raw_transactions", key,
		model.RawTransaction{Hash: tx.Hash().Hex(), BlockNumber: 10, Status: 0, Processed: true}); err != nil {
		t.Fatalf("seeding existing raw_transaction: %v", err)
	}

	w := newTestWalker(ModeRaw, 0, nc, s, filterSet)
	w.cfg.FromBlock = 10
	w.cfg.ToBlock = 10
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var got model.RawTransaction
	if _, err := s.FindOne(context.Background(), "raw_transactions", key, &got); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !got.Processed {
		t.Fatal("expected re-upserting an already-processed record to leave processed=true untouched")
	}
	if got.Status != 1 {
		t.Fatalf("expected non-insert-only fields to still be refreshed by the re-upsert, got status=%d", got.Status)
	}
}
