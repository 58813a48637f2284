package dispatcher

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/money-on-chain/stable-indexer/abi/flipmoney"
	"github.com/money-on-chain/stable-indexer/internal/abidecoder"
	"github.com/money-on-chain/stable-indexer/internal/config"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/registry"
	"github.com/money-on-chain/stable-indexer/internal/store"
)

// fakeNodeClient implements nodeclient.NodeClient with a scriptable Call,
// the only method the dispatcher's handlers actually invoke.
type fakeNodeClient struct {
	callFunc func(method string, result interface{}, args ...interface{}) error
}

func (f *fakeNodeClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeNodeClient) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	return nil, nil
}
func (f *fakeNodeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeNodeClient) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeNodeClient) Close()                                       {}
func (f *fakeNodeClient) Call(ctx context.Context, contractABI *abi.ABI, contract common.Address, method string, result interface{}, args ...interface{}) error {
	if f.callFunc == nil {
		return nil
	}
	return f.callFunc(method, result, args...)
}

const (
	mocAddr      = "0x000000000000000000000000000000000000000a"
	mocQueueAddr = "0x000000000000000000000000000000000000000b"
	tcAddr       = "0x000000000000000000000000000000000000000c"
	tpAddr       = "0x000000000000000000000000000000000000000d"
)

func testRegistry(t *testing.T, nc *fakeNodeClient) *registry.ContractRegistry {
	t.Helper()
	cfg := &config.Config{
		Addresses: config.AddressesConfig{
			Moc:      mocAddr,
			MocQueue: mocQueueAddr,
			TC:       tcAddr,
			TP:       []string{tpAddr},
		},
	}
	reg, err := registry.New(context.Background(), cfg, nc, flipmoney.Load, nil)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}

func newTestDispatcher(t *testing.T, nc *fakeNodeClient) (*Dispatcher, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	reg := testRegistry(t, nc)
	return New(reg, s, nc), s
}

func TestGasFeeNativeExactIntegerProduct(t *testing.T) {
	got := gasFeeNative(21000, "50000000000")
	want := new(big.Int).Mul(big.NewInt(21000), big.NewInt(50000000000)).String()
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestGasFeeNativeInvalidGasPriceReturnsZero(t *testing.T) {
	if got := gasFeeNative(21000, "not-a-number"); got != "0" {
		t.Fatalf("expected 0 on an unparsable gas price, got %s", got)
	}
}

func TestHandleRevertSkipsTransactionsNotTouchingKnownContracts(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	tx := model.RawTransaction{
		Hash:        "0xdead",
		BlockNumber: 1,
		From:        "0x00000000000000000000000000000000000fff",
		To:          "0x00000000000000000000000000000000000eee",
		Status:      0,
	}
	if err := d.handleRevert(context.Background(), tx); err != nil {
		t.Fatalf("handleRevert: %v", err)
	}
	var op model.Operation
	found, err := s.FindOne(context.Background(), "operations", model.OperationKey(nil, tx.Hash), &op)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if found {
		t.Fatal("expected no operation to be recorded for a revert that touches no known contract")
	}
}

func TestHandleRevertSkipsWhenOnlyFromIsKnown(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	tx := model.RawTransaction{
		Hash:        "0xdead",
		BlockNumber: 1,
		From:        mocQueueAddr,
		To:          "0x00000000000000000000000000000000000eee",
		Status:      0,
	}
	if err := d.handleRevert(context.Background(), tx); err != nil {
		t.Fatalf("handleRevert: %v", err)
	}
	found, err := s.FindOne(context.Background(), "operations", model.OperationKey(nil, tx.Hash), &model.Operation{})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if found {
		t.Fatal("expected no operation to be recorded when only the sender (not the recipient contract) is known")
	}
}

func TestHandleRevertSynthesizesErrorOperation(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	tx := model.RawTransaction{
		Hash:        "0xdead",
		BlockNumber: 1,
		From:        "0x00000000000000000000000000000000000fff",
		To:          mocQueueAddr,
		Gas:         21000,
		GasPrice:    "1000000000",
		GasUsed:     21000,
		Status:      0,
	}
	if err := d.handleRevert(context.Background(), tx); err != nil {
		t.Fatalf("handleRevert: %v", err)
	}
	var op model.Operation
	found, err := s.FindOne(context.Background(), "operations", model.OperationKey(nil, tx.Hash), &op)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatal("expected a synthesized ERROR operation")
	}
	if op.Operation != model.KindError || op.Status != model.StatusReverted {
		t.Fatalf("expected operation=ERROR status=Reverted, got operation=%s status=%d", op.Operation, op.Status)
	}
	if op.Params == nil || op.Params.Recipient != tx.From {
		t.Fatalf("expected Recipient to be the tx sender (%s), got %+v", tx.From, op.Params)
	}
}

func TestRecordEventWritesAuditSnapshotKeyedByHash(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	reg := testRegistry(t, &fakeNodeClient{})
	tc, ok := reg.Lookup(tcAddr)
	if !ok {
		t.Fatal("expected TC to be registered")
	}

	tx := model.RawTransaction{Hash: "0xevt", BlockNumber: 7}
	decoded := &abidecoder.DecodedLog{
		EventName: "Transfer",
		Fields: map[string]interface{}{
			"from":  common.HexToAddress(mocAddr),
			"to":    common.HexToAddress(mocQueueAddr),
			"value": big.NewInt(500),
		},
	}
	if err := d.recordEvent(context.Background(), tx, tc, decoded); err != nil {
		t.Fatalf("recordEvent: %v", err)
	}

	var rec model.EventRecord
	collection := model.EventCollectionName(tc.Tag, "Transfer")
	found, err := s.FindOne(context.Background(), collection, map[string]interface{}{"hash": tx.Hash}, &rec)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatalf("expected an audit snapshot in %s", collection)
	}
	if rec.BlockNumber != tx.BlockNumber {
		t.Fatalf("expected blockNumber %d, got %d", tx.BlockNumber, rec.BlockNumber)
	}
}

func TestHandleTransferNormalizesZeroAddressMintToEmptySender(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	reg := testRegistry(t, &fakeNodeClient{})
	tc, ok := reg.Lookup(tcAddr)
	if !ok {
		t.Fatal("expected TC to be registered")
	}

	tx := model.RawTransaction{Hash: "0xmint", BlockNumber: 1}
	decoded := &abidecoder.DecodedLog{
		EventName: "Transfer",
		Fields: map[string]interface{}{
			"from":  common.HexToAddress("0x0000000000000000000000000000000000000000"),
			"to":    common.HexToAddress(tpAddr),
			"value": big.NewInt(250),
		},
	}
	if err := d.handleTransfer(context.Background(), tx, tc, decoded); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	var op model.Operation
	found, err := s.FindOne(context.Background(), "operations", model.OperationKey(nil, tx.Hash), &op)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatal("expected the mint transfer to be synthesized")
	}
	if op.Params == nil || op.Params.Sender != "" {
		t.Fatalf("expected a mint's zero-address sender to be normalized to empty/null, got %+v", op.Params)
	}
	if op.Params.Recipient != model.Lower(common.HexToAddress(tpAddr)) {
		t.Fatalf("expected the non-zero recipient to still be persisted, got %s", op.Params.Recipient)
	}
}

func TestHandleTransferElidesProtocolInternalTransfer(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	reg := testRegistry(t, &fakeNodeClient{})
	tc, ok := reg.Lookup(tcAddr)
	if !ok {
		t.Fatal("expected TC to be registered")
	}

	tx := model.RawTransaction{Hash: "0xinternal", BlockNumber: 1}
	decoded := &abidecoder.DecodedLog{
		EventName: "Transfer",
		Fields: map[string]interface{}{
			"from":  common.HexToAddress(mocAddr),
			"to":    common.HexToAddress(mocQueueAddr),
			"value": big.NewInt(1000),
		},
	}
	if err := d.handleTransfer(context.Background(), tx, tc, decoded); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	var op model.Operation
	found, err := s.FindOne(context.Background(), "operations", model.OperationKey(nil, tx.Hash), &op)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if found {
		t.Fatal("expected a transfer between two protocol-internal addresses to be elided")
	}
}

func TestHandleTransferSynthesizesExternalTransfer(t *testing.T) {
	d, s := newTestDispatcher(t, &fakeNodeClient{})
	reg := testRegistry(t, &fakeNodeClient{})
	tc, ok := reg.Lookup(tcAddr)
	if !ok {
		t.Fatal("expected TC to be registered")
	}

	external := common.HexToAddress("0x00000000000000000000000000000000009999")
	tx := model.RawTransaction{Hash: "0xexternal", BlockNumber: 1, GasUsed: 21000, GasPrice: "1"}
	decoded := &abidecoder.DecodedLog{
		EventName: "Transfer",
		Fields: map[string]interface{}{
			"from":  external,
			"to":    common.HexToAddress(tcAddr),
			"value": big.NewInt(500),
		},
	}
	if err := d.handleTransfer(context.Background(), tx, tc, decoded); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	var op model.Operation
	found, err := s.FindOne(context.Background(), "operations", model.OperationKey(nil, tx.Hash), &op)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !found {
		t.Fatal("expected a transfer touching an address outside the filter set to be synthesized")
	}
	if op.Operation != model.KindTransfer || op.Params.Amount != "500" {
		t.Fatalf("unexpected synthesized transfer: %+v", op)
	}
}
