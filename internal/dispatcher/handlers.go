package dispatcher

import (
	"context"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/money-on-chain/stable-indexer/internal/abidecoder"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/registry"
)

// queueSlot mirrors the MocQueue.operations(operId_) getter's tuple, used
// by the OperationQueued handler to fetch the request parameters a
// single indexed event field cannot carry (spec.md section 4.3).
type queueSlot struct {
	OperType    uint8
	Sender      common.Address
	Recipient   common.Address
	Vendor      common.Address
	TpIndex     uint8
	TpFromIndex uint8
	TpToIndex   uint8
	QTC         *big.Int
	QTP         *big.Int
	QACmax      *big.Int
	QACmin      *big.Int
	QTPmin      *big.Int
	QTCmin      *big.Int
}

func (d *Dispatcher) loadOperation(ctx context.Context, operID model.OperID) (model.Operation, bool, error) {
	var op model.Operation
	found, err := d.s.FindOne(ctx, "operations", model.OperationKey(&operID, ""), &op)
	if err != nil {
		return model.Operation{}, false, errors.Wrap(err, "loading operation")
	}
	return op, found, nil
}

// handleOperationQueued implements spec.md section 4.3's OperationQueued
// handler: derive the kind from operType_, static-call MocQueue for the
// full parameter set, and insert at status=Queued unless an execution or
// error event has already advanced this operId past it.
func (d *Dispatcher) handleOperationQueued(ctx context.Context, tx model.RawTransaction, decoded *abidecoder.DecodedLog) error {
	operID, err := model.ParseOperID(decoded.Fields["operId_"])
	if err != nil {
		return errors.Wrap(err, "parsing operId_")
	}
	operType, ok := fieldUint8(decoded.Fields["operType_"])
	if !ok {
		return errors.New("OperationQueued missing operType_")
	}
	kind, ok := model.OperationKindFromOperType(int64(operType))
	if !ok {
		log.Warn("unknown operType_, skipping", "operType", operType, "operId", operID.String())
		return nil
	}

	existing, found, err := d.loadOperation(ctx, operID)
	if err != nil {
		return err
	}
	if found && existing.Status >= model.StatusExecuted {
		log.Debug("operation already advanced, ignoring late OperationQueued", "operId", operID.String(), "status", existing.Status)
		return nil
	}

	params := &model.OperationParams{}
	if bucket, ok := fieldAddress(decoded.Fields["bucket_"]); ok {
		params.Bucket = model.Lower(bucket)
	}

	mocQueueAddr, haveQueue := d.reg.MocQueueAddress()
	if haveQueue {
		var slot queueSlot
		if err := d.nc.Call(ctx, d.reg.MocQueueABI(), mocQueueAddr, "operations", &slot, operID.Big()); err != nil {
			log.Warn("static call to MocQueue.operations failed, inserting with partial params", "operId", operID.String(), "err", err.Error())
		} else {
			fillParamsFromSlot(params, slot)
		}
	}

	now := time.Now().UTC()
	patch := map[string]interface{}{
		"operation":        string(kind),
		"params":           params,
		"blockNumber":      tx.BlockNumber,
		"hash":             tx.Hash,
		"gas":              tx.Gas,
		"gasPrice":         tx.GasPrice,
		"gasUsed":          tx.GasUsed,
		"gasFeeNative":     gasFeeNative(tx.GasUsed, tx.GasPrice),
		"lastUpdatedAt":    now,
		"last_block_indexed": tx.BlockNumber,
	}
	if !found {
		patch["status"] = model.StatusQueued
		patch["createdAt"] = now
		patch["confirmationTime"] = nil
		patch["confirmingPercent"] = 0
	}
	return d.s.Upsert(ctx, "operations", model.OperationKey(&operID, ""), patch)
}

func fillParamsFromSlot(p *model.OperationParams, slot queueSlot) {
	if slot.Sender != (common.Address{}) {
		p.Sender = model.Lower(slot.Sender)
	}
	if slot.Recipient != (common.Address{}) {
		p.Recipient = model.Lower(slot.Recipient)
	}
	if slot.Vendor != (common.Address{}) {
		p.Vendor = model.Lower(slot.Vendor)
	}
	if slot.QTC != nil && slot.QTC.Sign() != 0 {
		p.QTC = slot.QTC.String()
	}
	if slot.QTP != nil && slot.QTP.Sign() != 0 {
		p.QTP = slot.QTP.String()
	}
	if slot.QACmax != nil && slot.QACmax.Sign() != 0 {
		p.QACmax = slot.QACmax.String()
	}
	if slot.QACmin != nil && slot.QACmin.Sign() != 0 {
		p.QACmin = slot.QACmin.String()
	}
	if slot.QTPmin != nil && slot.QTPmin.Sign() != 0 {
		p.QTPmin = slot.QTPmin.String()
	}
	if slot.QTCmin != nil && slot.QTCmin.Sign() != 0 {
		p.QTCmin = slot.QTCmin.String()
	}
	tpIdx := int(slot.TpIndex)
	p.TPIndex = &tpIdx
	tpFromIdx := int(slot.TpFromIndex)
	p.TPFromIndex = &tpFromIdx
	tpToIdx := int(slot.TpToIndex)
	p.TPToIndex = &tpToIdx
}

// handleOperationError implements spec.md section 4.3's monotonicity
// rules: an error arriving after the operation has already executed or
// confirmed must not overwrite status, and the FLUX_CAPACITOR_REACHED
// sentinel keeps the operation queued rather than failing it.
func (d *Dispatcher) handleOperationError(ctx context.Context, tx model.RawTransaction, decoded *abidecoder.DecodedLog) error {
	operID, err := model.ParseOperID(decoded.Fields["operId_"])
	if err != nil {
		return errors.Wrap(err, "parsing operId_")
	}
	existing, found, err := d.loadOperation(ctx, operID)
	if err != nil {
		return err
	}
	if found && existing.Status >= model.StatusExecuted {
		log.Debug("ignoring OperationError on an already-executed operation", "operId", operID.String())
		return nil
	}

	errorCode, _ := fieldBytes4(decoded.Fields["errorCode_"])
	newStatus := model.StatusError
	if errorCode == model.FluxCapacitorErrorCode {
		newStatus = model.StatusQueued
	}

	now := time.Now().UTC()
	patch := map[string]interface{}{
		"status":              newStatus,
		"errorCode":           errorCode,
		"blockNumber":         tx.BlockNumber,
		"hash":                tx.Hash,
		"lastUpdatedAt":       now,
		"last_block_indexed": tx.BlockNumber,
	}
	if !found {
		patch["operation"] = string(model.KindError)
		patch["createdAt"] = now
		patch["confirmationTime"] = nil
	}
	return d.s.Upsert(ctx, "operations", model.OperationKey(&operID, ""), patch)
}

// handleUnhandledError sets status UnhandledError; it does not read or
// persist the event's reason_ field.
func (d *Dispatcher) handleUnhandledError(ctx context.Context, tx model.RawTransaction, decoded *abidecoder.DecodedLog) error {
	operID, err := model.ParseOperID(decoded.Fields["operId_"])
	if err != nil {
		return errors.Wrap(err, "parsing operId_")
	}
	existing, found, err := d.loadOperation(ctx, operID)
	if err != nil {
		return err
	}
	if found && existing.Status >= model.StatusExecuted {
		log.Debug("ignoring UnhandledError on an already-executed operation", "operId", operID.String())
		return nil
	}

	now := time.Now().UTC()
	patch := map[string]interface{}{
		"status":              model.StatusUnhandledError,
		"blockNumber":         tx.BlockNumber,
		"hash":                tx.Hash,
		"lastUpdatedAt":       now,
		"last_block_indexed": tx.BlockNumber,
	}
	if !found {
		patch["operation"] = string(model.KindError)
		patch["createdAt"] = now
		patch["confirmationTime"] = nil
	}
	return d.s.Upsert(ctx, "operations", model.OperationKey(&operID, ""), patch)
}

// handleOperationExecuted records the executor of a queue slot. It is the
// generic "an operation was executed" signal; the per-kind execution
// events (TCMinted, ...) carry the full snapshot via handleExecution.
func (d *Dispatcher) handleOperationExecuted(ctx context.Context, tx model.RawTransaction, decoded *abidecoder.DecodedLog) error {
	operID, err := model.ParseOperID(decoded.Fields["operId_"])
	if err != nil {
		return errors.Wrap(err, "parsing operId_")
	}
	existing, found, err := d.loadOperation(ctx, operID)
	if err != nil {
		return err
	}

	executor, _ := fieldAddress(decoded.Fields["executor"])
	now := time.Now().UTC()
	patch := map[string]interface{}{
		"lastUpdatedAt": now,
	}
	if !found || existing.Status < model.StatusExecuted {
		patch["status"] = model.StatusExecuted
	}
	if !found || existing.Executed == nil {
		patch["executed"] = &model.OperationExecuted{Executor: model.Lower(executor)}
	}
	return d.s.Upsert(ctx, "operations", model.OperationKey(&operID, ""), patch)
}

// handleExecution implements the execution-event handler contract shared
// by all nine operation kinds (spec.md section 4.3): upsert the
// operations document with status=Executed and a one-time snapshot of the
// decoded event fields.
func (d *Dispatcher) handleExecution(ctx context.Context, tx model.RawTransaction, kind model.OperationKind, decoded *abidecoder.DecodedLog) error {
	operID, err := model.ParseOperID(decoded.Fields["operId_"])
	if err != nil {
		return errors.Wrap(err, "parsing operId_")
	}
	existing, found, err := d.loadOperation(ctx, operID)
	if err != nil {
		return err
	}

	status := model.StatusExecuted
	if found && existing.Status > model.StatusExecuted {
		status = existing.Status // never downgrade a Confirmed operation
	}

	now := time.Now().UTC()
	patch := map[string]interface{}{
		"operation":           string(kind),
		"status":              status,
		"blockNumber":         tx.BlockNumber,
		"hash":                tx.Hash,
		"gas":                 tx.Gas,
		"gasPrice":            tx.GasPrice,
		"gasUsed":             tx.GasUsed,
		"gasFeeNative":        gasFeeNative(tx.GasUsed, tx.GasPrice),
		"lastUpdatedAt":       now,
		"last_block_indexed": tx.BlockNumber,
	}
	if !found {
		patch["createdAt"] = now
		patch["confirmationTime"] = nil
		patch["confirmingPercent"] = 0
	}
	if !found || existing.Executed == nil {
		patch["executed"] = extractExecuted(decoded)
	}
	return d.s.Upsert(ctx, "operations", model.OperationKey(&operID, ""), patch)
}

func extractExecuted(decoded *abidecoder.DecodedLog) *model.OperationExecuted {
	exec := &model.OperationExecuted{}
	if v, ok := fieldBigInt(decoded.Fields["qTC_"]); ok {
		exec.QTC = v.String()
	}
	if v, ok := fieldBigInt(decoded.Fields["qTP_"]); ok {
		exec.QTP = v.String()
	}
	if v, ok := fieldBigInt(decoded.Fields["qAC_"]); ok {
		exec.QAC = v.String()
	}
	if v, ok := fieldBigInt(decoded.Fields["qACfee_"]); ok {
		exec.QACfee = v.String()
	}
	if v, ok := fieldBigInt(decoded.Fields["qFeeToken_"]); ok {
		exec.QFeeToken = v.String()
	}
	if v, ok := fieldBigInt(decoded.Fields["qACVendorMarkup_"]); ok {
		exec.QACVendorMarkup = v.String()
	}
	if v, ok := fieldBigInt(decoded.Fields["qFeeTokenVendorMarkup_"]); ok {
		exec.QFeeTokenVendorMarkup = v.String()
	}
	return exec
}

// handleTransfer implements spec.md section 4.3's Transfer handler: a
// transfer between two known protocol addresses is elided because its
// value is already captured by the corresponding operation; otherwise it
// is synthesized as its own operation.
func (d *Dispatcher) handleTransfer(ctx context.Context, tx model.RawTransaction, c *registry.Contract, decoded *abidecoder.DecodedLog) error {
	from, _ := fieldAddress(decoded.Fields["from"])
	to, _ := fieldAddress(decoded.Fields["to"])
	value, _ := fieldBigInt(decoded.Fields["value"])

	filterSet := d.reg.FilterSet()
	if filterSet.Contains(from) && filterSet.Contains(to) {
		return nil
	}

	valueStr := "0"
	if value != nil {
		valueStr = value.String()
	}
	now := time.Now().UTC()
	op := model.Operation{
		BlockNumber: tx.BlockNumber,
		Hash:        tx.Hash,
		Operation:   model.KindTransfer,
		Params: &model.OperationParams{
			Token:     c.Tag,
			Sender:    normalizedOrEmpty(from),
			Recipient: normalizedOrEmpty(to),
			Amount:    valueStr,
		},
		Gas:              tx.Gas,
		GasPrice:         tx.GasPrice,
		GasUsed:          tx.GasUsed,
		GasFeeNative:     gasFeeNative(tx.GasUsed, tx.GasPrice),
		Status:           model.StatusExecuted,
		CreatedAt:        now,
		LastUpdatedAt:    now,
		LastBlockIndexed: tx.BlockNumber,
	}
	return d.s.Upsert(ctx, "operations", model.OperationKey(nil, tx.Hash), op)
}

func (d *Dispatcher) handleNewBitcoinTransfer(ctx context.Context, tx model.RawTransaction, decoded *abidecoder.DecodedLog) error {
	transferID, ok := fieldBytes32(decoded.Fields["transferId"])
	if !ok {
		return errors.New("NewBitcoinTransfer missing transferId")
	}
	recipient, _ := fieldAddress(decoded.Fields["btcAddress"])
	amount, _ := fieldBigInt(decoded.Fields["amountSatoshi"])

	amountStr := "0"
	if amount != nil {
		amountStr = amount.String()
	}
	now := time.Now().UTC()
	doc := model.FastBtcTransfer{
		TransferID:    transferID,
		Status:        0,
		Recipient:     normalizedOrEmpty(recipient),
		Amount:        amountStr,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	return d.s.Upsert(ctx, "FastBtcBridge", map[string]interface{}{"transferId": transferID}, doc)
}

func (d *Dispatcher) handleBitcoinTransferStatusUpdated(ctx context.Context, tx model.RawTransaction, decoded *abidecoder.DecodedLog) error {
	transferID, ok := fieldBytes32(decoded.Fields["transferId"])
	if !ok {
		return errors.New("BitcoinTransferStatusUpdated missing transferId")
	}
	newStatus, _ := fieldUint8(decoded.Fields["newStatus"])
	patch := map[string]interface{}{
		"status":        int(newStatus),
		"lastUpdatedAt": time.Now().UTC(),
	}
	return d.s.UpdateOne(ctx, "FastBtcBridge", map[string]interface{}{"transferId": transferID}, patch)
}

// --- field extraction helpers ---
//
// Non-indexed fields decode through abi.UnpackIntoMap into native Go
// types (common.Address, *big.Int, uint8, string); indexed fields decode
// through this module's own parseTopicValue, which returns [20]byte for
// addresses, *big.Int for integers, bool for booleans and a []byte slice
// for every other type (bytes32 included), since no abi.Type conversion
// runs on topic words. Both forms are accepted here.

func fieldAddress(v interface{}) (common.Address, bool) {
	switch t := v.(type) {
	case common.Address:
		return t, true
	case [20]byte:
		return common.Address(t), true
	default:
		return common.Address{}, false
	}
}

// normalizedOrEmpty lowers addr for persistence, or returns "" when addr is
// the all-zero sentinel — bson's "omitempty" tag then leaves the field
// absent rather than storing the literal zero address (spec.md section 9).
func normalizedOrEmpty(addr common.Address) string {
	normalized, ok := model.NormalizeAddress(addr.Bytes())
	if !ok {
		return ""
	}
	return model.Lower(normalized)
}

func fieldBigInt(v interface{}) (*big.Int, bool) {
	t, ok := v.(*big.Int)
	return t, ok
}

func fieldUint8(v interface{}) (uint8, bool) {
	switch t := v.(type) {
	case uint8:
		return t, true
	case *big.Int:
		return uint8(t.Uint64()), true
	default:
		return 0, false
	}
}

func fieldBytes4(v interface{}) (string, bool) {
	switch t := v.(type) {
	case [4]byte:
		return "0x" + hex.EncodeToString(t[:]), true
	case [32]byte:
		return "0x" + hex.EncodeToString(t[:4]), true
	default:
		return "", false
	}
}

func fieldBytes32(v interface{}) (string, bool) {
	switch t := v.(type) {
	case [32]byte:
		return "0x" + hex.EncodeToString(t[:]), true
	case []byte:
		return "0x" + hex.EncodeToString(t), true
	default:
		return "", false
	}
}
