// Package walker implements spec.md sections 4.1 and 4.2: RawBlockWalker
// and ConfirmingRescanner, one generic engine parameterized by the cursor
// it advances and the lag it applies, since the two differ only in cursor
// field, lag and upsert-vs-skip-existing semantics.
//
// Grounded in the teacher's ChainDataFetcher.handleChain loop: read a
// bounded range of blocks each tick, process, then persist a cursor.
package walker

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/money-on-chain/stable-indexer/internal/checkpoint"
	"github.com/money-on-chain/stable-indexer/internal/logger"
	"github.com/money-on-chain/stable-indexer/internal/metrics"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/nodeclient"
	"github.com/money-on-chain/stable-indexer/internal/store"
)

var log = logger.NewModuleLogger("walker")

// Mode distinguishes RawBlockWalker from ConfirmingRescanner: same tick
// algorithm, different cursor/lag/upsert semantics (spec.md section 4.2).
type Mode int

const (
	ModeRaw Mode = iota
	ModeConfirming
)

// Config is the {recession_lag | confirm_blocks, from_block,
// to_block_optional, max_blocks_per_tick} input of spec.md section 4.1.
type Config struct {
	Mode               Mode
	Lag                int64
	FromBlock          int64
	ToBlock            int64 // 0 means unbounded
	MaxBlocksPerTick   int64
}

type Walker struct {
	cfg       Config
	nc        nodeclient.NodeClient
	s         store.Store
	ckpt      *checkpoint.Manager
	filterSet model.AddressSet

	signer types.Signer
}

func New(cfg Config, nc nodeclient.NodeClient, s store.Store, ckpt *checkpoint.Manager, filterSet model.AddressSet) *Walker {
	return &Walker{cfg: cfg, nc: nc, s: s, ckpt: ckpt, filterSet: filterSet}
}

// NewRawWalker builds a RawBlockWalker: spec.md section 4.1.
func NewRawWalker(recessionLag, fromBlock, toBlock, maxBlocksPerTick int64, nc nodeclient.NodeClient, s store.Store, ckpt *checkpoint.Manager, filterSet model.AddressSet) *Walker {
	return New(Config{Mode: ModeRaw, Lag: recessionLag, FromBlock: fromBlock, ToBlock: toBlock, MaxBlocksPerTick: maxBlocksPerTick}, nc, s, ckpt, filterSet)
}

// NewConfirmingWalker builds a ConfirmingRescanner: spec.md section 4.2.
func NewConfirmingWalker(confirmBlocks, fromBlock, toBlock, maxBlocksPerTick int64, nc nodeclient.NodeClient, s store.Store, ckpt *checkpoint.Manager, filterSet model.AddressSet) *Walker {
	return New(Config{Mode: ModeConfirming, Lag: confirmBlocks, FromBlock: fromBlock, ToBlock: toBlock, MaxBlocksPerTick: maxBlocksPerTick}, nc, s, ckpt, filterSet)
}

// Tick runs a single pass of the algorithm in spec.md section 4.1.
func (w *Walker) Tick(ctx context.Context) error {
	if w.signer == nil {
		chainID, err := w.nc.ChainID(ctx)
		if err != nil {
			return errors.Wrap(err, "fetching chain id")
		}
		w.signer = types.LatestSignerForChainID(chainID)
	}

	head, err := w.nc.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching head")
	}
	if w.cfg.Mode == ModeRaw {
		metrics.RawWalkerHeadGauge.Update(int64(head))
	}
	safeHead := int64(head) - w.cfg.Lag

	state, err := w.ckpt.Load(ctx)
	if err != nil {
		return err
	}
	lastCursor := state.LastRawBlock
	if w.cfg.Mode == ModeConfirming {
		lastCursor = state.LastRawConfirmingBlock
	}

	cursorFrom := maxInt64(lastCursor+1, w.cfg.FromBlock)
	cursorTo := safeHead
	if w.cfg.ToBlock > 0 && w.cfg.ToBlock < cursorTo {
		cursorTo = w.cfg.ToBlock
	}
	if w.cfg.MaxBlocksPerTick > 0 && cursorFrom+w.cfg.MaxBlocksPerTick-1 < cursorTo {
		cursorTo = cursorFrom + w.cfg.MaxBlocksPerTick - 1
	}

	if cursorFrom > cursorTo {
		return nil
	}

	for b := cursorFrom; b <= cursorTo; b++ {
		if err := w.processBlock(ctx, b, int64(head)); err != nil {
			return errors.Wrapf(err, "processing block %d", b)
		}
	}
	return nil
}

func (w *Walker) processBlock(ctx context.Context, blockNumber, head int64) error {
	block, err := w.nc.BlockByNumber(ctx, uint64(blockNumber))
	if err != nil {
		return errors.Wrapf(err, "fetching block %d", blockNumber)
	}

	for _, tx := range block.Transactions() {
		fromAddr, err := types.Sender(w.signer, tx)
		if err != nil {
			log.Warn("could not recover sender, skipping tx", "hash", tx.Hash().Hex(), "err", err.Error())
			continue
		}
		from := model.Lower(fromAddr)
		to := ""
		if tx.To() != nil {
			to = model.Lower(*tx.To())
		}
		if !w.filterSet.ContainsHex(from) && !w.filterSet.ContainsHex(to) {
			continue
		}

		receipt, err := w.nc.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			log.Warn("receipt unavailable, skipping tx this tick", "hash", tx.Hash().Hex(), "err", err.Error())
			continue
		}
		if head-int64(receipt.BlockNumber.Int64()) < 1 {
			continue
		}

		doc := buildRawTransaction(tx, receipt, from, to, block.Time())
		key := model.RawTransactionKey(doc.Hash, doc.BlockNumber)

		if w.cfg.Mode == ModeConfirming {
			inserted, err := w.s.UpsertIfAbsent(ctx, "raw_transactions", key, doc)
			if err != nil {
				return errors.Wrap(err, "upsert-if-absent raw_transactions")
			}
			if inserted {
				metrics.ConfirmingWalkerRepairedTx.Inc(1)
				log.Info("confirming rescanner recovered a missed transaction", "hash", doc.Hash, "blockNumber", doc.BlockNumber)
			}
		} else {
			// "processed" defaults to false on insert only; a later
			// re-upsert of the same hash/blockNumber (e.g. a retried tick)
			// must never reset it back to false once the dispatcher has
			// advanced it (spec.md section 4.1).
			if err := w.s.Upsert(ctx, "raw_transactions", key, doc, "processed"); err != nil {
				return errors.Wrap(err, "upsert raw_transactions")
			}
			metrics.RawWalkerTxWritten.Inc(1)
		}
	}

	switch w.cfg.Mode {
	case ModeRaw:
		if err := w.ckpt.AdvanceRaw(ctx, blockNumber, time.Unix(int64(block.Time()), 0).UTC()); err != nil {
			return err
		}
		metrics.RawWalkerBlocksWritten.Inc(1)
		metrics.RawWalkerCheckpointGauge.Update(blockNumber)
	case ModeConfirming:
		if err := w.ckpt.AdvanceConfirming(ctx, blockNumber); err != nil {
			return err
		}
		metrics.ConfirmingWalkerCheckpointGauge.Update(blockNumber)
	}
	return nil
}

// buildRawTransaction assembles the raw_transactions document of spec.md
// section 2, with logs flattened in log-index order for the dispatcher's
// sequential replay (spec.md section 4.3 step 2).
func buildRawTransaction(tx *types.Transaction, receipt *types.Receipt, from, to string, blockTime uint64) model.RawTransaction {
	logs := make([]model.RawLog, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		logs = append(logs, model.RawLog{
			Address:  model.Lower(l.Address),
			Topics:   topics,
			Data:     "0x" + common.Bytes2Hex(l.Data),
			LogIndex: int(l.Index),
		})
	}

	value := "0"
	if tx.Value() != nil {
		value = tx.Value().String()
	}
	gasPrice := "0"
	if tx.GasPrice() != nil {
		gasPrice = tx.GasPrice().String()
	}

	now := time.Now().UTC()
	return model.RawTransaction{
		Hash:          tx.Hash().Hex(),
		BlockNumber:   receipt.BlockNumber.Int64(),
		BlockHash:     receipt.BlockHash.Hex(),
		From:          from,
		To:            to,
		Value:         value,
		Gas:           tx.Gas(),
		GasPrice:      gasPrice,
		GasUsed:       receipt.GasUsed,
		Input:         "0x" + common.Bytes2Hex(tx.Data()),
		Logs:          logs,
		Status:        int(receipt.Status),
		Processed:     false,
		Timestamp:     time.Unix(int64(blockTime), 0).UTC(),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
