// Package statusadvancer implements spec.md section 4.5's StatusAdvancer:
// it promotes operations whose receipt has aged past confirm_blocks to
// Confirmed, reverts ones whose receipt turns up failed, marks ones whose
// receipt never resolves as Stale, and refreshes confirmingPercent for
// everything still in flight.
//
// Grounded in the teacher's dbsyncer reconciliation pass: periodically
// re-read a bounded batch of not-yet-final records and advance each one
// independently, with no shared transaction across the batch.
package statusadvancer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/money-on-chain/stable-indexer/internal/checkpoint"
	"github.com/money-on-chain/stable-indexer/internal/logger"
	"github.com/money-on-chain/stable-indexer/internal/metrics"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/nodeclient"
	"github.com/money-on-chain/stable-indexer/internal/store"
)

var log = logger.NewModuleLogger("statusadvancer")

const staleErrorCode = "staleTransaction"

type Config struct {
	ConfirmBlocks          int64
	SecondsNotInChainError int64
}

type Advancer struct {
	cfg  Config
	nc   nodeclient.NodeClient
	s    store.Store
	ckpt *checkpoint.Manager
}

func New(cfg Config, nc nodeclient.NodeClient, s store.Store, ckpt *checkpoint.Manager) *Advancer {
	return &Advancer{cfg: cfg, nc: nc, s: s, ckpt: ckpt}
}

// Tick implements spec.md section 4.5's algorithm.
func (a *Advancer) Tick(ctx context.Context) error {
	head, err := a.nc.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching head")
	}

	state, err := a.ckpt.Load(ctx)
	if err != nil {
		return err
	}
	if int64(head) <= state.LastStatusBlock {
		return nil
	}
	if err := a.ckpt.AdvanceStatus(ctx, int64(head)); err != nil {
		return err
	}

	var pending []model.Operation
	filter := map[string]interface{}{
		"status":           map[string]interface{}{"$gte": int(model.StatusExecuted)},
		"confirmationTime": nil,
	}
	if err := a.s.FindMany(ctx, "operations", filter, nil, 0, &pending); err != nil {
		return errors.Wrap(err, "loading pending operations")
	}

	now := time.Now().UTC()
	for _, op := range pending {
		if err := a.advanceOne(ctx, op, int64(head), now); err != nil {
			return errors.Wrapf(err, "advancing operation hash=%s", op.Hash)
		}
	}
	return nil
}

func (a *Advancer) advanceOne(ctx context.Context, op model.Operation, head int64, now time.Time) error {
	key := model.OperationKey(op.OperID, op.Hash)

	receipt, err := a.nc.TransactionReceipt(ctx, common.HexToHash(op.Hash))
	if err != nil {
		if now.Sub(op.CreatedAt) > time.Duration(a.cfg.SecondsNotInChainError)*time.Second {
			metrics.StatusAdvancerStaleGauge.Inc(1)
			return a.s.UpdateOne(ctx, "operations", key, map[string]interface{}{
				"status":        model.StatusStale,
				"errorCode":     staleErrorCode,
				"lastUpdatedAt": now,
			})
		}
		return nil
	}

	if receipt.Status == 0 {
		return a.s.UpdateOne(ctx, "operations", key, map[string]interface{}{
			"status":        model.StatusReverted,
			"lastUpdatedAt": now,
		})
	}

	blockNumber := receipt.BlockNumber.Int64()
	if head-blockNumber > a.cfg.ConfirmBlocks {
		metrics.StatusAdvancerConfirmedGauge.Inc(1)
		return a.s.UpdateOne(ctx, "operations", key, map[string]interface{}{
			"status":            model.StatusConfirmed,
			"confirmationTime":  now,
			"confirmingPercent": 100,
			"lastUpdatedAt":     now,
		})
	}

	return a.s.UpdateOne(ctx, "operations", key, map[string]interface{}{
		"confirmingPercent": confirmingPercent(head, blockNumber, a.cfg.ConfirmBlocks),
		"lastUpdatedAt":     now,
	})
}

// confirmingPercent mirrors the original's (head-blockNumber)*10 ramp
// from the original_source's BaseEvent.confirming_percent, clamped to
// [0,100] since confirm_blocks can be smaller than 10 blocks.
func confirmingPercent(head, blockNumber, confirmBlocks int64) int {
	_ = confirmBlocks
	pct := (head - blockNumber) * 10
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}
