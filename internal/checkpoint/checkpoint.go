// Package checkpoint manages the single-document indexer_state record
// (spec.md section 2 item 3) shared across RawBlockWalker,
// ConfirmingRescanner and StatusAdvancer. Checkpoint advances are
// individually monotonic per field (spec.md section 8 invariant 4); the
// Manager enforces that by refusing to write a value lower than the one
// already on record.
package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/money-on-chain/stable-indexer/internal/logger"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/store"
)

const collection = "indexer_state"

// stateKey is the single document's key: indexer_state has exactly one
// record, so it is addressed by a fixed singleton id rather than a
// protocol-derived key.
var stateKey = map[string]interface{}{"_id": "singleton"}

var log = logger.NewModuleLogger("checkpoint")

type Manager struct {
	s store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{s: s}
}

// Load fetches the current checkpoint, returning the zero value if the
// document does not exist yet (first run).
func (m *Manager) Load(ctx context.Context) (model.IndexerState, error) {
	var state model.IndexerState
	found, err := m.s.FindOne(ctx, collection, stateKey, &state)
	if err != nil {
		return model.IndexerState{}, errors.Wrap(err, "loading checkpoint")
	}
	if !found {
		return model.IndexerState{}, nil
	}
	return state, nil
}

// AdvanceRaw writes last_raw_block, last_block_number and last_block_ts
// after a RawBlockWalker block is fully processed (spec.md section 4.1
// step 5). blockNumber must be >= the value already on record.
func (m *Manager) AdvanceRaw(ctx context.Context, blockNumber int64, blockTS time.Time) error {
	current, err := m.Load(ctx)
	if err != nil {
		return err
	}
	if blockNumber < current.LastRawBlock {
		log.Warn("refusing non-monotonic raw checkpoint advance", "current", current.LastRawBlock, "attempted", blockNumber)
		return nil
	}
	patch := map[string]interface{}{
		"last_raw_block":    blockNumber,
		"last_block_number": blockNumber,
		"last_block_ts":     blockTS,
		"updated_at":        time.Now().UTC(),
	}
	return m.s.Upsert(ctx, collection, stateKey, patch)
}

// AdvanceConfirming writes last_raw_confirming_block, monotonically.
func (m *Manager) AdvanceConfirming(ctx context.Context, blockNumber int64) error {
	current, err := m.Load(ctx)
	if err != nil {
		return err
	}
	if blockNumber < current.LastRawConfirmingBlock {
		log.Warn("refusing non-monotonic confirming checkpoint advance", "current", current.LastRawConfirmingBlock, "attempted", blockNumber)
		return nil
	}
	patch := map[string]interface{}{
		"last_raw_confirming_block": blockNumber,
		"updated_at":                time.Now().UTC(),
	}
	return m.s.Upsert(ctx, collection, stateKey, patch)
}

// AdvanceStatus writes last_status_block, monotonically.
func (m *Manager) AdvanceStatus(ctx context.Context, blockNumber int64) error {
	current, err := m.Load(ctx)
	if err != nil {
		return err
	}
	if blockNumber < current.LastStatusBlock {
		log.Warn("refusing non-monotonic status checkpoint advance", "current", current.LastStatusBlock, "attempted", blockNumber)
		return nil
	}
	patch := map[string]interface{}{
		"last_status_block": blockNumber,
		"updated_at":        time.Now().UTC(),
	}
	return m.s.Upsert(ctx, collection, stateKey, patch)
}
