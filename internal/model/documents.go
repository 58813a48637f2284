package model

import "time"

// OperationKind tags the nine queue-based operation kinds plus the two
// synthesized ones (Transfer, ERROR), per the spec.md glossary.
type OperationKind string

const (
	KindTCMint         OperationKind = "TCMint"
	KindTCRedeem       OperationKind = "TCRedeem"
	KindTPMint         OperationKind = "TPMint"
	KindTPRedeem       OperationKind = "TPRedeem"
	KindTCandTPMint    OperationKind = "TCandTPMint"
	KindTCandTPRedeem  OperationKind = "TCandTPRedeem"
	KindTPSwapForTP    OperationKind = "TPSwapForTP"
	KindTPSwapForTC    OperationKind = "TPSwapForTC"
	KindTCSwapForTP    OperationKind = "TCSwapForTP"
	KindTransfer       OperationKind = "Transfer"
	KindError          OperationKind = "ERROR"
)

// operType_ on OperationQueued maps 1..9 onto the nine queue kinds, per
// spec.md section 4.3 and the original source's inline comment block in
// EventMocQueueOperationQueued.
var operTypeToKind = map[int64]OperationKind{
	1: KindTCMint,
	2: KindTCRedeem,
	3: KindTPMint,
	4: KindTPRedeem,
	5: KindTCandTPMint,
	6: KindTCandTPRedeem,
	7: KindTCSwapForTP,
	8: KindTPSwapForTC,
	9: KindTPSwapForTP,
}

func OperationKindFromOperType(operType int64) (OperationKind, bool) {
	k, ok := operTypeToKind[operType]
	return k, ok
}

// Status values, spec.md section 4.3.
type Status int

const (
	StatusQueued          Status = 0
	StatusExecuted        Status = 1
	StatusConfirmed       Status = 2
	StatusError           Status = -1
	StatusUnhandledError  Status = -2
	StatusStale           Status = -3
	StatusReverted        Status = -4
)

// FluxCapacitorErrorCode is the sentinel OperationError code that keeps an
// operation queued for retry instead of failing it, spec.md section 4.3.
const FluxCapacitorErrorCode = "0x0db483ca"

// RawTransaction is the raw_transactions document, keyed by (hash,
// blockNumber). Immutable once written except processed/lastUpdatedAt.
type RawTransaction struct {
	Hash           string    `bson:"hash"`
	BlockNumber    int64     `bson:"blockNumber"`
	BlockHash      string    `bson:"blockHash"`
	From           string    `bson:"from"`
	To             string    `bson:"to"`
	Value          string    `bson:"value"`
	Gas            uint64    `bson:"gas"`
	GasPrice       string    `bson:"gasPrice"`
	GasUsed        uint64    `bson:"gasUsed"`
	Input          string    `bson:"input"`
	Logs           []RawLog  `bson:"logs"`
	Status         int       `bson:"status"`
	Processed      bool      `bson:"processed"`
	Confirmations  int64     `bson:"confirmations"`
	Timestamp      time.Time `bson:"timestamp"`
	CreatedAt      time.Time `bson:"createdAt"`
	LastUpdatedAt  time.Time `bson:"lastUpdatedAt"`
}

// RawTransactionKey builds the composite document key used by upsert/find.
func RawTransactionKey(hash string, blockNumber int64) map[string]interface{} {
	return map[string]interface{}{"hash": hash, "blockNumber": blockNumber}
}

type RawLog struct {
	Address  string   `bson:"address"`
	Topics   []string `bson:"topics"`
	Data     string   `bson:"data"`
	LogIndex int      `bson:"logIndex"`
}

// OperationParams is the flattened union of every operation kind's
// parameter set (spec.md glossary). Unused fields for a given kind are
// left at the zero value / omitted on write. A flat struct (rather than a
// Go tagged-union type) is used because the document store has no native
// variant encoding; see DESIGN.md for the grounding of this choice.
type OperationParams struct {
	Sender    string `bson:"sender,omitempty"`
	Recipient string `bson:"recipient,omitempty"`
	Vendor    string `bson:"vendor,omitempty"`

	TP      string `bson:"tp,omitempty"`
	TPIndex *int   `bson:"tpIndex,omitempty"`

	TPFrom      string `bson:"tpFrom,omitempty"`
	TPFromIndex *int   `bson:"tpFromIndex,omitempty"`
	TPTo        string `bson:"tpTo,omitempty"`
	TPToIndex   *int   `bson:"tpToIndex,omitempty"`

	QTC      string `bson:"qTC,omitempty"`
	QTP      string `bson:"qTP,omitempty"`
	QACmax   string `bson:"qACmax,omitempty"`
	QACmin   string `bson:"qACmin,omitempty"`
	QTPmin   string `bson:"qTPmin,omitempty"`
	QTCmin   string `bson:"qTCmin,omitempty"`

	// Synthesized-operation fields (Transfer).
	Token  string `bson:"token,omitempty"`
	Amount string `bson:"amount,omitempty"`

	// Legacy collateral-mode artifact, see SPEC_FULL.md section 3.
	Bucket string `bson:"bucket,omitempty"`
}

// OperationExecuted is the snapshot taken from the execution event,
// written at most once (spec.md invariant 2).
type OperationExecuted struct {
	Executor              string `bson:"executor,omitempty"`
	QTC                    string `bson:"qTC,omitempty"`
	QTP                    string `bson:"qTP,omitempty"`
	QAC                    string `bson:"qAC,omitempty"`
	QACfee                 string `bson:"qACfee,omitempty"`
	QFeeToken              string `bson:"qFeeToken,omitempty"`
	QACVendorMarkup        string `bson:"qACVendorMarkup,omitempty"`
	QFeeTokenVendorMarkup  string `bson:"qFeeTokenVendorMarkup,omitempty"`
}

// Operation is the operations document, keyed by operId (falling back to
// hash for Transfer/ERROR records per spec.md section 3).
type Operation struct {
	BlockNumber       int64              `bson:"blockNumber"`
	Hash              string             `bson:"hash"`
	OperID             *OperID            `bson:"operId,omitempty"`
	Operation         OperationKind      `bson:"operation"`
	Params            *OperationParams   `bson:"params,omitempty"`
	Executed          *OperationExecuted `bson:"executed,omitempty"`
	Gas               uint64             `bson:"gas"`
	GasPrice          string             `bson:"gasPrice"`
	GasUsed           uint64             `bson:"gasUsed"`
	GasFeeNative      string             `bson:"gasFeeNative"`
	Status            Status             `bson:"status"`
	ErrorCode         string             `bson:"errorCode,omitempty"`
	CreatedAt         time.Time          `bson:"createdAt"`
	LastUpdatedAt     time.Time          `bson:"lastUpdatedAt"`
	ConfirmationTime  *time.Time         `bson:"confirmationTime"`
	ConfirmingPercent int                `bson:"confirmingPercent"`
	LastBlockIndexed  int64              `bson:"last_block_indexed"`
}

// OperationKey returns the primary-key filter for an operations document:
// operId when present, else the transaction hash (Transfer/ERROR).
func OperationKey(operID *OperID, hash string) map[string]interface{} {
	if operID != nil && !operID.IsZero() {
		return map[string]interface{}{"operId": operID.String()}
	}
	return map[string]interface{}{"hash": hash}
}

// EventRecord is the verbatim decoded-field snapshot stored in
// event_<Module>_<EventName>, keyed by hash.
type EventRecord struct {
	Hash          string                 `bson:"hash"`
	BlockNumber   int64                  `bson:"blockNumber"`
	Fields        map[string]interface{} `bson:"fields"`
	CreatedAt     time.Time              `bson:"createdAt"`
	LastUpdatedAt time.Time              `bson:"lastUpdatedAt"`
}

// EventCollectionName builds the load-bearing collection name for a
// decoded event, spec.md section 6.
func EventCollectionName(moduleName, eventName string) string {
	return "event_" + moduleName + "_" + eventName
}

// FastBtcTransfer is the FastBtcBridge peg-out lifecycle record, keyed by
// transferId.
type FastBtcTransfer struct {
	TransferID    string    `bson:"transferId"`
	Status        int       `bson:"status"`
	Recipient     string    `bson:"recipient,omitempty"`
	Amount        string    `bson:"amount,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
	LastUpdatedAt time.Time `bson:"lastUpdatedAt"`
}

// IndexerState is the indexer_state single document (Checkpoint).
type IndexerState struct {
	LastRawBlock           int64     `bson:"last_raw_block"`
	LastRawConfirmingBlock int64     `bson:"last_raw_confirming_block"`
	LastStatusBlock        int64     `bson:"last_status_block"`
	LastBlockNumber        int64     `bson:"last_block_number"`
	LastBlockTS            time.Time `bson:"last_block_ts"`
	UpdatedAt              time.Time `bson:"updated_at"`
}
