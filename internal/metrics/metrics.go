// Package metrics exposes the indexer's gauges and counters through
// github.com/rcrowley/go-metrics, the same library and registration style
// as the teacher's chaindatafetcher package ("var fooGauge =
// metrics.NewRegisteredGauge(name, metrics.DefaultRegistry)").
package metrics

import "github.com/rcrowley/go-metrics"

var (
	RawWalkerHeadGauge        = metrics.NewRegisteredGauge("indexer/raw_walker/head", metrics.DefaultRegistry)
	RawWalkerCheckpointGauge  = metrics.NewRegisteredGauge("indexer/raw_walker/checkpoint", metrics.DefaultRegistry)
	RawWalkerBlocksWritten    = metrics.NewRegisteredCounter("indexer/raw_walker/blocks_written", metrics.DefaultRegistry)
	RawWalkerTxWritten        = metrics.NewRegisteredCounter("indexer/raw_walker/tx_written", metrics.DefaultRegistry)

	ConfirmingWalkerCheckpointGauge = metrics.NewRegisteredGauge("indexer/confirming_walker/checkpoint", metrics.DefaultRegistry)
	ConfirmingWalkerRepairedTx      = metrics.NewRegisteredCounter("indexer/confirming_walker/repaired_tx", metrics.DefaultRegistry)

	DispatcherProcessedTx     = metrics.NewRegisteredCounter("indexer/dispatcher/processed_tx", metrics.DefaultRegistry)
	DispatcherDecodeErrors    = metrics.NewRegisteredCounter("indexer/dispatcher/decode_errors", metrics.DefaultRegistry)
	DispatcherDispatchMisses  = metrics.NewRegisteredCounter("indexer/dispatcher/dispatch_misses", metrics.DefaultRegistry)
	DispatcherInsertionTimeMs = metrics.NewRegisteredGauge("indexer/dispatcher/insertion_time_ms", metrics.DefaultRegistry)

	StatusAdvancerConfirmedGauge = metrics.NewRegisteredCounter("indexer/status_advancer/confirmed", metrics.DefaultRegistry)
	StatusAdvancerStaleGauge     = metrics.NewRegisteredCounter("indexer/status_advancer/stale", metrics.DefaultRegistry)

	SchedulerTaskDurationMs = func(task string) metrics.Gauge {
		return metrics.GetOrRegisterGauge("indexer/scheduler/"+task+"/duration_ms", metrics.DefaultRegistry)
	}
	SchedulerTaskTimeouts = func(task string) metrics.Counter {
		return metrics.GetOrRegisterCounter("indexer/scheduler/"+task+"/timeouts", metrics.DefaultRegistry)
	}
	SchedulerTaskErrors = func(task string) metrics.Counter {
		return metrics.GetOrRegisterCounter("indexer/scheduler/"+task+"/errors", metrics.DefaultRegistry)
	}
)
