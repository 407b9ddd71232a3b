// Package metrics instruments the response core with the counters and
// gauges SPEC_FULL.md §4.10 calls for, grounded on the teacher's use of
// github.com/rcrowley/go-metrics (node/sc/bridge_tx_pool.go's
// refusedTxCounter, work/worker.go's timeLimitReachedCounter,
// storage/database/leveldb_database.go's compaction meters). As in the
// teacher, every metric is package-level and registered once at
// import time; callers just Update/Inc/Mark it.
package metrics

import "github.com/rcrowley/go-metrics"

var (
	// QueueDepthGauge tracks the live length of a responder's gas
	// queue, updated after every mutating gasqueue operation
	// (spec.md §4.4/§4.5).
	QueueDepthGauge = metrics.NewRegisteredGauge("responder/queue/depth", nil)

	// BroadcastCounter counts transactions the multi-responder has
	// attempted to send, successful or not (spec.md §4.5).
	BroadcastCounter = metrics.NewRegisteredCounter("responder/broadcast", nil)

	// BroadcastFailureCounter counts sendTransaction failures the
	// responder swallowed per spec.md §5's failure model.
	BroadcastFailureCounter = metrics.NewRegisteredCounter("responder/broadcast/failure", nil)

	// ReorgCounter counts the number of chain reorganisations the
	// block processor has observed (spec.md §4.2).
	ReorgCounter = metrics.NewRegisteredCounter("blockprocessor/reorg", nil)

	// BackfillMeter tracks how many new blocks (the notified head plus
	// any gap-filled ancestors) the block processor has fetched per head
	// advance, to catch a notifier that is silently falling behind.
	BackfillMeter = metrics.NewRegisteredMeter("blockprocessor/backfill", nil)

	// LowBalanceCounter counts how many times a responder's signer
	// balance has been observed below its configured threshold
	// (spec.md §4.5's checkBalance).
	LowBalanceCounter = metrics.NewRegisteredCounter("responder/balance/low", nil)

	// GasPriceSuggestionGauge tracks the most recent value the gas
	// price oracle suggested (SPEC_FULL.md §4.9).
	GasPriceSuggestionGauge = metrics.NewRegisteredGauge("gasprice/suggestion", nil)
)
