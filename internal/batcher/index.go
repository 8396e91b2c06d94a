// Package batcher coalesces allocation deltas and flushes them to a ledger.
//
// Callers submit small signed cent deltas against a target key. Deltas for the
// same key accumulate into one pending entry whose net value is sent when the
// batch flushes. A flush is triggered by the wait timer, by the pending set
// reaching maxBatchSize, or immediately by a high priority submission. Each
// caller is settled with the ledger-confirmed state of its entry or an error.
//
// Example configuration:
//
//	{
//	  "batching": {
//	    "maxBatchSize": 50,
//	    "maxWaitTime": 1000,
//	    "minWaitTime": 100,
//	    "adaptiveDelay": true,
//	    "enableCoalescing": true,
//	    "maxRetries": 3,
//	    "baseRetryDelay": 200
//	  }
//	}
package batcher
