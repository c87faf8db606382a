// Copyright (C) 2026 ssklykov. All Rights Reserved.

package multiport

import "expvar"

// transferMetrics record transfer activity counters.
type transferMetrics struct {
	transferStart   expvar.Int
	transferOK      expvar.Int
	transferErr     expvar.Int
	chunkRecv       expvar.Int
	bytesRecv       expvar.Int
	recvTimeout     expvar.Int
	decodeErr       expvar.Int
	endpointsActive expvar.Int // gauge

	emap *expvar.Map
}

var rootMetrics = newTransferMetrics()

func newTransferMetrics() *transferMetrics {
	tm := &transferMetrics{emap: new(expvar.Map)}
	tm.emap.Set("transfers_started", &tm.transferStart)
	tm.emap.Set("transfers_succeeded", &tm.transferOK)
	tm.emap.Set("transfers_failed", &tm.transferErr)
	tm.emap.Set("chunks_received", &tm.chunkRecv)
	tm.emap.Set("bytes_received", &tm.bytesRecv)
	tm.emap.Set("receive_timeouts", &tm.recvTimeout)
	tm.emap.Set("decode_errors", &tm.decodeErr)
	tm.emap.Set("endpoints_active", &tm.endpointsActive)
	return tm
}

// Metrics returns the metrics map shared by all coordinators. It is safe for
// the caller to add additional metrics to the map.
func Metrics() *expvar.Map { return rootMetrics.emap }
