// Copyright (C) 2026 ssklykov. All Rights Reserved.

// Package multiport implements a parallel bulk transfer of 16-bit images over
// several independent UDP endpoints.
//
// A sender splits the rows of an image into chunks, each small enough to fit
// a single datagram when encoded as whitespace-separated decimal text. The
// chunks are distributed over a number of endpoints (consecutive ports), and
// one receiver per endpoint collects its share concurrently. When every
// receiver has finished, the shares are merged back into a single image in
// the original row order.
//
// # Plans
//
// A [Plan] describes how an image of a given [Geometry] is divided. It is
// computed from the geometry, the datagram size limit and the number of
// endpoints:
//
//	p, err := multiport.NewPlan(multiport.Geometry{Width: 640, Height: 480},
//	   multiport.MaxDatagram, 4, multiport.MinSampleSize)
//
// Every endpoint except the last receives the same number of full chunks.
// Chunks left over by the division, including a final partial chunk, are
// assigned to the last endpoint. Use [Plan.Assignment] to obtain the rows and
// chunks assigned to a specific endpoint.
//
// # Coordinators
//
// A [Coordinator] runs the receiving side of a transfer. It binds one
// [Endpoint] per planned endpoint using its [ListenFunc], starts a receiver
// for each, waits for all of them, and merges the results:
//
//	c := multiport.NewCoordinator(multiport.Options{
//	   BasePort: 5010,
//	   Listen:   channel.UDPListener(0),
//	})
//	img, err := c.Run(geom, multiport.MaxDatagram, 4)
//
// A transfer is all-or-nothing: if any endpoint times out or receives a
// malformed chunk, Run reports a [*TransferError] and no image. There is no
// retransmission; the caller may restart the transfer.
//
// # Chunks
//
// The payload of a chunk datagram is the decimal text of its samples in
// row-major order, separated by whitespace. Use [EncodeChunk] to build a
// payload and [DecodeChunk] to parse one.
//
// # Metrics
//
// Receivers maintain a collection of metrics shared by all coordinators. Use
// [Metrics] to obtain an [expvar.Map] containing them:
//
//   - transfers_started: counter of transfers begun
//   - transfers_succeeded: counter of transfers that produced an image
//   - transfers_failed: counter of transfers that reported an error
//   - chunks_received: counter of chunk datagrams received
//   - bytes_received: counter of chunk payload bytes received
//   - receive_timeouts: counter of endpoints that timed out
//   - decode_errors: counter of malformed chunks
//   - endpoints_active: gauge of receivers currently running
package multiport
