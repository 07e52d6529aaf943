// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest is the producer-side buffering layer over the
// record service. A [Logger] accepts Write calls without blocking on
// network I/O; a background worker periodically drains the buffer,
// coalesces writes that share (name, start index), splits anything
// over the per-request element budget, registers new series, and
// ships the result as batched write_data requests.
//
// Delivery is fire and forget: a batch that fails to ship is logged
// and dropped, and the flush loop continues on the next cycle.
package ingest
