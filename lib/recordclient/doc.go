// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recordclient provides a typed client for the runlog
// service's socket protocol: one method per action, requests and
// responses expressed in [record] types rather than raw CBOR maps.
//
// The ingestion layer (package ingest) and external consumers both
// use this package; nothing here buffers or batches — each method is
// one RPC.
package recordclient
