// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects Real(); tests inject Fake() and advance
// time deterministically. Any function that would call time.Now,
// time.After, time.NewTicker, or time.Sleep accepts a Clock (or is a
// method on a struct holding one) instead of reaching for the time
// package directly. The ingestion client's flush loop and the record
// service's timestamps run on an injected Clock for exactly this
// reason.
package clock
