// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads runlog service configuration.
//
// Configuration comes from a single YAML file named by either the
// RUNLOG_CONFIG environment variable or the --config flag. There are
// no fallbacks or automatic discovery: configuration is deterministic
// and auditable, with no hidden overrides. ${VAR} and ${VAR:-default}
// patterns in path values are expanded from the environment.
package config
