// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/lib/schema/record"
	"github.com/bureau-foundation/runlog/lib/service"
)

// Client is a typed client for one runlog service.
type Client struct {
	rpc *service.Client
}

// New creates a client for the given address: a Unix socket path or a
// TCP host:port.
func New(address string) *Client {
	return &Client{rpc: service.NewClient(address)}
}

// WriteScope creates a scope and returns its assigned id. Creating
// the same scope name twice yields two distinct scopes; callers that
// want one scope per run call this once and hold the id.
func (c *Client) WriteScope(ctx context.Context, scope string) (uint32, error) {
	var response record.WriteScopeResponse
	err := c.rpc.Call(ctx, record.OpWriteScope, map[string]any{"scope": scope}, &response)
	if err != nil {
		return 0, err
	}
	return response.ScopeID, nil
}

// WriteConfig persists one configuration payload for the scope. The
// attributes value is marshaled to CBOR as-is; arbitrary nesting is
// preserved.
func (c *Client) WriteConfig(ctx context.Context, scopeID uint32, attributes any) error {
	raw, err := codec.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("marshaling config attributes: %w", err)
	}
	return c.rpc.Call(ctx, record.OpWriteConfig, map[string]any{
		"scope_id":   scopeID,
		"attributes": codec.RawMessage(raw),
	}, nil)
}

// WriteNames registers the given series and returns the created Name
// records (with assigned ids) in request order.
func (c *Client) WriteNames(ctx context.Context, specs []record.NameSpec) ([]record.Name, error) {
	stream, err := c.rpc.CallStream(ctx, record.OpWriteNames, map[string]any{"names": specs})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	names := make([]record.Name, 0, len(specs))
	for {
		var name record.Name
		err := stream.Next(&name)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if len(names) != len(specs) {
		return nil, fmt.Errorf("write_names returned %d records for %d specs", len(names), len(specs))
	}
	return names, nil
}

// DeleteScopeNames tombstones the given series names under the scope.
func (c *Client) DeleteScopeNames(ctx context.Context, scope string, names []string) error {
	return c.rpc.Call(ctx, record.OpDeleteScopeNames, map[string]any{
		"scope": scope,
		"names": names,
	}, nil)
}

// WriteData persists a batch of data rows. Entry ids on the submitted
// rows are ignored; the service assigns them. The caller is
// responsible for keeping the batch under the per-request element
// budget.
func (c *Client) WriteData(ctx context.Context, datas []record.Data) error {
	return c.rpc.Call(ctx, record.OpWriteData, map[string]any{"datas": datas}, nil)
}

// Scopes lists the scopes that currently have at least one surviving
// series.
func (c *Client) Scopes(ctx context.Context) ([]string, error) {
	return c.stringStream(ctx, record.OpScopes, nil)
}

// Names lists the distinct surviving series names under the scope.
func (c *Client) Names(ctx context.Context, scope string) ([]string, error) {
	return c.stringStream(ctx, record.OpNames, map[string]any{"scope": scope})
}

func (c *Client) stringStream(ctx context.Context, action string, fields map[string]any) ([]string, error) {
	stream, err := c.rpc.CallStream(ctx, action, fields)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var items []string
	for {
		var item string
		err := stream.Next(&item)
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

// QueryResult holds a complete query_records response: the replay
// snapshot and the matched data rows in log order.
type QueryResult struct {
	Snapshot record.IndexSnapshot
	Datas    []record.Data
}

// QueryRecords runs a filtered query. Patterns are RE2 regular
// expressions; empty values match everything. A non-zero fileOffset
// makes the query incremental: only rows that reached the log at or
// after that offset are returned (pass the previous result's
// Snapshot.FileOffset).
func (c *Client) QueryRecords(ctx context.Context, scopePattern string, namePatterns []string, fileOffset int64) (*QueryResult, error) {
	stream, err := c.rpc.CallStream(ctx, record.OpQueryRecords, map[string]any{
		"scope_pattern": scopePattern,
		"name_patterns": namePatterns,
		"file_offset":   fileOffset,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &QueryResult{}
	sawSnapshot := false
	for {
		var item record.QueryItem
		err := stream.Next(&item)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case item.Snapshot != nil:
			result.Snapshot = *item.Snapshot
			sawSnapshot = true
		case item.Data != nil:
			result.Datas = append(result.Datas, *item.Data)
		default:
			return nil, errors.New("query_records stream item carries neither snapshot nor data")
		}
	}
	if !sawSnapshot {
		return nil, errors.New("query_records stream ended without a snapshot")
	}
	return result, nil
}

// ConfigResult holds a complete configs response.
type ConfigResult struct {
	Snapshot record.IndexSnapshot
	Configs  []record.Config
}

// Configs fetches the configuration payloads of scopes matching the
// pattern, in log order.
func (c *Client) Configs(ctx context.Context, scopePattern string, fileOffset int64) (*ConfigResult, error) {
	stream, err := c.rpc.CallStream(ctx, record.OpConfigs, map[string]any{
		"scope_pattern": scopePattern,
		"file_offset":   fileOffset,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &ConfigResult{}
	sawSnapshot := false
	for {
		var item record.QueryItem
		err := stream.Next(&item)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case item.Snapshot != nil:
			result.Snapshot = *item.Snapshot
			sawSnapshot = true
		case item.Config != nil:
			result.Configs = append(result.Configs, *item.Config)
		default:
			return nil, errors.New("configs stream item carries neither snapshot nor config")
		}
	}
	if !sawSnapshot {
		return nil, errors.New("configs stream ended without a snapshot")
	}
	return result, nil
}

// Status fetches the service's status counters.
func (c *Client) Status(ctx context.Context) (*record.StatusResponse, error) {
	var response record.StatusResponse
	if err := c.rpc.Call(ctx, record.OpStatus, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
