// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/runlog/lib/codec"
)

// FieldType identifies the element type of one field in a name's
// signature. Only 32-bit integers and 32-bit floats are supported;
// producers are expected to downcast wider types before logging.
type FieldType uint8

const (
	// FieldInt32 marks a field whose points are int32 values.
	FieldInt32 FieldType = 1

	// FieldFloat32 marks a field whose points are float32 values.
	FieldFloat32 FieldType = 2
)

// String returns the lowercase type name ("int32", "float32") or a
// numeric form for unknown values.
func (t FieldType) String() string {
	switch t {
	case FieldInt32:
		return "int32"
	case FieldFloat32:
		return "float32"
	default:
		return fmt.Sprintf("field_type(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined field types.
func (t FieldType) Valid() bool {
	return t == FieldInt32 || t == FieldFloat32
}

// FieldDef is one (field name, element type) pair in a name's ordered
// field signature.
type FieldDef struct {
	// Name is the field name, e.g. "x", "loss", "grad_norm". Unique
	// within one signature.
	Name string `cbor:"name"`

	// Type is the element type all points of this field carry.
	Type FieldType `cbor:"type"`
}

// Scope is the top-level namespace for one run's logged series.
// Written once per scope name via the write_scope operation.
type Scope struct {
	// ScopeID is the id assigned by the record service at creation.
	ScopeID uint32 `cbor:"scope_id"`

	// Scope is the scope name chosen by the producer, typically a run
	// identifier like "train/2026-08-21-a".
	Scope string `cbor:"scope"`

	// CreatedAt is when the scope record was written, as Unix
	// nanoseconds.
	CreatedAt int64 `cbor:"created_at"`
}

// Name declares one logical series within a scope together with its
// field signature. The signature is fixed at creation: every Data
// payload written under this name must match it exactly (same field
// count, order, and element types).
type Name struct {
	// NameID is the id assigned by the record service at creation.
	NameID uint32 `cbor:"name_id"`

	// ScopeID references the owning Scope.
	ScopeID uint32 `cbor:"scope_id"`

	// Name is the series name within the scope, e.g. "loss" or
	// "attention_weights".
	Name string `cbor:"name"`

	// Fields is the ordered field signature.
	Fields []FieldDef `cbor:"fields"`
}

// ControlAction discriminates control record semantics.
type ControlAction uint8

// ActionDeleteName instructs replay to drop every name id registered
// under the control record's (scope, name) pair, along with all their
// data entries. The underlying log bytes are untouched.
const ActionDeleteName ControlAction = 1

// Control is an append-only tombstone. It refers to scope and name by
// string rather than id because one (scope, name) pair can accumulate
// several name ids across delete/recreate cycles, and the tombstone
// covers all of them.
type Control struct {
	// Scope is the scope name the action applies to.
	Scope string `cbor:"scope"`

	// Name is the series name the action applies to.
	Name string `cbor:"name"`

	// Action selects the control semantics.
	Action ControlAction `cbor:"action"`
}

// DataEntry points at one persisted Data payload in the data file.
type DataEntry struct {
	// EntryID is the id assigned at creation. The Data payload this
	// entry points at carries the same id.
	EntryID uint32 `cbor:"entry_id"`

	// NameID references the series the payload belongs to.
	NameID uint32 `cbor:"name_id"`

	// BegOffset is the data-file offset of the payload's frame.
	BegOffset int64 `cbor:"beg_offset"`

	// EndOffset is the data-file offset immediately after the
	// payload's frame.
	EndOffset int64 `cbor:"end_offset"`
}

// ConfigEntry points at one persisted Config payload in the data file.
type ConfigEntry struct {
	// EntryID is the id assigned at creation. The Config payload this
	// entry points at carries the same id.
	EntryID uint32 `cbor:"entry_id"`

	// ScopeID references the scope the configuration belongs to.
	ScopeID uint32 `cbor:"scope_id"`

	// BegOffset is the data-file offset of the payload's frame.
	BegOffset int64 `cbor:"beg_offset"`

	// EndOffset is the data-file offset immediately after the
	// payload's frame.
	EndOffset int64 `cbor:"end_offset"`
}

// Axis carries the points of one field at one series index. Exactly
// one of Ints or Floats is populated, matching the field's declared
// type. An axis with zero points encodes as empty and matches either
// type.
type Axis struct {
	Ints   []int32   `cbor:"ints,omitempty"`
	Floats []float32 `cbor:"floats,omitempty"`
}

// Len returns the number of points in the axis.
func (a Axis) Len() int {
	if a.Ints != nil {
		return len(a.Ints)
	}
	return len(a.Floats)
}

// Matches reports whether the axis payload is consistent with the
// given field type. Empty axes match any type because the element
// type of zero points is not observable.
func (a Axis) Matches(t FieldType) bool {
	if len(a.Ints) > 0 {
		return t == FieldInt32
	}
	if len(a.Floats) > 0 {
		return t == FieldFloat32
	}
	return true
}

// Data is one row of a named series: for a single series index, the
// points of every field in the name's signature. Axes is parallel to
// the Name's Fields.
type Data struct {
	// EntryID matches the DataEntry pointing at this payload.
	EntryID uint32 `cbor:"entry_id"`

	// NameID references the series this row belongs to.
	NameID uint32 `cbor:"name_id"`

	// Index is the position of this row within the series.
	Index uint32 `cbor:"index"`

	// Axes holds one axis per signature field, in signature order.
	Axes []Axis `cbor:"axes"`
}

// Elems returns the total number of scalar points across all axes.
func (d *Data) Elems() int {
	total := 0
	for _, axis := range d.Axes {
		total += axis.Len()
	}
	return total
}

// Config is one free-form configuration payload for a scope, e.g. the
// hyperparameters of a run.
type Config struct {
	// EntryID matches the ConfigEntry pointing at this payload.
	EntryID uint32 `cbor:"entry_id"`

	// ScopeID references the scope the configuration belongs to.
	ScopeID uint32 `cbor:"scope_id"`

	// Attributes is the raw CBOR encoding of a nested key/value
	// structure. Kept raw so arbitrary nesting round-trips untouched;
	// decode into map[string]any when the contents matter.
	Attributes codec.RawMessage `cbor:"attributes,omitempty"`
}

// Kind identifies which entity a Record frame carries.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindScope
	KindName
	KindControl
	KindDataEntry
	KindConfigEntry
	KindData
	KindConfig
)

// String returns the snake_case kind name used in logs and by the
// dump tool.
func (k Kind) String() string {
	switch k {
	case KindScope:
		return "scope"
	case KindName:
		return "name"
	case KindControl:
		return "control"
	case KindDataEntry:
		return "data_entry"
	case KindConfigEntry:
		return "config_entry"
	case KindData:
		return "data"
	case KindConfig:
		return "config"
	default:
		return "invalid"
	}
}

// Record is the single wrapper type framed into both log files.
// Exactly one field is non-nil; the occupied field determines the
// record kind. The index file only ever carries Scope, Name, Control,
// DataEntry, and ConfigEntry records; the data file only Data and
// Config.
type Record struct {
	Scope       *Scope       `cbor:"scope,omitempty"`
	Name        *Name        `cbor:"name,omitempty"`
	Control     *Control     `cbor:"control,omitempty"`
	DataEntry   *DataEntry   `cbor:"data_entry,omitempty"`
	ConfigEntry *ConfigEntry `cbor:"config_entry,omitempty"`
	Data        *Data        `cbor:"data,omitempty"`
	Config      *Config      `cbor:"config,omitempty"`
}

// Kind returns the kind of the occupied field, or KindInvalid when no
// field (or more than one) is set.
func (r *Record) Kind() Kind {
	kind := KindInvalid
	count := 0
	if r.Scope != nil {
		kind, count = KindScope, count+1
	}
	if r.Name != nil {
		kind, count = KindName, count+1
	}
	if r.Control != nil {
		kind, count = KindControl, count+1
	}
	if r.DataEntry != nil {
		kind, count = KindDataEntry, count+1
	}
	if r.ConfigEntry != nil {
		kind, count = KindConfigEntry, count+1
	}
	if r.Data != nil {
		kind, count = KindData, count+1
	}
	if r.Config != nil {
		kind, count = KindConfig, count+1
	}
	if count != 1 {
		return KindInvalid
	}
	return kind
}

// Validate reports an error unless exactly one entity field is set.
func (r *Record) Validate() error {
	if r.Kind() == KindInvalid {
		return errors.New("record must carry exactly one entity")
	}
	return nil
}
