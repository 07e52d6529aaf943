// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/runlog/lib/codec"
)

func TestRecordKind(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   Kind
	}{
		{"scope", Record{Scope: &Scope{ScopeID: 1}}, KindScope},
		{"name", Record{Name: &Name{NameID: 2}}, KindName},
		{"control", Record{Control: &Control{Action: ActionDeleteName}}, KindControl},
		{"data entry", Record{DataEntry: &DataEntry{EntryID: 3}}, KindDataEntry},
		{"config entry", Record{ConfigEntry: &ConfigEntry{EntryID: 4}}, KindConfigEntry},
		{"data", Record{Data: &Data{EntryID: 5}}, KindData},
		{"config", Record{Config: &Config{EntryID: 6}}, KindConfig},
		{"empty", Record{}, KindInvalid},
		{"two fields", Record{Scope: &Scope{}, Name: &Name{}}, KindInvalid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.record.Kind(); got != test.want {
				t.Errorf("Kind() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	valid := Record{Scope: &Scope{ScopeID: 1, Scope: "s"}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	empty := Record{}
	if err := empty.Validate(); err == nil {
		t.Error("empty record accepted")
	}
}

func TestRecordRoundtripPreservesKind(t *testing.T) {
	original := Record{Name: &Name{
		NameID:  7,
		ScopeID: 3,
		Name:    "loss",
		Fields: []FieldDef{
			{Name: "x", Type: FieldInt32},
			{Name: "y", Type: FieldFloat32},
		},
	}}

	encoded, err := codec.Marshal(&original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Record
	if err := codec.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind() != KindName {
		t.Fatalf("decoded kind %v, want %v", decoded.Kind(), KindName)
	}
	if decoded.Name.NameID != 7 || decoded.Name.Name != "loss" {
		t.Errorf("decoded name %+v", decoded.Name)
	}
	if len(decoded.Name.Fields) != 2 || decoded.Name.Fields[1].Type != FieldFloat32 {
		t.Errorf("decoded fields %+v", decoded.Name.Fields)
	}
}

func TestAxisMatches(t *testing.T) {
	intAxis := Axis{Ints: []int32{1, 2}}
	floatAxis := Axis{Floats: []float32{1.5}}
	emptyAxis := Axis{}

	if !intAxis.Matches(FieldInt32) || intAxis.Matches(FieldFloat32) {
		t.Error("int axis type mismatch")
	}
	if !floatAxis.Matches(FieldFloat32) || floatAxis.Matches(FieldInt32) {
		t.Error("float axis type mismatch")
	}
	if !emptyAxis.Matches(FieldInt32) || !emptyAxis.Matches(FieldFloat32) {
		t.Error("empty axis should match any type")
	}
}

func TestDataElems(t *testing.T) {
	data := Data{Axes: []Axis{
		{Ints: []int32{1, 2, 3}},
		{Floats: []float32{0.5, 1.5}},
	}}
	if got := data.Elems(); got != 5 {
		t.Errorf("Elems() = %d, want 5", got)
	}
}

func TestNameSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    NameSpec
		wantErr string
	}{
		{
			name: "valid",
			spec: NameSpec{ScopeID: 1, Name: "loss", Fields: []FieldDef{
				{Name: "x", Type: FieldInt32},
				{Name: "y", Type: FieldFloat32},
			}},
		},
		{
			name:    "missing scope id",
			spec:    NameSpec{Name: "loss", Fields: []FieldDef{{Name: "x", Type: FieldInt32}}},
			wantErr: "scope_id",
		},
		{
			name:    "empty name",
			spec:    NameSpec{ScopeID: 1, Fields: []FieldDef{{Name: "x", Type: FieldInt32}}},
			wantErr: "name must not be empty",
		},
		{
			name:    "no fields",
			spec:    NameSpec{ScopeID: 1, Name: "loss"},
			wantErr: "at least one field",
		},
		{
			name: "duplicate field",
			spec: NameSpec{ScopeID: 1, Name: "loss", Fields: []FieldDef{
				{Name: "x", Type: FieldInt32},
				{Name: "x", Type: FieldFloat32},
			}},
			wantErr: "duplicate field",
		},
		{
			name:    "bad type",
			spec:    NameSpec{ScopeID: 1, Name: "loss", Fields: []FieldDef{{Name: "x", Type: 9}}},
			wantErr: "unknown element type",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.spec.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestWriteDataRequestBudget(t *testing.T) {
	oversized := make([]int32, MaxElementsPerRequest+1)
	request := WriteDataRequest{Datas: []Data{
		{NameID: 1, Axes: []Axis{{Ints: oversized}}},
	}}
	err := request.Validate()
	if err == nil || !strings.Contains(err.Error(), "budget") {
		t.Errorf("Validate() = %v, want budget error", err)
	}

	atLimit := WriteDataRequest{Datas: []Data{
		{NameID: 1, Axes: []Axis{{Ints: oversized[:MaxElementsPerRequest]}}},
	}}
	if err := atLimit.Validate(); err != nil {
		t.Errorf("request at exactly the budget rejected: %v", err)
	}
}

func TestWriteDataRequestStructure(t *testing.T) {
	empty := WriteDataRequest{}
	if err := empty.Validate(); err == nil {
		t.Error("empty request accepted")
	}

	mixedAxis := WriteDataRequest{Datas: []Data{
		{NameID: 1, Axes: []Axis{{Ints: []int32{1}, Floats: []float32{1}}}},
	}}
	if err := mixedAxis.Validate(); err == nil {
		t.Error("axis with both int and float points accepted")
	}
}

func TestNameCheckData(t *testing.T) {
	name := Name{
		NameID: 4,
		Name:   "metric",
		Fields: []FieldDef{
			{Name: "x", Type: FieldInt32},
			{Name: "y", Type: FieldFloat32},
		},
	}

	good := Data{NameID: 4, Axes: []Axis{
		{Ints: []int32{1, 2}},
		{Floats: []float32{0.1, 0.2}},
	}}
	if err := name.CheckData(&good); err != nil {
		t.Errorf("conforming row rejected: %v", err)
	}

	wrongCount := Data{NameID: 4, Axes: []Axis{{Ints: []int32{1}}}}
	if err := name.CheckData(&wrongCount); err == nil {
		t.Error("row with missing axis accepted")
	}

	wrongType := Data{NameID: 4, Axes: []Axis{
		{Floats: []float32{1}},
		{Floats: []float32{0.1}},
	}}
	if err := name.CheckData(&wrongType); err == nil {
		t.Error("row with mistyped axis accepted")
	}
}
