// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"

	"github.com/bureau-foundation/runlog/lib/schema/record"
)

// Field is one named column of points in a Write call. Construct
// with the shape-specific helpers; invalid shapes (ragged matrices)
// are surfaced as an error from Write, not at construction.
type Field struct {
	name string
	data array
	err  error
}

// IntScalar is one int32 point: shape 1×1.
func IntScalar(name string, value int32) Field {
	return Field{name: name, data: intArray([]int32{value}, 1, 1)}
}

// FloatScalar is one float32 point: shape 1×1.
func FloatScalar(name string, value float32) Field {
	return Field{name: name, data: floatArray([]float32{value}, 1, 1)}
}

// IntVector is a row of int32 points: shape 1×N. The values are
// copied; the caller may reuse the slice.
func IntVector(name string, values []int32) Field {
	copied := make([]int32, len(values))
	copy(copied, values)
	return Field{name: name, data: intArray(copied, 1, len(values))}
}

// FloatVector is a row of float32 points: shape 1×N.
func FloatVector(name string, values []float32) Field {
	copied := make([]float32, len(values))
	copy(copied, values)
	return Field{name: name, data: floatArray(copied, 1, len(values))}
}

// IntMatrix is a rows×points block of int32 points: row r carries
// the points of series index startIndex+r. All rows must have the
// same length.
func IntMatrix(name string, rows [][]int32) Field {
	flat, rowCount, points, err := flattenRows(rows)
	if err != nil {
		return Field{name: name, err: err}
	}
	return Field{name: name, data: intArray(flat, rowCount, points)}
}

// FloatMatrix is a rows×points block of float32 points.
func FloatMatrix(name string, rows [][]float32) Field {
	flat, rowCount, points, err := flattenRows(rows)
	if err != nil {
		return Field{name: name, err: err}
	}
	return Field{name: name, data: floatArray(flat, rowCount, points)}
}

func flattenRows[E int32 | float32](rows [][]E) ([]E, int, int, error) {
	if len(rows) == 0 {
		return nil, 0, 0, fmt.Errorf("matrix must have at least one row")
	}
	points := len(rows[0])
	flat := make([]E, 0, len(rows)*points)
	for i, row := range rows {
		if len(row) != points {
			return nil, 0, 0, fmt.Errorf("ragged matrix: row 0 has %d points, row %d has %d", points, i, len(row))
		}
		flat = append(flat, row...)
	}
	return flat, len(rows), points, nil
}

// fieldDef derives the wire signature entry for the field.
func (f Field) fieldDef() record.FieldDef {
	return record.FieldDef{Name: f.name, Type: f.data.kind}
}
