// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"

	"github.com/bureau-foundation/runlog/lib/schema/record"
)

// array is a two-dimensional column of points: rows × points, stored
// row-major in one flat slice. Exactly one of ints and floats is
// populated, per kind. Every caller-supplied shape is normalized to
// two dimensions at construction: a scalar becomes 1×1, a vector
// 1×N.
//
// Row r of an array logged at start index S carries the points of
// series index S+r.
type array struct {
	kind   record.FieldType
	ints   []int32
	floats []float32
	rows   int
	points int
}

func intArray(values []int32, rows, points int) array {
	return array{kind: record.FieldInt32, ints: values, rows: rows, points: points}
}

func floatArray(values []float32, rows, points int) array {
	return array{kind: record.FieldFloat32, floats: values, rows: rows, points: points}
}

// elems returns the total number of scalar points.
func (a array) elems() int {
	return a.rows * a.points
}

// row returns the r-th row as an Axis for the wire payload. The
// returned slices alias the array's storage.
func (a array) row(r int) record.Axis {
	beg, end := r*a.points, (r+1)*a.points
	if a.kind == record.FieldInt32 {
		return record.Axis{Ints: a.ints[beg:end]}
	}
	return record.Axis{Floats: a.floats[beg:end]}
}

// broadcastTo expands the array to rows × points. A dimension may
// only grow from 1 (its single value is repeated); anything else is
// a shape error.
func (a array) broadcastTo(rows, points int) (array, error) {
	if a.rows == rows && a.points == points {
		return a, nil
	}
	if (a.rows != rows && a.rows != 1) || (a.points != points && a.points != 1) {
		return array{}, fmt.Errorf("cannot broadcast %dx%d to %dx%d", a.rows, a.points, rows, points)
	}

	out := array{kind: a.kind, rows: rows, points: points}
	if a.kind == record.FieldInt32 {
		out.ints = make([]int32, rows*points)
	} else {
		out.floats = make([]float32, rows*points)
	}
	for r := 0; r < rows; r++ {
		sourceRow := r
		if a.rows == 1 {
			sourceRow = 0
		}
		for p := 0; p < points; p++ {
			sourcePoint := p
			if a.points == 1 {
				sourcePoint = 0
			}
			if a.kind == record.FieldInt32 {
				out.ints[r*points+p] = a.ints[sourceRow*a.points+sourcePoint]
			} else {
				out.floats[r*points+p] = a.floats[sourceRow*a.points+sourcePoint]
			}
		}
	}
	return out, nil
}

// concat appends b's points to a's along the point axis. Both arrays
// must have the same kind and row count.
func (a array) concat(b array) (array, error) {
	if a.kind != b.kind {
		return array{}, fmt.Errorf("cannot concatenate %s points with %s points", a.kind, b.kind)
	}
	if a.rows != b.rows {
		return array{}, fmt.Errorf("cannot concatenate %d rows with %d rows", a.rows, b.rows)
	}

	out := array{kind: a.kind, rows: a.rows, points: a.points + b.points}
	if a.kind == record.FieldInt32 {
		out.ints = make([]int32, 0, out.rows*out.points)
		for r := 0; r < a.rows; r++ {
			out.ints = append(out.ints, a.ints[r*a.points:(r+1)*a.points]...)
			out.ints = append(out.ints, b.ints[r*b.points:(r+1)*b.points]...)
		}
	} else {
		out.floats = make([]float32, 0, out.rows*out.points)
		for r := 0; r < a.rows; r++ {
			out.floats = append(out.floats, a.floats[r*a.points:(r+1)*a.points]...)
			out.floats = append(out.floats, b.floats[r*b.points:(r+1)*b.points]...)
		}
	}
	return out, nil
}

// sliceColumns returns the sub-array covering point columns
// [beg, end).
func (a array) sliceColumns(beg, end int) array {
	out := array{kind: a.kind, rows: a.rows, points: end - beg}
	if a.kind == record.FieldInt32 {
		out.ints = make([]int32, 0, out.rows*out.points)
		for r := 0; r < a.rows; r++ {
			out.ints = append(out.ints, a.ints[r*a.points+beg:r*a.points+end]...)
		}
	} else {
		out.floats = make([]float32, 0, out.rows*out.points)
		for r := 0; r < a.rows; r++ {
			out.floats = append(out.floats, a.floats[r*a.points+beg:r*a.points+end]...)
		}
	}
	return out
}
