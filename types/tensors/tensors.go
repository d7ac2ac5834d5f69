// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large
// dimensions), defined by their shape (a data type and its axes' dimensions) and their actual
// content, stored as a flat (1D) slice of the corresponding Go type on the host.
//
// This package holds only host (CPU) data -- there is no accelerator backing. It is meant
// for model surgery tooling: holding layer parameters and running statistics, and feeding
// the small sample inputs used by numerical spot checks.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): creates a tensor with the
//     given dimensions, and sets the flattened values with the given data.
//   - FromScalarAndDimensions[T](value T, dimensions ...int): creates a tensor with the
//     given dimensions, filled with the scalar value given.
//
// And to access its contents, use ConstFlatData[T] (read-only by convention) or
// MutableFlatData[T]. Both return the actual backing slice, not a copy.
package tensors

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/shapes"
)

// Tensor represents a multidimensional array of one of the supported dtypes, stored on host.
//
// The flat backing slice may be shared: Reshape returns a tensor viewing the same data with a
// different shape, and Clone creates a deep copy.
type Tensor struct {
	shape shapes.Shape
	flat  any // Flat slice []T of the Go type corresponding to shape.DType.
}

// FromShape creates a Tensor of the given shape, with the data initialized to zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(): invalid shape %s", shape)
	}
	return &Tensor{shape: shape, flat: newFlat(shape)}
}

// newFlat allocates the zero-initialized backing slice for the given shape.
func newFlat(shape shapes.Shape) any {
	size := shape.Size()
	switch shape.DType {
	case dtypes.Float32:
		return make([]float32, size)
	case dtypes.Float64:
		return make([]float64, size)
	case dtypes.Int32:
		return make([]int32, size)
	case dtypes.Int64:
		return make([]int64, size)
	case dtypes.Uint8:
		return make([]uint8, size)
	case dtypes.Bool:
		return make([]bool, size)
	default:
		exceptions.Panicf("tensors: dtype %s not supported", shape.DType)
		return nil
	}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, and the flattened
// values given in data. The tensor takes ownership of data (no copy is made).
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(): got %d values for shape %s (size %d)",
			len(data), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// scalar value given.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	data := make([]T, shape.Size())
	for ii := range data {
		data[ii] = value
	}
	return &Tensor{shape: shape, flat: data}
}

// Shape of the tensor, includes the DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape. Shortcut to `t.Shape().DType`.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape. Shortcut to `t.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements of the tensor. Shortcut to `t.Shape().Size()`.
func (t *Tensor) Size() int { return t.shape.Size() }

// AssertValid panics if t is nil or if its shape is invalid.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensors.Tensor is nil")
	}
	if !t.shape.Ok() {
		exceptions.Panicf("tensors.Tensor shape is invalid")
	}
}

// ConstFlatData returns the flat backing slice of the tensor. The contents should not be
// mutated -- use MutableFlatData if mutation is intended.
//
// It panics if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor) []T {
	t.AssertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.ConstFlatData[%s]: tensor has dtype %s",
			dtypes.FromGenericsType[T](), t.shape.DType)
	}
	return flat
}

// MutableFlatData returns the flat backing slice of the tensor for mutation.
//
// It panics if T doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor) []T {
	return ConstFlatData[T](t)
}

// Reshape returns a tensor with the given dimensions sharing the same backing data --
// no copy is made. The new shape must have the same size as the current one.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	t.AssertValid()
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if newShape.Size() != t.shape.Size() {
		exceptions.Panicf("tensors.Reshape(): cannot reshape %s to %s, sizes don't match",
			t.shape, newShape)
	}
	return &Tensor{shape: newShape, flat: t.flat}
}

// Clone returns a deep copy of the tensor: same shape, newly allocated backing data.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	newT := &Tensor{shape: t.shape.Clone()}
	switch flat := t.flat.(type) {
	case []float32:
		newT.flat = slices.Clone(flat)
	case []float64:
		newT.flat = slices.Clone(flat)
	case []int32:
		newT.flat = slices.Clone(flat)
	case []int64:
		newT.flat = slices.Clone(flat)
	case []uint8:
		newT.flat = slices.Clone(flat)
	case []bool:
		newT.flat = slices.Clone(flat)
	default:
		exceptions.Panicf("tensors.Clone(): dtype %s not supported", t.shape.DType)
	}
	return newT
}

// Equal compares two tensors for equality of shape and value-for-value contents.
func (t *Tensor) Equal(t2 *Tensor) bool {
	if t == nil || t2 == nil {
		return t == t2
	}
	if !t.shape.Equal(t2.shape) {
		return false
	}
	switch flat := t.flat.(type) {
	case []float32:
		return slices.Equal(flat, t2.flat.([]float32))
	case []float64:
		return slices.Equal(flat, t2.flat.([]float64))
	case []int32:
		return slices.Equal(flat, t2.flat.([]int32))
	case []int64:
		return slices.Equal(flat, t2.flat.([]int64))
	case []uint8:
		return slices.Equal(flat, t2.flat.([]uint8))
	case []bool:
		return slices.Equal(flat, t2.flat.([]bool))
	}
	return false
}

// FillUniform fills a float tensor with uniform random values in [0, 1), taken from rng.
//
// It panics for non-float dtypes.
func (t *Tensor) FillUniform(rng *rand.Rand) {
	t.AssertValid()
	switch flat := t.flat.(type) {
	case []float32:
		for ii := range flat {
			flat[ii] = rng.Float32()
		}
	case []float64:
		for ii := range flat {
			flat[ii] = rng.Float64()
		}
	default:
		exceptions.Panicf("tensors.FillUniform(): dtype %s is not a float", t.shape.DType)
	}
}

// String returns a short description of the tensor: its shape and, for small tensors,
// its contents.
func (t *Tensor) String() string {
	if t == nil {
		return "tensors.Tensor(nil)"
	}
	if t.Size() <= 16 {
		return fmt.Sprintf("%s: %v", t.shape, t.flat)
	}
	return fmt.Sprintf("%s: (%d values)", t.shape, t.Size())
}
