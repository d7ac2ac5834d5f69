// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"encoding/gob"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, dtypes.Float32, tensor.DType())
	require.Equal(t, []float32{0, 0, 0, 0, 0, 0}, ConstFlatData[float32](tensor))

	require.Panics(t, func() { FromShape(shapes.Invalid()) })
	require.Panics(t, func() { ConstFlatData[float64](tensor) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	require.Equal(t, shapes.Make(dtypes.Float64, 2, 2), tensor.Shape())
	require.Equal(t, []float64{1, 2, 3, 4}, ConstFlatData[float64](tensor))

	// Data size must match the shape.
	require.Panics(t, func() { FromFlatDataAndDimensions([]float64{1, 2, 3}, 2, 2) })
}

func TestFromScalarAndDimensions(t *testing.T) {
	tensor := FromScalarAndDimensions(float32(7), 3)
	require.Equal(t, []float32{7, 7, 7}, ConstFlatData[float32](tensor))
}

func TestReshape(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	reshaped := tensor.Reshape(2, 3, 1)
	require.Equal(t, shapes.Make(dtypes.Float32, 2, 3, 1), reshaped.Shape())

	// Reshape shares the backing data, no copy.
	MutableFlatData[float32](reshaped)[0] = 100
	require.Equal(t, float32(100), ConstFlatData[float32](tensor)[0])

	require.Panics(t, func() { tensor.Reshape(7) })
}

func TestCloneAndEqual(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int64{1, 2, 3, 4}, 4)
	clone := tensor.Clone()
	require.True(t, tensor.Equal(clone))

	MutableFlatData[int64](clone)[0] = -1
	require.False(t, tensor.Equal(clone))
	require.Equal(t, int64(1), ConstFlatData[int64](tensor)[0])

	assert.False(t, tensor.Equal(FromFlatDataAndDimensions([]int64{1, 2, 3, 4}, 2, 2)))
	assert.False(t, tensor.Equal(nil))
}

func TestFillUniform(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 1000))
	rng := rand.New(rand.NewPCG(42, 0))
	tensor.FillUniform(rng)
	var sum float64
	for _, v := range ConstFlatData[float32](tensor) {
		require.GreaterOrEqual(t, v, float32(0))
		require.Less(t, v, float32(1))
		sum += float64(v)
	}
	// Mean of uniform [0,1) samples should be near 0.5.
	assert.InDelta(t, 0.5, sum/1000, 0.05)

	intTensor := FromShape(shapes.Make(dtypes.Int32, 3))
	require.Panics(t, func() { intTensor.FillUniform(rng) })
}

func TestGob(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(tensor))

	var decoded *Tensor
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))
	require.True(t, tensor.Equal(decoded))
}
