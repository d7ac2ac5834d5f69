// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer(t *testing.T) {
	c := NewContainer().
		Add("conv", NewConv1D(3, 8, 3)).
		Add("bn", NewBatchNorm1D(8))
	require.Equal(t, 2, c.NumChildren())
	require.Equal(t, KindContainer, c.Kind())

	names := make([]string, 0, 2)
	for _, child := range c.NamedChildren() {
		names = append(names, child.Name)
	}
	assert.Equal(t, []string{"conv", "bn"}, names)

	assert.Equal(t, KindConv1D, c.Child("conv").Kind())
	assert.Nil(t, c.Child("missing"))

	// Replace keeps the registration order.
	require.True(t, c.Replace("conv", NewConv2D(3, 8, [2]int{3, 1})))
	require.False(t, c.Replace("missing", NewReLU()))
	assert.Equal(t, KindConv2D, c.NamedChildren()[0].Module.Kind())

	// Invalid registrations panic.
	err := exceptions.TryCatch[error](func() { c.Add("bn", NewReLU()) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { c.Add("a.b", NewReLU()) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { c.Add("", NewReLU()) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { c.Add("nil", nil) })
	require.Error(t, err)
}

func TestSequential(t *testing.T) {
	c := Sequential(NewConv1D(1, 4, 3), NewReLU(), NewAvgPool1D(2))
	require.Equal(t, 3, c.NumChildren())
	assert.Equal(t, KindReLU, c.Child("1").Kind())
}

func TestEnumerate(t *testing.T) {
	root := NewContainer().
		Add("encoder", NewContainer().
			Add("conv", NewConv1D(3, 8, 3)).
			Add("bn", NewBatchNorm1D(8))).
		Add("head", NewDense(8, 2))

	var paths []string
	var kinds []Kind
	Enumerate(root, func(path string, m Module) {
		paths = append(paths, path)
		kinds = append(kinds, m.Kind())
	})
	assert.Equal(t, []string{"", "encoder", "encoder.conv", "encoder.bn", "head"}, paths)
	assert.Equal(t, []Kind{KindContainer, KindContainer, KindConv1D, KindBatchNorm1D, KindDense}, kinds)
}

func TestNumParameters(t *testing.T) {
	root := Sequential(
		NewConv1D(1, 2, 3), // weight 2*1*3=6, bias 2
		NewBatchNorm1D(2),  // 4 vectors of 2
		NewReLU(),
	)
	count, memory := NumParameters(root)
	assert.Equal(t, 6+2+4*2, count)
	assert.Equal(t, uintptr((6+2+4*2)*4), memory)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Conv1D", KindConv1D.String())
	assert.Equal(t, "AdaptiveAvgPool2D", KindAdaptiveAvgPool2D.String())
	assert.Equal(t, "UnknownKind", Kind(99).String())
}

func TestBatchNormState(t *testing.T) {
	src := NewBatchNorm1D(3)
	tensors.MutableFlatData[float32](src.RunningMean)[1] = 7

	dst := NewBatchNorm2D(3)
	dst.SetState(src.State())
	assert.Equal(t, float32(7), tensors.ConstFlatData[float32](dst.RunningMean)[1])

	// SetState deep-copies: mutating the source afterwards must not leak through.
	tensors.MutableFlatData[float32](src.RunningMean)[1] = -1
	assert.Equal(t, float32(7), tensors.ConstFlatData[float32](dst.RunningMean)[1])
}

func TestPool2DFromAttrs(t *testing.T) {
	p1 := NewAvgPool1D(4).WithStride(2).WithPadding(1).WithCeilMode(true).WithCountIncludePad(false)
	m := NewAvgPool2DFromAttrs(p1.ConfigAttrs()...)
	p2, ok := m.(*AvgPool2D)
	require.True(t, ok)
	assert.Equal(t, [2]int{4, 4}, p2.KernelSize)
	assert.Equal(t, [2]int{2, 2}, p2.Stride)
	assert.Equal(t, [2]int{1, 1}, p2.Padding)
	assert.True(t, p2.CeilMode)
	assert.False(t, p2.CountIncludePad)

	a1 := NewAdaptiveAvgPool1D(7)
	a2 := NewAdaptiveAvgPool2DFromAttrs(a1.ConfigAttrs()...).(*AdaptiveAvgPool2D)
	assert.Equal(t, [2]int{7, 7}, a2.OutputSize)

	err := exceptions.TryCatch[error](func() { NewAvgPool2DFromAttrs(3, 2) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { NewAvgPool2DFromAttrs(3, 2, "oops", true, true) })
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	conv := NewConv1D(2, 3, 3).WithStride(2).WithPadding(1)
	tensors.MutableFlatData[float32](conv.Weight)[0] = 0.25
	tensors.MutableFlatData[float32](conv.Bias)[2] = -1
	bn := NewBatchNorm1D(3).WithEpsilon(1e-3)
	tensors.MutableFlatData[float32](bn.RunningVar)[1] = 4
	root := NewContainer().
		Add("block", Sequential(conv, bn, NewReLU())).
		Add("pool", NewAdaptiveAvgPool1D(8))

	filePath := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, Save(root, filePath))

	loaded, err := Load(filePath)
	require.NoError(t, err)

	var paths []string
	Enumerate(loaded, func(path string, _ Module) { paths = append(paths, path) })
	assert.Equal(t, []string{"", "block", "block.0", "block.1", "block.2", "pool"}, paths)

	loadedConv := loaded.(*Container).Child("block").(*Container).Child("0").(*Conv1D)
	assert.Equal(t, 2, loadedConv.Stride)
	assert.Equal(t, 1, loadedConv.Padding)
	assert.Equal(t, float32(0.25), tensors.ConstFlatData[float32](loadedConv.Weight)[0])
	assert.Equal(t, float32(-1), tensors.ConstFlatData[float32](loadedConv.Bias)[2])
	assert.True(t, loadedConv.Weight.DType() == dtypes.Float32)

	loadedBN := loaded.(*Container).Child("block").(*Container).Child("1").(*BatchNorm1D)
	assert.Equal(t, 1e-3, loadedBN.Epsilon)
	assert.Equal(t, float32(4), tensors.ConstFlatData[float32](loadedBN.RunningVar)[1])

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}
