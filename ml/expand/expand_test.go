// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package expand

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/modeltools/ml/layers"
	"github.com/gomlx/modeltools/types/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRandomConv1D(inChannels, outChannels, kernelSize int) *layers.Conv1D {
	conv := layers.NewConv1D(inChannels, outChannels, kernelSize)
	rng := rand.New(rand.NewPCG(42, 42))
	conv.Weight.FillUniform(rng)
	conv.Bias.FillUniform(rng)
	return conv
}

func TestConv1DToConv2D(t *testing.T) {
	src := newRandomConv1D(3, 8, 5).WithStride(2).WithPadding(2).WithDilation(1)
	m, err := Conv1DToConv2D(src)
	require.NoError(t, err)
	dst, ok := m.(*layers.Conv2D)
	require.True(t, ok)

	// Height carries the 1D geometry, width is a singleton.
	assert.Equal(t, [2]int{5, 1}, dst.KernelSize)
	assert.Equal(t, [2]int{2, 1}, dst.Stride)
	assert.Equal(t, [2]int{2, 0}, dst.Padding)
	assert.Equal(t, [2]int{1, 1}, dst.Dilation)
	assert.Equal(t, []int{8, 3, 5, 1}, dst.Weight.Shape().Dimensions)

	// The weight data and the bias tensor are shared, not copied.
	assert.Equal(t,
		tensors.ConstFlatData[float32](src.Weight),
		tensors.ConstFlatData[float32](dst.Weight))
	assert.Same(t, src.Bias, dst.Bias)

	// The converted layer computes the same values on a trailing-singleton input.
	rng := rand.New(rand.NewPCG(1, 2))
	x := tensors.FromFlatDataAndDimensions(make([]float32, 3*16), 1, 3, 16)
	x.FillUniform(rng)
	out1D, err := src.Apply(x)
	require.NoError(t, err)
	out2D, err := dst.Apply(x.Reshape(1, 3, 16, 1))
	require.NoError(t, err)
	assert.InDeltaSlice(t,
		tensors.ConstFlatData[float32](out1D),
		tensors.ConstFlatData[float32](out2D), 1e-6)

	// Not a Conv1D: no match, no error.
	m, err = Conv1DToConv2D(layers.NewReLU())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestConv1DToConv2DPaddingModes(t *testing.T) {
	for _, mode := range []layers.PaddingMode{layers.PadReflect, layers.PadReplicate, layers.PadCircular} {
		src := newRandomConv1D(2, 4, 3).WithPadding(1).WithPaddingMode(mode)
		m, err := Conv1DToConv2D(src)
		require.NoErrorf(t, err, "padding mode %s", mode)
		dst := m.(*layers.Conv2D)
		assert.Equal(t, mode, dst.PaddingMode)

		rng := rand.New(rand.NewPCG(9, uint64(mode)))
		x := tensors.FromFlatDataAndDimensions(make([]float32, 2*12), 1, 2, 12)
		x.FillUniform(rng)
		out1D, err := src.Apply(x)
		require.NoError(t, err)
		out2D, err := dst.Apply(x.Reshape(1, 2, 12, 1))
		require.NoError(t, err)
		assert.InDeltaSlice(t,
			tensors.ConstFlatData[float32](out1D),
			tensors.ConstFlatData[float32](out2D), 1e-6)
	}
}

func TestConv1DToConv2DWithoutBias(t *testing.T) {
	src := newRandomConv1D(2, 4, 3)
	src.Bias = nil
	m, err := Conv1DToConv2D(src)
	require.NoError(t, err)
	assert.Nil(t, m.(*layers.Conv2D).Bias)
}

func TestConv1DToConv2DGrouped(t *testing.T) {
	src := layers.NewConv1D(4, 4, 3).WithGroups(2)
	rng := rand.New(rand.NewPCG(7, 7))
	src.Weight.FillUniform(rng)
	src.Bias.FillUniform(rng)

	m, err := Conv1DToConv2D(src)
	require.NoError(t, err)
	dst := m.(*layers.Conv2D)
	assert.Equal(t, 2, dst.Groups)
	assert.Equal(t, []int{4, 2, 3, 1}, dst.Weight.Shape().Dimensions)
}

func TestBatchNorm1DToBatchNorm2D(t *testing.T) {
	src := layers.NewBatchNorm1D(4).WithEpsilon(1e-3).WithMomentum(0.01)
	tensors.MutableFlatData[float32](src.RunningMean)[2] = 5
	tensors.MutableFlatData[float32](src.Weight)[0] = 3

	m, err := BatchNorm1DToBatchNorm2D(src)
	require.NoError(t, err)
	dst, ok := m.(*layers.BatchNorm2D)
	require.True(t, ok)
	assert.Equal(t, 4, dst.NumFeatures)
	assert.Equal(t, 1e-3, dst.Epsilon)
	assert.Equal(t, 0.01, dst.Momentum)
	assert.Equal(t, float32(5), tensors.ConstFlatData[float32](dst.RunningMean)[2])
	assert.Equal(t, float32(3), tensors.ConstFlatData[float32](dst.Weight)[0])

	// The state is copied, not shared.
	tensors.MutableFlatData[float32](src.RunningMean)[2] = -1
	assert.Equal(t, float32(5), tensors.ConstFlatData[float32](dst.RunningMean)[2])

	m, err = BatchNorm1DToBatchNorm2D(layers.NewReLU())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPoolingExpansions(t *testing.T) {
	rules := DefaultRules()

	m, err := rules[layers.KindAvgPool1D](layers.NewAvgPool1D(3).WithStride(2).WithCountIncludePad(false))
	require.NoError(t, err)
	pool := m.(*layers.AvgPool2D)
	assert.Equal(t, [2]int{3, 3}, pool.KernelSize)
	assert.Equal(t, [2]int{2, 2}, pool.Stride)
	assert.False(t, pool.CountIncludePad)

	m, err = rules[layers.KindAdaptiveAvgPool1D](layers.NewAdaptiveAvgPool1D(16))
	require.NoError(t, err)
	assert.Equal(t, [2]int{16, 16}, m.(*layers.AdaptiveAvgPool2D).OutputSize)

	// Rules don't match other kinds.
	m, err = rules[layers.KindAvgPool1D](layers.NewAdaptiveAvgPool1D(16))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSwap(t *testing.T) {
	root := layers.NewContainer().
		Add("encoder", layers.NewContainer().
			Add("conv", newRandomConv1D(2, 4, 3)).
			Add("act", layers.NewReLU())).
		Add("head", layers.NewDense(4, 2))

	require.NoError(t, Swap(root, map[string]layers.Module{
		"encoder.act": layers.NewBatchNorm1D(4),
		"head":        layers.NewDense(4, 8),
	}))
	encoder := root.Child("encoder").(*layers.Container)
	assert.Equal(t, layers.KindBatchNorm1D, encoder.Child("act").Kind())
	assert.Equal(t, 8, root.Child("head").(*layers.Dense).OutFeatures)

	// Unknown paths.
	err := Swap(root, map[string]layers.Module{"encoder.missing": layers.NewReLU()})
	var notFound *PathNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "encoder.missing", notFound.Path)

	err = Swap(root, map[string]layers.Module{"decoder.conv": layers.NewReLU()})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "decoder", notFound.Path)

	// Traversing into a leaf.
	err = Swap(root, map[string]layers.Module{"head.weight": layers.NewReLU()})
	var notContainer *NotAContainerError
	require.ErrorAs(t, err, &notContainer)
	assert.Equal(t, "head", notContainer.Path)
	assert.Equal(t, layers.KindDense, notContainer.Kind)

	// The root cannot be replaced, and replacements cannot be nil.
	require.Error(t, Swap(root, map[string]layers.Module{"": layers.NewReLU()}))
	require.Error(t, Swap(root, map[string]layers.Module{"head": nil}))
}

func TestAuto(t *testing.T) {
	conv := newRandomConv1D(2, 4, 3).WithPadding(1)
	relu := layers.NewReLU()
	bn := layers.NewBatchNorm1D(4)
	rng := rand.New(rand.NewPCG(3, 5))
	bn.RunningMean.FillUniform(rng)
	root := layers.NewContainer().
		Add("block", layers.Sequential(conv, bn, relu)).
		Add("pool", layers.NewAdaptiveAvgPool1D(4))

	x := tensors.FromFlatDataAndDimensions(make([]float32, 2*8), 1, 2, 8)
	x.FillUniform(rng)
	block := root.Child("block").(*layers.Container)
	before, err := block.Apply(x)
	require.NoError(t, err)

	swapped, err := Auto(root, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, 3, swapped)

	var kinds []layers.Kind
	layers.Enumerate(root, func(path string, m layers.Module) {
		if m.Kind() != layers.KindContainer {
			kinds = append(kinds, m.Kind())
		}
	})
	assert.Equal(t, []layers.Kind{
		layers.KindConv2D, layers.KindBatchNorm2D, layers.KindReLU, layers.KindAdaptiveAvgPool2D,
	}, kinds)

	// Modules with no matching rule keep their identity.
	assert.Same(t, relu, block.Child("2"))

	// The expanded block computes the same values on a trailing-singleton input.
	after, err := block.Apply(x.Reshape(1, 2, 8, 1))
	require.NoError(t, err)
	assert.InDeltaSlice(t,
		tensors.ConstFlatData[float32](before),
		tensors.ConstFlatData[float32](after), 1e-5)
}

func TestAutoLeavesTreeUntouchedOnError(t *testing.T) {
	failing := Rules{
		layers.KindReLU: func(m layers.Module) (layers.Module, error) {
			return nil, errors.New("boom")
		},
		layers.KindConv1D: Conv1DToConv2D,
	}
	root := layers.Sequential(newRandomConv1D(2, 4, 3), layers.NewReLU())
	_, err := Auto(root, failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"1"`)
	// The conversion of the convolution succeeded but was not applied.
	assert.Equal(t, layers.KindConv1D, root.Child("0").Kind())
}
