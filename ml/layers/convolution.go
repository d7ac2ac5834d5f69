// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/shapes"
	"github.com/gomlx/modeltools/types/tensors"
)

// PaddingMode selects how convolution inputs are padded at the edges.
type PaddingMode int

const (
	PadZeros PaddingMode = iota
	PadReflect
	PadReplicate
	PadCircular
)

// String implements fmt.Stringer.
func (p PaddingMode) String() string {
	switch p {
	case PadZeros:
		return "zeros"
	case PadReflect:
		return "reflect"
	case PadReplicate:
		return "replicate"
	case PadCircular:
		return "circular"
	}
	return "unknown"
}

// Conv1D is a one-dimensional convolution layer over inputs shaped
// `[batch, inChannels, length]`.
//
// Construct it with NewConv1D and adjust the defaults with the With* methods, which
// return the layer itself so calls can be chained:
//
//	conv := layers.NewConv1D(64, 128, 3).WithStride(2).WithPadding(1)
type Conv1D struct {
	InChannels, OutChannels int
	KernelSize              int
	Stride                  int
	Padding                 int
	Dilation                int
	Groups                  int
	PaddingMode             PaddingMode

	// Weight is shaped `[outChannels, inChannels/groups, kernelSize]`.
	Weight *tensors.Tensor
	// Bias is shaped `[outChannels]`. It is nil if the layer has no bias.
	Bias *tensors.Tensor
}

var (
	_ Module        = (*Conv1D)(nil)
	_ HasParameters = (*Conv1D)(nil)
)

// NewConv1D creates a 1D convolution layer with stride 1, no padding, dilation 1,
// one group, zeros padding mode and a bias term. Weight and bias tensors are allocated
// as Float32 zeros.
func NewConv1D(inChannels, outChannels, kernelSize int) *Conv1D {
	if inChannels <= 0 || outChannels <= 0 {
		exceptions.Panicf("NewConv1D(): channel counts must be > 0, got in=%d, out=%d", inChannels, outChannels)
	}
	if kernelSize <= 0 {
		exceptions.Panicf("NewConv1D(): kernel size must be > 0, got %d", kernelSize)
	}
	c := &Conv1D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      1,
		Dilation:    1,
		Groups:      1,
	}
	c.Weight = tensors.FromShape(shapes.Make(dtypes.Float32, outChannels, inChannels, kernelSize))
	c.Bias = tensors.FromShape(shapes.Make(dtypes.Float32, outChannels))
	return c
}

// WithStride sets the stride. It must be > 0. Defaults to 1.
func (c *Conv1D) WithStride(stride int) *Conv1D {
	if stride <= 0 {
		exceptions.Panicf("Conv1D.WithStride(): stride must be > 0, got %d", stride)
	}
	c.Stride = stride
	return c
}

// WithPadding sets the amount of padding added to both ends of the input. Defaults to 0.
func (c *Conv1D) WithPadding(padding int) *Conv1D {
	if padding < 0 {
		exceptions.Panicf("Conv1D.WithPadding(): padding must be >= 0, got %d", padding)
	}
	c.Padding = padding
	return c
}

// WithDilation sets the kernel dilation. It must be > 0. Defaults to 1.
func (c *Conv1D) WithDilation(dilation int) *Conv1D {
	if dilation <= 0 {
		exceptions.Panicf("Conv1D.WithDilation(): dilation must be > 0, got %d", dilation)
	}
	c.Dilation = dilation
	return c
}

// WithGroups sets the number of channel groups. Both channel counts must be divisible
// by it. It reallocates the weight tensor, since its shape depends on the group count.
func (c *Conv1D) WithGroups(groups int) *Conv1D {
	if groups <= 0 || c.InChannels%groups != 0 || c.OutChannels%groups != 0 {
		exceptions.Panicf("Conv1D.WithGroups(%d): groups must be > 0 and divide both inChannels=%d and outChannels=%d",
			groups, c.InChannels, c.OutChannels)
	}
	c.Groups = groups
	c.Weight = tensors.FromShape(shapes.Make(c.Weight.DType(), c.OutChannels, c.InChannels/groups, c.KernelSize))
	return c
}

// WithPaddingMode sets how the input is padded. Defaults to PadZeros.
func (c *Conv1D) WithPaddingMode(mode PaddingMode) *Conv1D {
	c.PaddingMode = mode
	return c
}

// WithoutBias drops the bias term.
func (c *Conv1D) WithoutBias() *Conv1D {
	c.Bias = nil
	return c
}

// WithDType reallocates the weight and bias tensors (as zeros) with the given dtype.
func (c *Conv1D) WithDType(dtype dtypes.DType) *Conv1D {
	c.Weight = tensors.FromShape(shapes.Make(dtype, c.OutChannels, c.InChannels/c.Groups, c.KernelSize))
	if c.Bias != nil {
		c.Bias = tensors.FromShape(shapes.Make(dtype, c.OutChannels))
	}
	return c
}

// Kind implements Module.
func (c *Conv1D) Kind() Kind { return KindConv1D }

// NamedChildren implements Module. Conv1D is a leaf.
func (c *Conv1D) NamedChildren() []NamedModule { return nil }

// Parameters implements HasParameters.
func (c *Conv1D) Parameters() []*tensors.Tensor {
	if c.Bias == nil {
		return []*tensors.Tensor{c.Weight}
	}
	return []*tensors.Tensor{c.Weight, c.Bias}
}

// Conv2D is a two-dimensional convolution layer over inputs shaped
// `[batch, inChannels, height, width]`.
//
// Kernel geometry parameters are `[2]int` pairs ordered `(height, width)`.
type Conv2D struct {
	InChannels, OutChannels int
	KernelSize              [2]int
	Stride                  [2]int
	Padding                 [2]int
	Dilation                [2]int
	Groups                  int
	PaddingMode             PaddingMode

	// Weight is shaped `[outChannels, inChannels/groups, kernelSize[0], kernelSize[1]]`.
	Weight *tensors.Tensor
	// Bias is shaped `[outChannels]`. It is nil if the layer has no bias.
	Bias *tensors.Tensor
}

var (
	_ Module        = (*Conv2D)(nil)
	_ HasParameters = (*Conv2D)(nil)
)

// NewConv2D creates a 2D convolution layer with stride (1,1), no padding, dilation
// (1,1), one group, zeros padding mode and a bias term. Weight and bias tensors are
// allocated as Float32 zeros.
func NewConv2D(inChannels, outChannels int, kernelSize [2]int) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		exceptions.Panicf("NewConv2D(): channel counts must be > 0, got in=%d, out=%d", inChannels, outChannels)
	}
	if kernelSize[0] <= 0 || kernelSize[1] <= 0 {
		exceptions.Panicf("NewConv2D(): kernel size must be > 0, got %v", kernelSize)
	}
	c := &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      [2]int{1, 1},
		Dilation:    [2]int{1, 1},
		Groups:      1,
	}
	c.Weight = tensors.FromShape(shapes.Make(dtypes.Float32, outChannels, inChannels, kernelSize[0], kernelSize[1]))
	c.Bias = tensors.FromShape(shapes.Make(dtypes.Float32, outChannels))
	return c
}

// WithStride sets the stride per axis. Both must be > 0. Defaults to (1,1).
func (c *Conv2D) WithStride(stride [2]int) *Conv2D {
	if stride[0] <= 0 || stride[1] <= 0 {
		exceptions.Panicf("Conv2D.WithStride(): strides must be > 0, got %v", stride)
	}
	c.Stride = stride
	return c
}

// WithPadding sets the padding added to both edges, per axis. Defaults to (0,0).
func (c *Conv2D) WithPadding(padding [2]int) *Conv2D {
	if padding[0] < 0 || padding[1] < 0 {
		exceptions.Panicf("Conv2D.WithPadding(): paddings must be >= 0, got %v", padding)
	}
	c.Padding = padding
	return c
}

// WithDilation sets the kernel dilation per axis. Both must be > 0. Defaults to (1,1).
func (c *Conv2D) WithDilation(dilation [2]int) *Conv2D {
	if dilation[0] <= 0 || dilation[1] <= 0 {
		exceptions.Panicf("Conv2D.WithDilation(): dilations must be > 0, got %v", dilation)
	}
	c.Dilation = dilation
	return c
}

// WithGroups sets the number of channel groups. Both channel counts must be divisible
// by it. It reallocates the weight tensor, since its shape depends on the group count.
func (c *Conv2D) WithGroups(groups int) *Conv2D {
	if groups <= 0 || c.InChannels%groups != 0 || c.OutChannels%groups != 0 {
		exceptions.Panicf("Conv2D.WithGroups(%d): groups must be > 0 and divide both inChannels=%d and outChannels=%d",
			groups, c.InChannels, c.OutChannels)
	}
	c.Groups = groups
	c.Weight = tensors.FromShape(shapes.Make(c.Weight.DType(),
		c.OutChannels, c.InChannels/groups, c.KernelSize[0], c.KernelSize[1]))
	return c
}

// WithPaddingMode sets how the input is padded. Defaults to PadZeros.
func (c *Conv2D) WithPaddingMode(mode PaddingMode) *Conv2D {
	c.PaddingMode = mode
	return c
}

// WithoutBias drops the bias term.
func (c *Conv2D) WithoutBias() *Conv2D {
	c.Bias = nil
	return c
}

// Kind implements Module.
func (c *Conv2D) Kind() Kind { return KindConv2D }

// NamedChildren implements Module. Conv2D is a leaf.
func (c *Conv2D) NamedChildren() []NamedModule { return nil }

// Parameters implements HasParameters.
func (c *Conv2D) Parameters() []*tensors.Tensor {
	if c.Bias == nil {
		return []*tensors.Tensor{c.Weight}
	}
	return []*tensors.Tensor{c.Weight, c.Bias}
}
