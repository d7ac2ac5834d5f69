// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
)

// AvgPool1D is average pooling over inputs shaped `[batch, channels, length]`.
//
// It is stateless: it implements Configurable, exposing its configuration attributes in
// declared order -- (kernelSize, stride, padding, ceilMode, countIncludePad) -- shared
// with AvgPool2D, whose NewAvgPool2DFromAttrs consumes them positionally.
type AvgPool1D struct {
	KernelSize int
	Stride     int
	Padding    int
	CeilMode   bool
	// CountIncludePad includes the zero padding in the averaging denominator.
	CountIncludePad bool
}

var _ Configurable = (*AvgPool1D)(nil)

// NewAvgPool1D creates a 1D average-pooling layer. The stride defaults to the kernel
// size, padding to 0, ceil mode off, and padding counted in the average.
func NewAvgPool1D(kernelSize int) *AvgPool1D {
	if kernelSize <= 0 {
		exceptions.Panicf("NewAvgPool1D(): kernel size must be > 0, got %d", kernelSize)
	}
	return &AvgPool1D{KernelSize: kernelSize, Stride: kernelSize, CountIncludePad: true}
}

// WithStride sets the stride. It must be > 0.
func (p *AvgPool1D) WithStride(stride int) *AvgPool1D {
	if stride <= 0 {
		exceptions.Panicf("AvgPool1D.WithStride(): stride must be > 0, got %d", stride)
	}
	p.Stride = stride
	return p
}

// WithPadding sets the zero padding added to both ends. It cannot exceed half the
// kernel size.
func (p *AvgPool1D) WithPadding(padding int) *AvgPool1D {
	if padding < 0 || padding > p.KernelSize/2 {
		exceptions.Panicf("AvgPool1D.WithPadding(): padding must be in [0, kernelSize/2], got %d", padding)
	}
	p.Padding = padding
	return p
}

// WithCeilMode sets whether the output length is rounded up instead of down.
func (p *AvgPool1D) WithCeilMode(ceil bool) *AvgPool1D {
	p.CeilMode = ceil
	return p
}

// WithCountIncludePad sets whether zero padding is counted in the averaging denominator.
func (p *AvgPool1D) WithCountIncludePad(include bool) *AvgPool1D {
	p.CountIncludePad = include
	return p
}

// Kind implements Module.
func (p *AvgPool1D) Kind() Kind { return KindAvgPool1D }

// NamedChildren implements Module. AvgPool1D is a leaf.
func (p *AvgPool1D) NamedChildren() []NamedModule { return nil }

// ConfigAttrs implements Configurable.
func (p *AvgPool1D) ConfigAttrs() []any {
	return []any{p.KernelSize, p.Stride, p.Padding, p.CeilMode, p.CountIncludePad}
}

// AvgPool2D is average pooling over inputs shaped `[batch, channels, height, width]`.
// Geometry pairs are ordered `(height, width)`.
type AvgPool2D struct {
	KernelSize      [2]int
	Stride          [2]int
	Padding         [2]int
	CeilMode        bool
	CountIncludePad bool
}

var _ Module = (*AvgPool2D)(nil)

// NewAvgPool2D creates a 2D average-pooling layer with the same defaults as
// NewAvgPool1D, per axis.
func NewAvgPool2D(kernelSize [2]int) *AvgPool2D {
	if kernelSize[0] <= 0 || kernelSize[1] <= 0 {
		exceptions.Panicf("NewAvgPool2D(): kernel size must be > 0, got %v", kernelSize)
	}
	return &AvgPool2D{KernelSize: kernelSize, Stride: kernelSize, CountIncludePad: true}
}

// NewAvgPool2DFromAttrs builds an AvgPool2D from the ordered configuration attributes
// of an AvgPool1D -- see Configurable. Scalar geometry attributes are broadcast to both
// axes. It panics if the attributes don't match the expected (kernelSize, stride,
// padding, ceilMode, countIncludePad) sequence.
func NewAvgPool2DFromAttrs(attrs ...any) Module {
	if len(attrs) != 5 {
		exceptions.Panicf("NewAvgPool2DFromAttrs(): expected 5 attributes, got %d", len(attrs))
	}
	p := NewAvgPool2D(pairAttr("kernelSize", attrs[0]))
	p.Stride = pairAttr("stride", attrs[1])
	p.Padding = pairAttr("padding", attrs[2])
	p.CeilMode = boolAttr("ceilMode", attrs[3])
	p.CountIncludePad = boolAttr("countIncludePad", attrs[4])
	return p
}

// WithStride sets the stride per axis. Both must be > 0.
func (p *AvgPool2D) WithStride(stride [2]int) *AvgPool2D {
	if stride[0] <= 0 || stride[1] <= 0 {
		exceptions.Panicf("AvgPool2D.WithStride(): strides must be > 0, got %v", stride)
	}
	p.Stride = stride
	return p
}

// WithPadding sets the zero padding per axis. Each cannot exceed half the kernel size.
func (p *AvgPool2D) WithPadding(padding [2]int) *AvgPool2D {
	for axis := range 2 {
		if padding[axis] < 0 || padding[axis] > p.KernelSize[axis]/2 {
			exceptions.Panicf("AvgPool2D.WithPadding(): padding must be in [0, kernelSize/2], got %v", padding)
		}
	}
	p.Padding = padding
	return p
}

// WithCeilMode sets whether the output size is rounded up instead of down.
func (p *AvgPool2D) WithCeilMode(ceil bool) *AvgPool2D {
	p.CeilMode = ceil
	return p
}

// WithCountIncludePad sets whether zero padding is counted in the averaging denominator.
func (p *AvgPool2D) WithCountIncludePad(include bool) *AvgPool2D {
	p.CountIncludePad = include
	return p
}

// Kind implements Module.
func (p *AvgPool2D) Kind() Kind { return KindAvgPool2D }

// NamedChildren implements Module. AvgPool2D is a leaf.
func (p *AvgPool2D) NamedChildren() []NamedModule { return nil }

// AdaptiveAvgPool1D is average pooling to a fixed output length, over inputs shaped
// `[batch, channels, length]`.
type AdaptiveAvgPool1D struct {
	OutputSize int
}

var _ Configurable = (*AdaptiveAvgPool1D)(nil)

// NewAdaptiveAvgPool1D creates an adaptive average-pooling layer producing outputs of
// the given length.
func NewAdaptiveAvgPool1D(outputSize int) *AdaptiveAvgPool1D {
	if outputSize <= 0 {
		exceptions.Panicf("NewAdaptiveAvgPool1D(): output size must be > 0, got %d", outputSize)
	}
	return &AdaptiveAvgPool1D{OutputSize: outputSize}
}

// Kind implements Module.
func (p *AdaptiveAvgPool1D) Kind() Kind { return KindAdaptiveAvgPool1D }

// NamedChildren implements Module. AdaptiveAvgPool1D is a leaf.
func (p *AdaptiveAvgPool1D) NamedChildren() []NamedModule { return nil }

// ConfigAttrs implements Configurable.
func (p *AdaptiveAvgPool1D) ConfigAttrs() []any {
	return []any{p.OutputSize}
}

// AdaptiveAvgPool2D is average pooling to a fixed output size, over inputs shaped
// `[batch, channels, height, width]`.
type AdaptiveAvgPool2D struct {
	OutputSize [2]int
}

var _ Module = (*AdaptiveAvgPool2D)(nil)

// NewAdaptiveAvgPool2D creates an adaptive average-pooling layer producing outputs of
// the given `(height, width)` size.
func NewAdaptiveAvgPool2D(outputSize [2]int) *AdaptiveAvgPool2D {
	if outputSize[0] <= 0 || outputSize[1] <= 0 {
		exceptions.Panicf("NewAdaptiveAvgPool2D(): output size must be > 0, got %v", outputSize)
	}
	return &AdaptiveAvgPool2D{OutputSize: outputSize}
}

// NewAdaptiveAvgPool2DFromAttrs builds an AdaptiveAvgPool2D from the ordered
// configuration attributes of an AdaptiveAvgPool1D -- a single output size, broadcast
// to both axes.
func NewAdaptiveAvgPool2DFromAttrs(attrs ...any) Module {
	if len(attrs) != 1 {
		exceptions.Panicf("NewAdaptiveAvgPool2DFromAttrs(): expected 1 attribute, got %d", len(attrs))
	}
	return NewAdaptiveAvgPool2D(pairAttr("outputSize", attrs[0]))
}

// Kind implements Module.
func (p *AdaptiveAvgPool2D) Kind() Kind { return KindAdaptiveAvgPool2D }

// NamedChildren implements Module. AdaptiveAvgPool2D is a leaf.
func (p *AdaptiveAvgPool2D) NamedChildren() []NamedModule { return nil }

// pairAttr converts a geometry attribute to a `(height, width)` pair: ints broadcast
// to both axes, pairs pass through.
func pairAttr(name string, attr any) [2]int {
	switch v := attr.(type) {
	case int:
		return [2]int{v, v}
	case [2]int:
		return v
	}
	exceptions.Panicf("layer attribute %q must be an int or a [2]int pair, got %T", name, attr)
	return [2]int{}
}

func boolAttr(name string, attr any) bool {
	v, ok := attr.(bool)
	if !ok {
		exceptions.Panicf("layer attribute %q must be a bool, got %T", name, attr)
	}
	return v
}
