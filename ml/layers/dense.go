// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/shapes"
	"github.com/gomlx/modeltools/types/tensors"
)

// Dense is a fully-connected layer over inputs shaped `[batch, inFeatures]`.
type Dense struct {
	InFeatures, OutFeatures int

	// Weight is shaped `[outFeatures, inFeatures]`.
	Weight *tensors.Tensor
	// Bias is shaped `[outFeatures]`. It is nil if the layer has no bias.
	Bias *tensors.Tensor
}

var (
	_ Module        = (*Dense)(nil)
	_ HasParameters = (*Dense)(nil)
)

// NewDense creates a fully-connected layer with a bias term. Weight and bias tensors
// are allocated as Float32 zeros.
func NewDense(inFeatures, outFeatures int) *Dense {
	if inFeatures <= 0 || outFeatures <= 0 {
		exceptions.Panicf("NewDense(): feature counts must be > 0, got in=%d, out=%d", inFeatures, outFeatures)
	}
	return &Dense{
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		Weight:      tensors.FromShape(shapes.Make(dtypes.Float32, outFeatures, inFeatures)),
		Bias:        tensors.FromShape(shapes.Make(dtypes.Float32, outFeatures)),
	}
}

// WithoutBias drops the bias term.
func (d *Dense) WithoutBias() *Dense {
	d.Bias = nil
	return d
}

// Kind implements Module.
func (d *Dense) Kind() Kind { return KindDense }

// NamedChildren implements Module. Dense is a leaf.
func (d *Dense) NamedChildren() []NamedModule { return nil }

// Parameters implements HasParameters.
func (d *Dense) Parameters() []*tensors.Tensor {
	if d.Bias == nil {
		return []*tensors.Tensor{d.Weight}
	}
	return []*tensors.Tensor{d.Weight, d.Bias}
}

// ReLU is the rectified-linear activation, applied elementwise to inputs of any shape.
type ReLU struct{}

var _ Module = (*ReLU)(nil)

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU { return &ReLU{} }

// Kind implements Module.
func (r *ReLU) Kind() Kind { return KindReLU }

// NamedChildren implements Module. ReLU is a leaf.
func (r *ReLU) NamedChildren() []NamedModule { return nil }
