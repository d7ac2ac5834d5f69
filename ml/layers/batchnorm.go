// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/shapes"
	"github.com/gomlx/modeltools/types/tensors"
)

// BatchNormState is the full learned and running state of a batch-normalization layer.
// The 1D and 2D variants share it: per-feature vectors and the update counter, with no
// spatial component, which is what makes the 1D->2D conversion an exact state copy.
type BatchNormState struct {
	// Weight (scale, aka. gamma) and Bias (offset, aka. beta), nil when not affine.
	Weight, Bias *tensors.Tensor

	// RunningMean and RunningVar, nil when running statistics are not tracked.
	RunningMean, RunningVar *tensors.Tensor

	// NumBatchesTracked counts the updates applied to the running statistics.
	NumBatchesTracked int64
}

// clone returns a deep copy of the state.
func (s BatchNormState) clone() BatchNormState {
	cloned := BatchNormState{NumBatchesTracked: s.NumBatchesTracked}
	if s.Weight != nil {
		cloned.Weight = s.Weight.Clone()
	}
	if s.Bias != nil {
		cloned.Bias = s.Bias.Clone()
	}
	if s.RunningMean != nil {
		cloned.RunningMean = s.RunningMean.Clone()
	}
	if s.RunningVar != nil {
		cloned.RunningVar = s.RunningVar.Clone()
	}
	return cloned
}

// BatchNorm1D is batch normalization over inputs shaped `[batch, features, length]`.
//
// Construct it with NewBatchNorm1D and adjust the defaults with the With* methods.
type BatchNorm1D struct {
	NumFeatures       int
	Epsilon           float64
	Momentum          float64
	Affine            bool
	TrackRunningStats bool

	BatchNormState
}

var (
	_ Module        = (*BatchNorm1D)(nil)
	_ HasParameters = (*BatchNorm1D)(nil)
)

// NewBatchNorm1D creates a 1D batch-normalization layer with epsilon 1e-5,
// momentum 0.1, affine parameters (scale initialized to ones, offset to zeros) and
// running statistics tracking (mean zeros, variance ones). Tensors are Float32.
func NewBatchNorm1D(numFeatures int) *BatchNorm1D {
	bn := &BatchNorm1D{
		NumFeatures:       numFeatures,
		Epsilon:           1e-5,
		Momentum:          0.1,
		Affine:            true,
		TrackRunningStats: true,
	}
	bn.BatchNormState = newBatchNormState(numFeatures)
	return bn
}

// WithEpsilon sets the small constant added to the variance for numerical stability.
func (bn *BatchNorm1D) WithEpsilon(epsilon float64) *BatchNorm1D {
	bn.Epsilon = epsilon
	return bn
}

// WithMomentum sets the running-statistics update momentum.
func (bn *BatchNorm1D) WithMomentum(momentum float64) *BatchNorm1D {
	bn.Momentum = momentum
	return bn
}

// WithAffine sets whether the layer carries a learned scale and offset. Disabling it
// drops the corresponding tensors.
func (bn *BatchNorm1D) WithAffine(affine bool) *BatchNorm1D {
	bn.Affine = affine
	if !affine {
		bn.Weight, bn.Bias = nil, nil
	} else if bn.Weight == nil {
		bn.Weight = onesVector(bn.NumFeatures)
		bn.Bias = tensors.FromShape(shapes.Make(dtypes.Float32, bn.NumFeatures))
	}
	return bn
}

// WithTrackRunningStats sets whether the layer tracks running mean and variance.
// Disabling it drops the corresponding tensors.
func (bn *BatchNorm1D) WithTrackRunningStats(track bool) *BatchNorm1D {
	bn.TrackRunningStats = track
	if !track {
		bn.RunningMean, bn.RunningVar = nil, nil
		bn.NumBatchesTracked = 0
	} else if bn.RunningMean == nil {
		bn.RunningMean = tensors.FromShape(shapes.Make(dtypes.Float32, bn.NumFeatures))
		bn.RunningVar = onesVector(bn.NumFeatures)
	}
	return bn
}

// State returns the layer's full learned/running state. The returned tensors are the
// layer's own, not copies.
func (bn *BatchNorm1D) State() BatchNormState { return bn.BatchNormState }

// SetState replaces the layer's state with a deep copy of s.
func (bn *BatchNorm1D) SetState(s BatchNormState) { bn.BatchNormState = s.clone() }

// Kind implements Module.
func (bn *BatchNorm1D) Kind() Kind { return KindBatchNorm1D }

// NamedChildren implements Module. BatchNorm1D is a leaf.
func (bn *BatchNorm1D) NamedChildren() []NamedModule { return nil }

// Parameters implements HasParameters: the affine parameters and running statistics.
func (bn *BatchNorm1D) Parameters() []*tensors.Tensor {
	return batchNormParameters(bn.BatchNormState)
}

// BatchNorm2D is batch normalization over inputs shaped `[batch, features, height, width]`.
//
// It shares configuration and state semantics with BatchNorm1D; only the expected
// input rank differs.
type BatchNorm2D struct {
	NumFeatures       int
	Epsilon           float64
	Momentum          float64
	Affine            bool
	TrackRunningStats bool

	BatchNormState
}

var (
	_ Module        = (*BatchNorm2D)(nil)
	_ HasParameters = (*BatchNorm2D)(nil)
)

// NewBatchNorm2D creates a 2D batch-normalization layer with the same defaults as
// NewBatchNorm1D.
func NewBatchNorm2D(numFeatures int) *BatchNorm2D {
	bn := &BatchNorm2D{
		NumFeatures:       numFeatures,
		Epsilon:           1e-5,
		Momentum:          0.1,
		Affine:            true,
		TrackRunningStats: true,
	}
	bn.BatchNormState = newBatchNormState(numFeatures)
	return bn
}

// WithEpsilon sets the small constant added to the variance for numerical stability.
func (bn *BatchNorm2D) WithEpsilon(epsilon float64) *BatchNorm2D {
	bn.Epsilon = epsilon
	return bn
}

// WithMomentum sets the running-statistics update momentum.
func (bn *BatchNorm2D) WithMomentum(momentum float64) *BatchNorm2D {
	bn.Momentum = momentum
	return bn
}

// WithAffine sets whether the layer carries a learned scale and offset.
func (bn *BatchNorm2D) WithAffine(affine bool) *BatchNorm2D {
	bn.Affine = affine
	if !affine {
		bn.Weight, bn.Bias = nil, nil
	} else if bn.Weight == nil {
		bn.Weight = onesVector(bn.NumFeatures)
		bn.Bias = tensors.FromShape(shapes.Make(dtypes.Float32, bn.NumFeatures))
	}
	return bn
}

// WithTrackRunningStats sets whether the layer tracks running mean and variance.
func (bn *BatchNorm2D) WithTrackRunningStats(track bool) *BatchNorm2D {
	bn.TrackRunningStats = track
	if !track {
		bn.RunningMean, bn.RunningVar = nil, nil
		bn.NumBatchesTracked = 0
	} else if bn.RunningMean == nil {
		bn.RunningMean = tensors.FromShape(shapes.Make(dtypes.Float32, bn.NumFeatures))
		bn.RunningVar = onesVector(bn.NumFeatures)
	}
	return bn
}

// State returns the layer's full learned/running state. The returned tensors are the
// layer's own, not copies.
func (bn *BatchNorm2D) State() BatchNormState { return bn.BatchNormState }

// SetState replaces the layer's state with a deep copy of s.
func (bn *BatchNorm2D) SetState(s BatchNormState) { bn.BatchNormState = s.clone() }

// Kind implements Module.
func (bn *BatchNorm2D) Kind() Kind { return KindBatchNorm2D }

// NamedChildren implements Module. BatchNorm2D is a leaf.
func (bn *BatchNorm2D) NamedChildren() []NamedModule { return nil }

// Parameters implements HasParameters: the affine parameters and running statistics.
func (bn *BatchNorm2D) Parameters() []*tensors.Tensor {
	return batchNormParameters(bn.BatchNormState)
}

func newBatchNormState(numFeatures int) BatchNormState {
	if numFeatures <= 0 {
		exceptions.Panicf("batch normalization: the number of features must be > 0, got %d", numFeatures)
	}
	return BatchNormState{
		Weight:      onesVector(numFeatures),
		Bias:        tensors.FromShape(shapes.Make(dtypes.Float32, numFeatures)),
		RunningMean: tensors.FromShape(shapes.Make(dtypes.Float32, numFeatures)),
		RunningVar:  onesVector(numFeatures),
	}
}

func batchNormParameters(s BatchNormState) []*tensors.Tensor {
	params := make([]*tensors.Tensor, 0, 4)
	for _, t := range []*tensors.Tensor{s.Weight, s.Bias, s.RunningMean, s.RunningVar} {
		if t != nil {
			params = append(params, t)
		}
	}
	return params
}

func onesVector(size int) *tensors.Tensor {
	return tensors.FromScalarAndDimensions(float32(1), size)
}
