// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

// Host-side inference forward passes for the leaf layers.
//
// These are straightforward nested-loop implementations: the toolkit only ever runs
// them on small sample inputs (numerical spot checks during module expansion) and in
// tests. They support Float32 and Float64.

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/types/shapes"
	"github.com/gomlx/modeltools/types/tensors"
	"github.com/pkg/errors"
)

// Applier is implemented by modules that can run an inference-mode forward pass on the
// host. All leaf layers and Container implement it.
type Applier interface {
	Apply(x *tensors.Tensor) (*tensors.Tensor, error)
}

// Apply runs the children on x in registration order, feeding each child's output to
// the next. All children must implement Applier.
func (c *Container) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	var err error
	for _, child := range c.NamedChildren() {
		applier, ok := child.Module.(Applier)
		if !ok {
			return nil, errors.Errorf("child %q (%s) does not support Apply", child.Name, child.Module.Kind())
		}
		x, err = applier.Apply(x)
		if err != nil {
			return nil, errors.WithMessagef(err, "applying child %q (%s)", child.Name, child.Module.Kind())
		}
	}
	return x, nil
}

// Apply convolves x, shaped `[batch, inChannels, length]`, with the layer's kernel.
func (c *Conv1D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkConvInput(x, 3, c.InChannels, c.Weight.DType()); err != nil {
		return nil, errors.WithMessage(err, "Conv1D.Apply()")
	}
	if c.PaddingMode == PadReflect && c.Padding >= x.Shape().Dim(2) {
		return nil, errors.Errorf("Conv1D.Apply(): reflect padding %d requires an input longer than %d",
			c.Padding, c.Padding)
	}
	outLen := convOutputDim(x.Shape().Dim(2), c.Padding, c.Dilation, c.KernelSize, c.Stride)
	if outLen <= 0 {
		return nil, errors.Errorf("Conv1D.Apply(): input length %d too short for kernel %d (output length would be %d)",
			x.Shape().Dim(2), c.KernelSize, outLen)
	}
	switch x.DType() {
	case dtypes.Float32:
		return conv1DForward[float32](c, x, outLen), nil
	case dtypes.Float64:
		return conv1DForward[float64](c, x, outLen), nil
	}
	return nil, errors.Errorf("Conv1D.Apply(): dtype %s not supported", x.DType())
}

func conv1DForward[T dtypes.GoFloat](c *Conv1D, x *tensors.Tensor, outLen int) *tensors.Tensor {
	batch := x.Shape().Dim(0)
	inLen := x.Shape().Dim(2)
	inPerGroup := c.InChannels / c.Groups
	outPerGroup := c.OutChannels / c.Groups

	out := tensors.FromShape(shapes.Make(x.DType(), batch, c.OutChannels, outLen))
	xFlat := tensors.ConstFlatData[T](x)
	wFlat := tensors.ConstFlatData[T](c.Weight)
	outFlat := tensors.MutableFlatData[T](out)
	var biasFlat []T
	if c.Bias != nil {
		biasFlat = tensors.ConstFlatData[T](c.Bias)
	}

	for n := range batch {
		for oc := range c.OutChannels {
			group := oc / outPerGroup
			for ol := range outLen {
				var acc T
				if biasFlat != nil {
					acc = biasFlat[oc]
				}
				for ic := range inPerGroup {
					xChannel := (n*c.InChannels + group*inPerGroup + ic) * inLen
					wBase := (oc*inPerGroup + ic) * c.KernelSize
					for k := range c.KernelSize {
						il, ok := resolvePadIndex(ol*c.Stride-c.Padding+k*c.Dilation, inLen, c.PaddingMode)
						if !ok {
							continue
						}
						acc += xFlat[xChannel+il] * wFlat[wBase+k]
					}
				}
				outFlat[(n*c.OutChannels+oc)*outLen+ol] = acc
			}
		}
	}
	return out
}

// Apply convolves x, shaped `[batch, inChannels, height, width]`, with the layer's
// kernel.
func (c *Conv2D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkConvInput(x, 4, c.InChannels, c.Weight.DType()); err != nil {
		return nil, errors.WithMessage(err, "Conv2D.Apply()")
	}
	if c.PaddingMode == PadReflect &&
		(c.Padding[0] >= x.Shape().Dim(2) || c.Padding[1] >= x.Shape().Dim(3)) {
		return nil, errors.Errorf("Conv2D.Apply(): reflect padding %v requires inputs longer than the padding on both axes",
			c.Padding)
	}
	outH := convOutputDim(x.Shape().Dim(2), c.Padding[0], c.Dilation[0], c.KernelSize[0], c.Stride[0])
	outW := convOutputDim(x.Shape().Dim(3), c.Padding[1], c.Dilation[1], c.KernelSize[1], c.Stride[1])
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("Conv2D.Apply(): input %dx%d too small for kernel %v (output would be %dx%d)",
			x.Shape().Dim(2), x.Shape().Dim(3), c.KernelSize, outH, outW)
	}
	switch x.DType() {
	case dtypes.Float32:
		return conv2DForward[float32](c, x, outH, outW), nil
	case dtypes.Float64:
		return conv2DForward[float64](c, x, outH, outW), nil
	}
	return nil, errors.Errorf("Conv2D.Apply(): dtype %s not supported", x.DType())
}

func conv2DForward[T dtypes.GoFloat](c *Conv2D, x *tensors.Tensor, outH, outW int) *tensors.Tensor {
	batch := x.Shape().Dim(0)
	inH, inW := x.Shape().Dim(2), x.Shape().Dim(3)
	inPerGroup := c.InChannels / c.Groups
	outPerGroup := c.OutChannels / c.Groups
	kH, kW := c.KernelSize[0], c.KernelSize[1]

	out := tensors.FromShape(shapes.Make(x.DType(), batch, c.OutChannels, outH, outW))
	xFlat := tensors.ConstFlatData[T](x)
	wFlat := tensors.ConstFlatData[T](c.Weight)
	outFlat := tensors.MutableFlatData[T](out)
	var biasFlat []T
	if c.Bias != nil {
		biasFlat = tensors.ConstFlatData[T](c.Bias)
	}

	for n := range batch {
		for oc := range c.OutChannels {
			group := oc / outPerGroup
			for oh := range outH {
				for ow := range outW {
					var acc T
					if biasFlat != nil {
						acc = biasFlat[oc]
					}
					for ic := range inPerGroup {
						xChannel := (n*c.InChannels + group*inPerGroup + ic) * inH * inW
						wChannel := (oc*inPerGroup + ic) * kH * kW
						for kh := range kH {
							ih, ok := resolvePadIndex(oh*c.Stride[0]-c.Padding[0]+kh*c.Dilation[0], inH, c.PaddingMode)
							if !ok {
								continue
							}
							for kw := range kW {
								iw, ok := resolvePadIndex(ow*c.Stride[1]-c.Padding[1]+kw*c.Dilation[1], inW, c.PaddingMode)
								if !ok {
									continue
								}
								acc += xFlat[xChannel+ih*inW+iw] * wFlat[wChannel+kh*kW+kw]
							}
						}
					}
					outFlat[((n*c.OutChannels+oc)*outH+oh)*outW+ow] = acc
				}
			}
		}
	}
	return out
}

// Apply normalizes x, shaped `[batch, features, length]`, with the layer's running
// statistics. Running statistics are required: Apply is an inference path.
func (bn *BatchNorm1D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	out, err := batchNormForward(x, 3, bn.NumFeatures, bn.Epsilon, bn.BatchNormState, bn.TrackRunningStats)
	return out, errors.WithMessage(err, "BatchNorm1D.Apply()")
}

// Apply normalizes x, shaped `[batch, features, height, width]`, with the layer's
// running statistics.
func (bn *BatchNorm2D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	out, err := batchNormForward(x, 4, bn.NumFeatures, bn.Epsilon, bn.BatchNormState, bn.TrackRunningStats)
	return out, errors.WithMessage(err, "BatchNorm2D.Apply()")
}

func batchNormForward(x *tensors.Tensor, wantRank, numFeatures int, epsilon float64,
	state BatchNormState, trackRunningStats bool) (*tensors.Tensor, error) {
	if x == nil || x.Rank() != wantRank {
		return nil, errors.Errorf("input must have rank %d, got %s", wantRank, x.Shape())
	}
	if x.Shape().Dim(1) != numFeatures {
		return nil, errors.Errorf("input has %d features, layer expects %d", x.Shape().Dim(1), numFeatures)
	}
	if !trackRunningStats || state.RunningMean == nil || state.RunningVar == nil {
		return nil, errors.Errorf("layer has no running statistics, cannot normalize in inference mode")
	}
	switch x.DType() {
	case dtypes.Float32:
		return batchNormForwardImpl[float32](x, epsilon, state), nil
	case dtypes.Float64:
		return batchNormForwardImpl[float64](x, epsilon, state), nil
	}
	return nil, errors.Errorf("dtype %s not supported", x.DType())
}

func batchNormForwardImpl[T dtypes.GoFloat](x *tensors.Tensor, epsilon float64, state BatchNormState) *tensors.Tensor {
	batch := x.Shape().Dim(0)
	features := x.Shape().Dim(1)
	// Number of contiguous values per (batch, feature) pair.
	inner := x.Size() / (batch * features)

	out := tensors.FromShape(x.Shape().Clone())
	xFlat := tensors.ConstFlatData[T](x)
	outFlat := tensors.MutableFlatData[T](out)
	mean := tensors.ConstFlatData[T](state.RunningMean)
	variance := tensors.ConstFlatData[T](state.RunningVar)
	var scale, offset []T
	if state.Weight != nil {
		scale = tensors.ConstFlatData[T](state.Weight)
	}
	if state.Bias != nil {
		offset = tensors.ConstFlatData[T](state.Bias)
	}

	for n := range batch {
		for f := range features {
			gamma := T(1)
			if scale != nil {
				gamma = scale[f]
			}
			var beta T
			if offset != nil {
				beta = offset[f]
			}
			invStd := T(1) / sqrt(variance[f]+T(epsilon))
			base := (n*features + f) * inner
			for i := range inner {
				outFlat[base+i] = (xFlat[base+i]-mean[f])*invStd*gamma + beta
			}
		}
	}
	return out
}

// Apply average-pools x, shaped `[batch, channels, length]`.
func (p *AvgPool1D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, errors.Errorf("AvgPool1D.Apply(): input must have rank 3, got %s", x.Shape())
	}
	outLen := poolOutputDim(x.Shape().Dim(2), p.Padding, p.KernelSize, p.Stride, p.CeilMode)
	if outLen <= 0 {
		return nil, errors.Errorf("AvgPool1D.Apply(): input length %d too short for kernel %d", x.Shape().Dim(2), p.KernelSize)
	}
	switch x.DType() {
	case dtypes.Float32:
		return avgPool1DForward[float32](p, x, outLen), nil
	case dtypes.Float64:
		return avgPool1DForward[float64](p, x, outLen), nil
	}
	return nil, errors.Errorf("AvgPool1D.Apply(): dtype %s not supported", x.DType())
}

func avgPool1DForward[T dtypes.GoFloat](p *AvgPool1D, x *tensors.Tensor, outLen int) *tensors.Tensor {
	batch, channels, inLen := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2)
	out := tensors.FromShape(shapes.Make(x.DType(), batch, channels, outLen))
	xFlat := tensors.ConstFlatData[T](x)
	outFlat := tensors.MutableFlatData[T](out)

	for nc := range batch * channels {
		inBase := nc * inLen
		outBase := nc * outLen
		for ol := range outLen {
			start := ol*p.Stride - p.Padding
			end := start + p.KernelSize
			var sum T
			for il := max(start, 0); il < min(end, inLen); il++ {
				sum += xFlat[inBase+il]
			}
			var count int
			if p.CountIncludePad {
				// Padding counts, but windows are still clipped to the padded extent.
				count = min(end, inLen+p.Padding) - max(start, -p.Padding)
			} else {
				count = min(end, inLen) - max(start, 0)
			}
			outFlat[outBase+ol] = sum / T(count)
		}
	}
	return out
}

// Apply average-pools x, shaped `[batch, channels, height, width]`.
func (p *AvgPool2D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || x.Rank() != 4 {
		return nil, errors.Errorf("AvgPool2D.Apply(): input must have rank 4, got %s", x.Shape())
	}
	outH := poolOutputDim(x.Shape().Dim(2), p.Padding[0], p.KernelSize[0], p.Stride[0], p.CeilMode)
	outW := poolOutputDim(x.Shape().Dim(3), p.Padding[1], p.KernelSize[1], p.Stride[1], p.CeilMode)
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("AvgPool2D.Apply(): input %dx%d too small for kernel %v",
			x.Shape().Dim(2), x.Shape().Dim(3), p.KernelSize)
	}
	switch x.DType() {
	case dtypes.Float32:
		return avgPool2DForward[float32](p, x, outH, outW), nil
	case dtypes.Float64:
		return avgPool2DForward[float64](p, x, outH, outW), nil
	}
	return nil, errors.Errorf("AvgPool2D.Apply(): dtype %s not supported", x.DType())
}

func avgPool2DForward[T dtypes.GoFloat](p *AvgPool2D, x *tensors.Tensor, outH, outW int) *tensors.Tensor {
	batch, channels := x.Shape().Dim(0), x.Shape().Dim(1)
	inH, inW := x.Shape().Dim(2), x.Shape().Dim(3)
	out := tensors.FromShape(shapes.Make(x.DType(), batch, channels, outH, outW))
	xFlat := tensors.ConstFlatData[T](x)
	outFlat := tensors.MutableFlatData[T](out)

	for nc := range batch * channels {
		inBase := nc * inH * inW
		outBase := nc * outH * outW
		for oh := range outH {
			startH := oh*p.Stride[0] - p.Padding[0]
			endH := startH + p.KernelSize[0]
			for ow := range outW {
				startW := ow*p.Stride[1] - p.Padding[1]
				endW := startW + p.KernelSize[1]
				var sum T
				for ih := max(startH, 0); ih < min(endH, inH); ih++ {
					for iw := max(startW, 0); iw < min(endW, inW); iw++ {
						sum += xFlat[inBase+ih*inW+iw]
					}
				}
				var count int
				if p.CountIncludePad {
					countH := min(endH, inH+p.Padding[0]) - max(startH, -p.Padding[0])
					countW := min(endW, inW+p.Padding[1]) - max(startW, -p.Padding[1])
					count = countH * countW
				} else {
					count = (min(endH, inH) - max(startH, 0)) * (min(endW, inW) - max(startW, 0))
				}
				outFlat[outBase+oh*outW+ow] = sum / T(count)
			}
		}
	}
	return out
}

// Apply average-pools x, shaped `[batch, channels, length]`, to the configured output
// length.
func (p *AdaptiveAvgPool1D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, errors.Errorf("AdaptiveAvgPool1D.Apply(): input must have rank 3, got %s", x.Shape())
	}
	switch x.DType() {
	case dtypes.Float32:
		return adaptiveAvgPool1DForward[float32](p, x), nil
	case dtypes.Float64:
		return adaptiveAvgPool1DForward[float64](p, x), nil
	}
	return nil, errors.Errorf("AdaptiveAvgPool1D.Apply(): dtype %s not supported", x.DType())
}

func adaptiveAvgPool1DForward[T dtypes.GoFloat](p *AdaptiveAvgPool1D, x *tensors.Tensor) *tensors.Tensor {
	batch, channels, inLen := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2)
	outLen := p.OutputSize
	out := tensors.FromShape(shapes.Make(x.DType(), batch, channels, outLen))
	xFlat := tensors.ConstFlatData[T](x)
	outFlat := tensors.MutableFlatData[T](out)

	for nc := range batch * channels {
		inBase := nc * inLen
		outBase := nc * outLen
		for ol := range outLen {
			start := ol * inLen / outLen
			end := ((ol+1)*inLen + outLen - 1) / outLen
			var sum T
			for il := start; il < end; il++ {
				sum += xFlat[inBase+il]
			}
			outFlat[outBase+ol] = sum / T(end-start)
		}
	}
	return out
}

// Apply average-pools x, shaped `[batch, channels, height, width]`, to the configured
// output size.
func (p *AdaptiveAvgPool2D) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || x.Rank() != 4 {
		return nil, errors.Errorf("AdaptiveAvgPool2D.Apply(): input must have rank 4, got %s", x.Shape())
	}
	switch x.DType() {
	case dtypes.Float32:
		return adaptiveAvgPool2DForward[float32](p, x), nil
	case dtypes.Float64:
		return adaptiveAvgPool2DForward[float64](p, x), nil
	}
	return nil, errors.Errorf("AdaptiveAvgPool2D.Apply(): dtype %s not supported", x.DType())
}

func adaptiveAvgPool2DForward[T dtypes.GoFloat](p *AdaptiveAvgPool2D, x *tensors.Tensor) *tensors.Tensor {
	batch, channels := x.Shape().Dim(0), x.Shape().Dim(1)
	inH, inW := x.Shape().Dim(2), x.Shape().Dim(3)
	outH, outW := p.OutputSize[0], p.OutputSize[1]
	out := tensors.FromShape(shapes.Make(x.DType(), batch, channels, outH, outW))
	xFlat := tensors.ConstFlatData[T](x)
	outFlat := tensors.MutableFlatData[T](out)

	for nc := range batch * channels {
		inBase := nc * inH * inW
		outBase := nc * outH * outW
		for oh := range outH {
			startH := oh * inH / outH
			endH := ((oh+1)*inH + outH - 1) / outH
			for ow := range outW {
				startW := ow * inW / outW
				endW := ((ow+1)*inW + outW - 1) / outW
				var sum T
				for ih := startH; ih < endH; ih++ {
					for iw := startW; iw < endW; iw++ {
						sum += xFlat[inBase+ih*inW+iw]
					}
				}
				outFlat[outBase+oh*outW+ow] = sum / T((endH-startH)*(endW-startW))
			}
		}
	}
	return out
}

// Apply computes `x @ weight^T + bias` for x shaped `[batch, inFeatures]`.
func (d *Dense) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || x.Rank() != 2 {
		return nil, errors.Errorf("Dense.Apply(): input must have rank 2, got %s", x.Shape())
	}
	if x.Shape().Dim(1) != d.InFeatures {
		return nil, errors.Errorf("Dense.Apply(): input has %d features, layer expects %d", x.Shape().Dim(1), d.InFeatures)
	}
	switch x.DType() {
	case dtypes.Float32:
		return denseForward[float32](d, x), nil
	case dtypes.Float64:
		return denseForward[float64](d, x), nil
	}
	return nil, errors.Errorf("Dense.Apply(): dtype %s not supported", x.DType())
}

func denseForward[T dtypes.GoFloat](d *Dense, x *tensors.Tensor) *tensors.Tensor {
	batch := x.Shape().Dim(0)
	out := tensors.FromShape(shapes.Make(x.DType(), batch, d.OutFeatures))
	xFlat := tensors.ConstFlatData[T](x)
	wFlat := tensors.ConstFlatData[T](d.Weight)
	outFlat := tensors.MutableFlatData[T](out)
	var biasFlat []T
	if d.Bias != nil {
		biasFlat = tensors.ConstFlatData[T](d.Bias)
	}

	for n := range batch {
		for of := range d.OutFeatures {
			var acc T
			if biasFlat != nil {
				acc = biasFlat[of]
			}
			for inF := range d.InFeatures {
				acc += xFlat[n*d.InFeatures+inF] * wFlat[of*d.InFeatures+inF]
			}
			outFlat[n*d.OutFeatures+of] = acc
		}
	}
	return out
}

// Apply rectifies x elementwise.
func (r *ReLU) Apply(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil {
		return nil, errors.Errorf("ReLU.Apply(): input is nil")
	}
	switch x.DType() {
	case dtypes.Float32:
		return reluForward[float32](x), nil
	case dtypes.Float64:
		return reluForward[float64](x), nil
	}
	return nil, errors.Errorf("ReLU.Apply(): dtype %s not supported", x.DType())
}

func reluForward[T dtypes.GoFloat](x *tensors.Tensor) *tensors.Tensor {
	out := x.Clone()
	flat := tensors.MutableFlatData[T](out)
	for ii, v := range flat {
		if v < 0 {
			flat[ii] = 0
		}
	}
	return out
}

// resolvePadIndex maps an input position, possibly inside the padded margin, to the
// actual index read, per the padding mode. ok is false when the position reads as an
// implicit zero (PadZeros).
//
// PadReflect reflects around the edge elements without repeating them, so it needs the
// padding to be smaller than the input size; callers validate that.
func resolvePadIndex(pos, size int, mode PaddingMode) (index int, ok bool) {
	if pos >= 0 && pos < size {
		return pos, true
	}
	switch mode {
	case PadReflect:
		if pos < 0 {
			pos = -pos
		}
		if pos >= size {
			pos = 2*size - 2 - pos
		}
		return pos, true
	case PadReplicate:
		if pos < 0 {
			return 0, true
		}
		return size - 1, true
	case PadCircular:
		pos %= size
		if pos < 0 {
			pos += size
		}
		return pos, true
	}
	return 0, false
}

func checkConvInput(x *tensors.Tensor, wantRank, inChannels int, dtype dtypes.DType) error {
	if x == nil || x.Rank() != wantRank {
		return errors.Errorf("input must have rank %d, got %s", wantRank, x.Shape())
	}
	if x.Shape().Dim(1) != inChannels {
		return errors.Errorf("input has %d channels, layer expects %d", x.Shape().Dim(1), inChannels)
	}
	if x.DType() != dtype {
		return errors.Errorf("input dtype %s does not match the layer's %s", x.DType(), dtype)
	}
	return nil
}

func convOutputDim(inDim, padding, dilation, kernelSize, stride int) int {
	numerator := inDim + 2*padding - dilation*(kernelSize-1) - 1
	// Integer division truncates toward zero, not toward minus infinity: a negative
	// numerator must yield 0, not 1.
	if numerator < 0 {
		return 0
	}
	return numerator/stride + 1
}

func poolOutputDim(inDim, padding, kernelSize, stride int, ceilMode bool) int {
	numerator := inDim + 2*padding - kernelSize
	if numerator < 0 {
		return 0
	}
	var outDim int
	if ceilMode {
		outDim = (numerator+stride-1)/stride + 1
		// A window starting entirely in the right padding contributes nothing: drop it.
		if (outDim-1)*stride >= inDim+padding {
			outDim--
		}
	} else {
		outDim = numerator/stride + 1
	}
	return outDim
}

func sqrt[T dtypes.GoFloat](v T) T {
	return T(math.Sqrt(float64(v)))
}
