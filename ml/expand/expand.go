// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package expand converts 1D layers of a model hierarchy to numerically equivalent 2D
// counterparts, in place.
//
// Exporters and inference runtimes with mature 2D kernels often lack 1D ones; a model
// built from 1D convolutions, batch normalizations and poolings can be run on them by
// rewriting each 1D layer as a 2D layer operating on inputs with a trailing singleton
// spatial axis (`[batch, channels, length, 1]`).
//
// The conversions are driven by per-kind expansion rules (see Rules and DefaultRules).
// Auto walks a hierarchy, converts every module a rule applies to and swaps the results
// in; Swap performs the swapping alone, given an explicit path->module mapping.
package expand

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/modeltools/ml/layers"
	"github.com/gomlx/modeltools/types/shapes"
	"github.com/gomlx/modeltools/types/tensors"
	"github.com/gomlx/modeltools/types/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Number of random input samples and the tolerance used by the convolution
// equivalence spot check.
const (
	equivalenceSamples   = 2
	equivalenceSampleLen = 256
	equivalenceTolerance = 1e-6
)

// ExpansionFn converts one module to its expanded counterpart. It returns (nil, nil)
// when the module is not one it converts, a non-nil module on success, and an error
// when the module should have been convertible but wasn't.
type ExpansionFn func(m layers.Module) (layers.Module, error)

// Rules maps module kinds to the expansion applied to modules of that kind.
type Rules map[layers.Kind]ExpansionFn

// DefaultRules returns the standard 1D->2D expansion rules: convolution, batch
// normalization, average pooling and adaptive average pooling.
func DefaultRules() Rules {
	return Rules{
		layers.KindConv1D:            Conv1DToConv2D,
		layers.KindBatchNorm1D:       BatchNorm1DToBatchNorm2D,
		layers.KindAvgPool1D:         SimpleExpansion(layers.KindAvgPool1D, layers.NewAvgPool2DFromAttrs),
		layers.KindAdaptiveAvgPool1D: SimpleExpansion(layers.KindAdaptiveAvgPool1D, layers.NewAdaptiveAvgPool2DFromAttrs),
	}
}

// Conv1DToConv2D converts a Conv1D to a Conv2D with kernel `(k, 1)`: the original
// geometry on the height axis, a singleton on the width axis. The weight tensor is
// reshaped (sharing the underlying data) and the bias tensor is reused as is.
//
// Before returning, the conversion is spot-checked: both layers are run on random
// inputs and the means of their outputs must agree within 1e-6.
func Conv1DToConv2D(m layers.Module) (layers.Module, error) {
	src, ok := m.(*layers.Conv1D)
	if !ok {
		return nil, nil
	}
	dst := layers.NewConv2D(src.InChannels, src.OutChannels, [2]int{src.KernelSize, 1}).
		WithStride([2]int{src.Stride, 1}).
		WithPadding([2]int{src.Padding, 0}).
		WithDilation([2]int{src.Dilation, 1}).
		WithGroups(src.Groups).
		WithPaddingMode(src.PaddingMode)
	dst.Weight = src.Weight.Reshape(src.OutChannels, src.InChannels/src.Groups, src.KernelSize, 1)
	dst.Bias = src.Bias

	if err := checkConvEquivalence(src, dst); err != nil {
		return nil, errors.WithMessage(err, "Conv1DToConv2D()")
	}
	return dst, nil
}

// checkConvEquivalence runs both convolutions on a few random inputs and verifies the
// means of their outputs agree within equivalenceTolerance.
func checkConvEquivalence(src *layers.Conv1D, dst *layers.Conv2D) error {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	for sample := range equivalenceSamples {
		x := tensors.FromShape(shapes.Make(src.Weight.DType(), 1, src.InChannels, equivalenceSampleLen))
		x.FillUniform(rng)
		out1D, err := src.Apply(x)
		if err != nil {
			return errors.WithMessagef(err, "running the 1D convolution on sample #%d", sample)
		}
		out2D, err := dst.Apply(x.Reshape(1, src.InChannels, equivalenceSampleLen, 1))
		if err != nil {
			return errors.WithMessagef(err, "running the 2D convolution on sample #%d", sample)
		}
		mean1D, err := flatMean(out1D)
		if err != nil {
			return err
		}
		mean2D, err := flatMean(out2D)
		if err != nil {
			return err
		}
		diff := mean1D - mean2D
		if diff < 0 {
			diff = -diff
		}
		if diff > equivalenceTolerance {
			return errors.Errorf("output means diverge on sample #%d: 1D=%g, 2D=%g (tolerance %g)",
				sample, mean1D, mean2D, equivalenceTolerance)
		}
	}
	return nil
}

func flatMean(t *tensors.Tensor) (float64, error) {
	var sum float64
	switch t.DType() {
	case dtypes.Float32:
		for _, v := range tensors.ConstFlatData[float32](t) {
			sum += float64(v)
		}
	case dtypes.Float64:
		for _, v := range tensors.ConstFlatData[float64](t) {
			sum += v
		}
	default:
		return 0, errors.Errorf("cannot take the mean of a %s tensor", t.DType())
	}
	return sum / float64(t.Size()), nil
}

// BatchNorm1DToBatchNorm2D converts a BatchNorm1D to a BatchNorm2D with the same
// configuration and a copy of the learned and running state. The state is per-feature
// with no spatial component, so the copy is exact and needs no numerical check.
func BatchNorm1DToBatchNorm2D(m layers.Module) (layers.Module, error) {
	src, ok := m.(*layers.BatchNorm1D)
	if !ok {
		return nil, nil
	}
	dst := layers.NewBatchNorm2D(src.NumFeatures).
		WithEpsilon(src.Epsilon).
		WithMomentum(src.Momentum).
		WithAffine(src.Affine).
		WithTrackRunningStats(src.TrackRunningStats)
	dst.SetState(src.State())
	return dst, nil
}

// SimpleExpansion returns an expansion rule for stateless layers: modules of kind src
// are converted by reading their ordered configuration attributes (see
// layers.Configurable) and handing them to build. Useful for layer pairs whose
// configurations line up positionally, like the pooling layers.
func SimpleExpansion(src layers.Kind, build func(attrs ...any) layers.Module) ExpansionFn {
	return func(m layers.Module) (layers.Module, error) {
		if m.Kind() != src {
			return nil, nil
		}
		cfg, ok := m.(layers.Configurable)
		if !ok {
			return nil, errors.Errorf("module of kind %s does not expose its configuration attributes", src)
		}
		var dst layers.Module
		err := exceptions.TryCatch[error](func() { dst = build(cfg.ConfigAttrs()...) })
		if err != nil {
			return nil, errors.WithMessagef(err, "building the expanded counterpart of a %s", src)
		}
		return dst, nil
	}
}

// PathNotFoundError reports a dotted path that does not address a module in the
// hierarchy.
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("no module at path %q", e.Path)
}

// NotAContainerError reports a dotted path whose prefix addresses a leaf layer, which
// cannot have children.
type NotAContainerError struct {
	// Path of the leaf module that was traversed into.
	Path string
	Kind layers.Kind
}

func (e *NotAContainerError) Error() string {
	return fmt.Sprintf("module at path %q is a %s, not a Container", e.Path, e.Kind)
}

// Swap replaces, in place, the modules at the mapping's dotted paths with the mapped
// replacements. Paths are resolved against root; replacements are applied in sorted
// path order. The first failing path aborts the swap: earlier replacements remain
// applied.
//
// The root itself (the empty path) cannot be replaced. Lookup failures are reported as
// *PathNotFoundError or *NotAContainerError.
func Swap(root layers.Module, mapping map[string]layers.Module) error {
	for _, path := range xslices.SortedKeys(mapping) {
		if path == "" {
			return errors.Errorf("cannot replace the hierarchy root (empty path)")
		}
		if mapping[path] == nil {
			return errors.Errorf("replacement for path %q is nil", path)
		}
		segments := strings.Split(path, ".")
		current := root
		for ii, segment := range segments[:len(segments)-1] {
			container, ok := current.(*layers.Container)
			if !ok {
				return &NotAContainerError{Path: strings.Join(segments[:ii], "."), Kind: current.Kind()}
			}
			child := container.Child(segment)
			if child == nil {
				return &PathNotFoundError{Path: strings.Join(segments[:ii+1], ".")}
			}
			current = child
		}
		container, ok := current.(*layers.Container)
		if !ok {
			return &NotAContainerError{Path: strings.Join(segments[:len(segments)-1], "."), Kind: current.Kind()}
		}
		if !container.Replace(segments[len(segments)-1], mapping[path]) {
			return &PathNotFoundError{Path: path}
		}
	}
	return nil
}

// Auto walks the hierarchy rooted at root and converts every module an expansion rule
// applies to, swapping the converted modules in place. The hierarchy is left untouched
// if any conversion fails. It returns the number of modules swapped.
//
// The root itself is never converted, only descendants.
func Auto(root layers.Module, rules Rules) (int, error) {
	mapping := make(map[string]layers.Module)
	var firstErr error
	layers.Enumerate(root, func(path string, m layers.Module) {
		if firstErr != nil || path == "" {
			return
		}
		rule, found := rules[m.Kind()]
		if !found {
			return
		}
		replacement, err := rule(m)
		if err != nil {
			firstErr = errors.WithMessagef(err, "expanding module at path %q", path)
			return
		}
		if replacement == nil {
			return
		}
		mapping[path] = replacement
	})
	if firstErr != nil {
		return 0, firstErr
	}
	if err := Swap(root, mapping); err != nil {
		return 0, err
	}
	klog.Infof("Swapped %d modules", len(mapping))
	return len(mapping), nil
}
