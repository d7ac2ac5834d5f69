// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers defines the model hierarchy the toolkit operates on: a tree of named
// modules, each a tagged variant of a closed set of layer kinds.
//
// A model is a Module: either a leaf layer carrying its typed configuration and learned
// state (Conv1D, BatchNorm2D, AvgPool1D, ...), or a Container holding named children in
// registration order. Modules within a hierarchy are addressed by "dotted paths": the
// chain of child names from the root, joined by ".", e.g. "encoder.block1.conv".
//
// Leaf layers follow the semantics of the corresponding standard deep-learning layers:
// channels-first layout, `[batch, channels, spatial...]`. Every leaf provides an
// inference-mode Apply, used by the numerical spot checks in package `ml/expand` and
// usable on its own for small host-side evaluations. Apply is not a training path:
// there is no autograd and batch-norm always normalizes with its running statistics.
package layers

import (
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/modeltools/types/tensors"
	"github.com/gomlx/modeltools/types/xslices"
)

// Kind enumerates the supported module kinds. It is a closed set: the expansion rule
// tables in package `ml/expand` dispatch on it, and every Module reports exactly one.
type Kind int

const (
	KindContainer Kind = iota
	KindConv1D
	KindConv2D
	KindBatchNorm1D
	KindBatchNorm2D
	KindAvgPool1D
	KindAvgPool2D
	KindAdaptiveAvgPool1D
	KindAdaptiveAvgPool2D
	KindDense
	KindReLU
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "Container"
	case KindConv1D:
		return "Conv1D"
	case KindConv2D:
		return "Conv2D"
	case KindBatchNorm1D:
		return "BatchNorm1D"
	case KindBatchNorm2D:
		return "BatchNorm2D"
	case KindAvgPool1D:
		return "AvgPool1D"
	case KindAvgPool2D:
		return "AvgPool2D"
	case KindAdaptiveAvgPool1D:
		return "AdaptiveAvgPool1D"
	case KindAdaptiveAvgPool2D:
		return "AdaptiveAvgPool2D"
	case KindDense:
		return "Dense"
	case KindReLU:
		return "ReLU"
	}
	return "UnknownKind"
}

// Module is one element of the model hierarchy: a leaf layer or a Container.
type Module interface {
	// Kind returns the module's kind tag.
	Kind() Kind

	// NamedChildren returns the direct children in registration order.
	// Leaf layers return nil.
	NamedChildren() []NamedModule
}

// NamedModule pairs a child module with the name it is registered under in its parent.
type NamedModule struct {
	Name   string
	Module Module
}

// HasParameters is implemented by modules holding tensors: learned parameters and,
// for batch normalization, running statistics.
type HasParameters interface {
	Parameters() []*tensors.Tensor
}

// Configurable is implemented by stateless leaf layers (the pooling layers). It exposes
// the layer's configuration attributes in their declared order, so that layer pairs
// sharing the same ordered attribute set can be converted generically -- see
// `expand.SimpleExpansion`.
type Configurable interface {
	Module
	ConfigAttrs() []any
}

// Container is a module holding named children in registration order. It is the only
// module kind with children; the inner nodes of every hierarchy are Containers.
type Container struct {
	names    []string
	children map[string]Module
}

// Compile-time check.
var _ Module = (*Container)(nil)

// NewContainer returns an empty Container.
func NewContainer() *Container {
	return &Container{children: make(map[string]Module)}
}

// Sequential returns a Container with the given children registered under their
// positional index ("0", "1", ...).
func Sequential(children ...Module) *Container {
	c := NewContainer()
	for ii, child := range children {
		c.Add(strconv.Itoa(ii), child)
	}
	return c
}

// Add registers a child under the given name and returns the container, so calls
// can be chained. Names must be non-empty, unique within the container and must not
// contain ".", which is reserved for path addressing.
func (c *Container) Add(name string, child Module) *Container {
	if name == "" {
		exceptions.Panicf("Container.Add(): child name cannot be empty")
	}
	for _, r := range name {
		if r == '.' {
			exceptions.Panicf("Container.Add(%q): child names cannot contain '.'", name)
		}
	}
	if child == nil {
		exceptions.Panicf("Container.Add(%q): child cannot be nil", name)
	}
	if _, found := c.children[name]; found {
		exceptions.Panicf("Container.Add(%q): a child with this name already exists", name)
	}
	c.names = append(c.names, name)
	c.children[name] = child
	return c
}

// Child returns the child registered under name, or nil if there is none.
func (c *Container) Child(name string) Module {
	return c.children[name]
}

// Replace swaps the child registered under name with the given module, keeping its
// position in the registration order. It returns false if no child with that name exists.
func (c *Container) Replace(name string, child Module) bool {
	if _, found := c.children[name]; !found {
		return false
	}
	c.children[name] = child
	return true
}

// NumChildren returns the number of direct children.
func (c *Container) NumChildren() int { return len(c.names) }

// Kind implements Module.
func (c *Container) Kind() Kind { return KindContainer }

// NamedChildren implements Module: direct children in registration order.
func (c *Container) NamedChildren() []NamedModule {
	return xslices.Map(c.names, func(name string) NamedModule {
		return NamedModule{Name: name, Module: c.children[name]}
	})
}

// Enumerate visits root and every descendant, depth-first, children in registration
// order. The root itself is visited with an empty path; descendants with their dotted
// path from the root.
func Enumerate(root Module, visit func(path string, module Module)) {
	enumerateRecursive(root, "", visit)
}

func enumerateRecursive(m Module, path string, visit func(path string, module Module)) {
	visit(path, m)
	for _, child := range m.NamedChildren() {
		childPath := child.Name
		if path != "" {
			childPath = path + "." + child.Name
		}
		enumerateRecursive(child.Module, childPath, visit)
	}
}

// NumParameters returns the total number of tensor elements and bytes held by the
// hierarchy rooted at m, including running statistics.
func NumParameters(m Module) (count int, memory uintptr) {
	Enumerate(m, func(_ string, module Module) {
		params, ok := module.(HasParameters)
		if !ok {
			return
		}
		for _, t := range params.Parameters() {
			if t == nil {
				continue
			}
			count += t.Size()
			memory += t.Shape().Memory()
		}
	})
	return
}
