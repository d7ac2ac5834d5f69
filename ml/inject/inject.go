// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package inject calls functions with a superset of named arguments: arguments whose
// names the function's declared signature doesn't know are silently dropped, and
// declared defaults fill in the missing ones.
//
// It is the glue for plugin-style factories -- layer constructors, dataset builders --
// that are registered by name and invoked with one shared bag of configuration values,
// where each factory picks out the subset it understands. Go functions don't carry
// parameter names at runtime, so each factory declares its signature explicitly:
//
//	sig := inject.NewSignature(
//		inject.Positional("features"),
//		inject.PositionalDefault("dropout", 0.1),
//	)
//	out, err := inject.Call(newEncoder, sig, nil, config)
package inject

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/modeltools/types"
	"github.com/pkg/errors"
)

// Param declares one parameter of a Signature.
type Param struct {
	Name string

	// KeywordOnly parameters can only be bound by name, never positionally.
	KeywordOnly bool

	// Default is the value bound when the parameter is given neither positionally nor
	// by name. Only meaningful when HasDefault is set.
	Default    any
	HasDefault bool
}

// Positional declares a required parameter bindable positionally or by name.
func Positional(name string) Param {
	return Param{Name: name}
}

// PositionalDefault declares an optional parameter bindable positionally or by name.
func PositionalDefault(name string, defaultValue any) Param {
	return Param{Name: name, Default: defaultValue, HasDefault: true}
}

// KeywordOnly declares a required parameter bindable only by name.
func KeywordOnly(name string) Param {
	return Param{Name: name, KeywordOnly: true}
}

// KeywordOnlyDefault declares an optional parameter bindable only by name.
func KeywordOnlyDefault(name string, defaultValue any) Param {
	return Param{Name: name, Default: defaultValue, HasDefault: true, KeywordOnly: true}
}

// Signature is the declared parameter list of a function: an ordered sequence of named
// parameters, some bindable positionally, some keyword-only, some with defaults.
type Signature struct {
	params []Param
	// Number of leading parameters bindable positionally.
	numPositional int
}

// NewSignature builds a Signature from the declared parameters. It panics on malformed
// declarations: duplicate names, a positional parameter following a keyword-only one,
// or a required positional parameter following one with a default.
func NewSignature(params ...Param) *Signature {
	seen := types.MakeSet[string](len(params))
	sawKeywordOnly := false
	sawDefault := false
	for _, p := range params {
		if p.Name == "" {
			exceptions.Panicf("inject.NewSignature(): parameter names cannot be empty")
		}
		if seen.Has(p.Name) {
			exceptions.Panicf("inject.NewSignature(): duplicate parameter %q", p.Name)
		}
		seen.Insert(p.Name)
		if p.KeywordOnly {
			sawKeywordOnly = true
			continue
		}
		if sawKeywordOnly {
			exceptions.Panicf("inject.NewSignature(): positional parameter %q cannot follow a keyword-only one", p.Name)
		}
		if p.HasDefault {
			sawDefault = true
		} else if sawDefault {
			exceptions.Panicf("inject.NewSignature(): required positional parameter %q cannot follow one with a default", p.Name)
		}
	}
	s := &Signature{params: params}
	for _, p := range params {
		if p.KeywordOnly {
			break
		}
		s.numPositional++
	}
	return s
}

// NumParams returns the number of declared parameters.
func (s *Signature) NumParams() int { return len(s.params) }

// Bind resolves the declared parameters against positional arguments and a bag of named
// arguments, returning one value per parameter in declaration order.
//
// Named arguments whose names are not declared are dropped. Positional arguments bind to
// the leading non-keyword-only parameters in order. A parameter bound both positionally
// and by name is an error; so is a missing parameter with no default, or more positional
// arguments than positional parameters.
func (s *Signature) Bind(args []any, kwargs map[string]any) ([]any, error) {
	if len(args) > s.numPositional {
		return nil, errors.Errorf("too many positional arguments: got %d, at most %d accepted",
			len(args), s.numPositional)
	}
	bound := make([]any, len(s.params))
	isBound := make([]bool, len(s.params))
	for ii, arg := range args {
		bound[ii] = arg
		isBound[ii] = true
	}
	for ii, p := range s.params {
		value, given := kwargs[p.Name]
		if !given {
			continue
		}
		if isBound[ii] {
			return nil, errors.Errorf("multiple values for parameter %q", p.Name)
		}
		bound[ii] = value
		isBound[ii] = true
	}
	for ii, p := range s.params {
		if isBound[ii] {
			continue
		}
		if !p.HasDefault {
			return nil, errors.Errorf("missing required parameter %q", p.Name)
		}
		bound[ii] = p.Default
	}
	return bound, nil
}

// Call invokes fn with the arguments resolved by sig.Bind(args, kwargs) and returns
// fn's results. fn must be a non-variadic function taking exactly sig.NumParams()
// inputs; each bound value must be assignable or convertible to the corresponding
// input type. A nil bound value passes the input type's zero value, for nilable input
// types only.
func Call(fn any, sig *Signature, args []any, kwargs map[string]any) ([]any, error) {
	fnValue := reflect.ValueOf(fn)
	if !fnValue.IsValid() || fnValue.Kind() != reflect.Func {
		return nil, errors.Errorf("fn must be a function, got %T", fn)
	}
	fnType := fnValue.Type()
	if fnType.IsVariadic() {
		return nil, errors.Errorf("variadic functions are not supported")
	}
	if fnType.NumIn() != sig.NumParams() {
		return nil, errors.Errorf("function takes %d arguments, but the signature declares %d parameters",
			fnType.NumIn(), sig.NumParams())
	}

	bound, err := sig.Bind(args, kwargs)
	if err != nil {
		return nil, err
	}
	in := make([]reflect.Value, len(bound))
	for ii, value := range bound {
		inType := fnType.In(ii)
		if value == nil {
			if !isNilable(inType.Kind()) {
				return nil, errors.Errorf("parameter %q is nil, but the function takes a non-nilable %s",
					sig.params[ii].Name, inType)
			}
			in[ii] = reflect.Zero(inType)
			continue
		}
		v := reflect.ValueOf(value)
		switch {
		case v.Type().AssignableTo(inType):
			in[ii] = v
		case v.Type().ConvertibleTo(inType):
			in[ii] = v.Convert(inType)
		default:
			return nil, errors.Errorf("parameter %q: cannot use %s as %s", sig.params[ii].Name, v.Type(), inType)
		}
	}

	out := fnValue.Call(in)
	results := make([]any, len(out))
	for ii, v := range out {
		results[ii] = v.Interface()
	}
	return results, nil
}

func isNilable(kind reflect.Kind) bool {
	switch kind {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}
