// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package inject

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mirrors a function `foo(x, y=1, *, z=nil)`: z defaults to the sum of x and y when
// not given.
func foo(x, y int, z *int) (int, int, int) {
	zValue := x + y
	if z != nil {
		zValue = *z
	}
	return x, y, zValue
}

var fooSig = NewSignature(
	Positional("x"),
	PositionalDefault("y", 1),
	KeywordOnlyDefault("z", nil),
)

func TestCall(t *testing.T) {
	// Only the required parameter given: defaults fill in the rest.
	out, err := Call(foo, fooSig, nil, map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, []any{5, 1, 6}, out)

	// Unknown named arguments are dropped.
	out, err = Call(foo, fooSig, nil, map[string]any{"x": 5, "learning_rate": 0.1, "optimizer": "adam"})
	require.NoError(t, err)
	assert.Equal(t, []any{5, 1, 6}, out)

	// An unknown key carrying nil is dropped too, not mistaken for an override of z.
	out, err = Call(foo, fooSig, nil, map[string]any{"x": 5, "u": nil})
	require.NoError(t, err)
	assert.Equal(t, []any{5, 1, 6}, out)

	// Keyword-only parameter given by name.
	seven := 7
	out, err = Call(foo, fooSig, nil, map[string]any{"x": 5, "z": &seven})
	require.NoError(t, err)
	assert.Equal(t, []any{5, 1, 7}, out)

	// Positional arguments bind the leading parameters.
	out, err = Call(foo, fooSig, []any{2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 3, 5}, out)
}

func TestCallConversions(t *testing.T) {
	scale := func(factor float64, values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return factor * sum
	}
	sig := NewSignature(Positional("factor"), PositionalDefault("values", nil))

	// An int argument converts to the float64 parameter; the nil default passes as a
	// nil slice.
	out, err := Call(scale, sig, nil, map[string]any{"factor": 2})
	require.NoError(t, err)
	assert.Equal(t, []any{0.0}, out)

	out, err = Call(scale, sig, nil, map[string]any{"factor": 2, "values": []float64{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []any{6.0}, out)

	_, err = Call(scale, sig, nil, map[string]any{"factor": "fast"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"factor"`)
}

func TestCallErrors(t *testing.T) {
	// Missing required parameter.
	_, err := Call(foo, fooSig, nil, map[string]any{"y": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required parameter "x"`)

	// Bound both positionally and by name.
	_, err = Call(foo, fooSig, []any{5}, map[string]any{"x": 6})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `multiple values for parameter "x"`)

	// Keyword-only parameters reject positional binding.
	_, err = Call(foo, fooSig, []any{5, 1, 6}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many positional arguments")

	// nil for a non-nilable parameter.
	sig := NewSignature(PositionalDefault("n", nil))
	_, err = Call(func(n int) int { return n }, sig, nil, nil)
	require.Error(t, err)

	// Signature/function arity mismatch, non-functions, variadics.
	_, err = Call(foo, NewSignature(Positional("x")), nil, map[string]any{"x": 5})
	require.Error(t, err)
	_, err = Call(42, fooSig, nil, nil)
	require.Error(t, err)
	_, err = Call(func(xs ...int) {}, NewSignature(Positional("xs")), nil, map[string]any{"xs": 1})
	require.Error(t, err)
}

func TestNewSignatureValidation(t *testing.T) {
	err := exceptions.TryCatch[error](func() {
		NewSignature(Positional("x"), Positional("x"))
	})
	require.Error(t, err)

	err = exceptions.TryCatch[error](func() {
		NewSignature(KeywordOnly("z"), Positional("x"))
	})
	require.Error(t, err)

	err = exceptions.TryCatch[error](func() {
		NewSignature(PositionalDefault("y", 1), Positional("x"))
	})
	require.Error(t, err)

	err = exceptions.TryCatch[error](func() {
		NewSignature(Positional(""))
	})
	require.Error(t, err)

	// Keyword-only parameters may follow defaults freely.
	sig := NewSignature(PositionalDefault("y", 1), KeywordOnly("z"))
	assert.Equal(t, 2, sig.NumParams())
}

func TestBindOrder(t *testing.T) {
	sig := NewSignature(Positional("a"), Positional("b"), KeywordOnlyDefault("c", "default"))
	bound, err := sig.Bind([]any{1}, map[string]any{"b": 2, "ignored": true})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, "default"}, bound)
}
