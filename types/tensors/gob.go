// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// GobEncode implements gob.GobEncoder: it serializes the shape followed by the flat data.
func (t *Tensor) GobEncode() ([]byte, error) {
	if t == nil || !t.shape.Ok() {
		return nil, errors.Errorf("cannot serialize an invalid tensor")
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(t.shape); err != nil {
		return nil, errors.Wrapf(err, "failed to serialize shape of tensor %s", t.shape)
	}
	var err error
	switch flat := t.flat.(type) {
	case []float32:
		err = enc.Encode(flat)
	case []float64:
		err = enc.Encode(flat)
	case []int32:
		err = enc.Encode(flat)
	case []int64:
		err = enc.Encode(flat)
	case []uint8:
		err = enc.Encode(flat)
	case []bool:
		err = enc.Encode(flat)
	default:
		err = errors.Errorf("dtype %s not supported", t.shape.DType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize data of tensor %s", t.shape)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *Tensor) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&t.shape); err != nil {
		return errors.Wrap(err, "failed to deserialize tensor shape")
	}
	if !t.shape.Ok() {
		return errors.Errorf("deserialized tensor shape is invalid")
	}
	t.flat = newFlat(t.shape)
	var err error
	switch flat := t.flat.(type) {
	case []float32:
		err = dec.Decode(&flat)
		t.flat = flat
	case []float64:
		err = dec.Decode(&flat)
		t.flat = flat
	case []int32:
		err = dec.Decode(&flat)
		t.flat = flat
	case []int64:
		err = dec.Decode(&flat)
		t.flat = flat
	case []uint8:
		err = dec.Decode(&flat)
		t.flat = flat
	case []bool:
		err = dec.Decode(&flat)
		t.flat = flat
	}
	if err != nil {
		return errors.Wrapf(err, "failed to deserialize data of tensor %s", t.shape)
	}
	return nil
}
