// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"bytes"
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Container{})
	gob.Register(&Conv1D{})
	gob.Register(&Conv2D{})
	gob.Register(&BatchNorm1D{})
	gob.Register(&BatchNorm2D{})
	gob.Register(&AvgPool1D{})
	gob.Register(&AvgPool2D{})
	gob.Register(&AdaptiveAvgPool1D{})
	gob.Register(&AdaptiveAvgPool2D{})
	gob.Register(&Dense{})
	gob.Register(&ReLU{})
}

// GobEncode implements gob.GobEncoder. Children are encoded in registration order, so
// a round trip preserves iteration order.
func (c *Container) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(c.NamedChildren()); err != nil {
		return nil, errors.Wrapf(err, "failed to encode Container children")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (c *Container) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var children []NamedModule
	if err := dec.Decode(&children); err != nil {
		return errors.Wrapf(err, "failed to decode Container children")
	}
	c.names = nil
	c.children = make(map[string]Module, len(children))
	for _, child := range children {
		c.Add(child.Name, child.Module)
	}
	return nil
}

// GobEncode implements gob.GobEncoder. ReLU has no state, and gob refuses types
// without exported fields.
func (r *ReLU) GobEncode() ([]byte, error) { return nil, nil }

// GobDecode implements gob.GobDecoder.
func (r *ReLU) GobDecode([]byte) error { return nil }

// Save serializes the module tree rooted at root to the given file path.
func Save(root Module, filePath string) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(&root); err != nil {
		return errors.Wrapf(err, "failed to encode module tree")
	}
	if err := os.WriteFile(filePath, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "failed to write module tree to %q", filePath)
	}
	return nil
}

// Load deserializes a module tree previously written with Save.
func Load(filePath string) (Module, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read module tree from %q", filePath)
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	var root Module
	if err := dec.Decode(&root); err != nil {
		return nil, errors.Wrapf(err, "failed to decode module tree from %q", filePath)
	}
	return root, nil
}
