package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/transitx/transitx/internal/features"
)

// FormatVersion tags persisted model files.
const FormatVersion = "transitx-gbdt/1"

// ErrCorruptModel is returned for files that decode but cannot be evaluated.
var ErrCorruptModel = errors.New("corrupt model file")

type modelFile struct {
	Format      string `json:"format"`
	Fingerprint string `json:"schema_fingerprint"`
	*Model
}

// Save writes m as JSON together with its schema descriptor.
func (m *Model) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(modelFile{
		Format:      FormatVersion,
		Fingerprint: m.Schema.Fingerprint(),
		Model:       m,
	})
}

// Load reads a model and refuses it unless it was trained on schema with
// the given objective.
func Load(r io.Reader, schema features.Schema, objective Objective) (*Model, error) {
	f := modelFile{Model: &Model{}}
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if f.Format != FormatVersion {
		return nil, fmt.Errorf("%w: format %q, expected %q", ErrCorruptModel, f.Format, FormatVersion)
	}
	m := f.Model

	if err := schema.Compatible(m.Schema); err != nil {
		return nil, err
	}
	if f.Fingerprint != m.Schema.Fingerprint() {
		return nil, fmt.Errorf("%w: fingerprint %s does not match embedded schema", ErrSchemaMismatch, f.Fingerprint)
	}
	if m.Objective != objective {
		return nil, fmt.Errorf("%w: file is %s, expected %s", ErrObjectiveMismatch, m.Objective, objective)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// check verifies every tree can be walked without leaving its node list.
func (m *Model) check() error {
	if len(m.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrCorruptModel)
	}
	width := m.Schema.Len()
	for t, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrCorruptModel, t)
		}
		for i, n := range tree.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= width {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrCorruptModel, t, i, n.Feature)
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("%w: tree %d node %d has bad children", ErrCorruptModel, t, i)
			}
		}
	}
	return nil
}
