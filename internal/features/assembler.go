package features

import (
	"fmt"
	"strconv"
)

// Vector is an encoded feature row in schema order.
type Vector []float64

// Assembler turns rows into encoded vectors against one registry.
type Assembler struct {
	schema   Schema
	registry *Registry
}

// NewAssembler returns an Assembler for the feature row schema. Every
// categorical column must have a code table.
func NewAssembler(registry *Registry) (*Assembler, error) {
	schema := RowSchema()
	if err := registry.Require(schema.Categorical()); err != nil {
		return nil, err
	}
	return &Assembler{schema: schema, registry: registry}, nil
}

// Schema returns the descriptor vectors are produced in.
func (a *Assembler) Schema() Schema {
	return a.schema
}

// Registry returns the registry used for encoding.
func (a *Assembler) Registry() *Registry {
	return a.registry
}

// Encode converts a row to a vector.
func (a *Assembler) Encode(row Row) (Vector, error) {
	vec := make(Vector, a.schema.Len())
	for i, col := range a.schema.Columns {
		switch col.Kind {
		case KindCategorical:
			label, ok := row.Label(col.Name)
			if !ok {
				return nil, fmt.Errorf("row has no categorical column %q", col.Name)
			}
			code, err := a.registry.Encode(col.Name, label)
			if err != nil {
				return nil, err
			}
			vec[i] = float64(code)
		default:
			v, ok := row.Numeric(col.Name)
			if !ok {
				return nil, fmt.Errorf("row has no numeric column %q", col.Name)
			}
			vec[i] = v
		}
	}
	return vec, nil
}

// Assemble builds and encodes a row from raw input.
func (a *Assembler) Assemble(in Input) (Row, Vector, error) {
	row, err := BuildRow(in)
	if err != nil {
		return Row{}, nil, err
	}
	vec, err := a.Encode(row)
	if err != nil {
		return Row{}, nil, err
	}
	return row, vec, nil
}

// Decode maps an encoded categorical value back to its label.
func (a *Assembler) Decode(column string, v float64) (string, error) {
	return a.registry.Decode(column, int(v))
}

// FormatValue renders one vector entry for tabular output. Categorical
// codes print as integers.
func FormatValue(kind ColumnKind, v float64) string {
	if kind == KindCategorical {
		return strconv.Itoa(int(v))
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
