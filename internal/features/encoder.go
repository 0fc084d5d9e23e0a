package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// UnknownLabel is the reserved label every unseen value encodes to.
const UnknownLabel = "Unknown"

// ErrColumnNotFit is returned when a column has no code table.
var ErrColumnNotFit = errors.New("encoder not fit for column")

// CodeTable maps labels to integer codes for one column. Codes are the rank
// of each label in the sorted fit set; an Unknown code may be appended later.
type CodeTable struct {
	mu      sync.RWMutex
	labels  []string
	codes   map[string]int
	fitSize int
}

func newCodeTable(labels []string) *CodeTable {
	t := &CodeTable{
		labels:  labels,
		codes:   make(map[string]int, len(labels)),
		fitSize: len(labels),
	}
	for i, l := range labels {
		t.codes[l] = i
	}
	return t
}

// Encode returns the code for label. Unseen labels share a single Unknown
// code, which is appended on first use.
func (t *CodeTable) Encode(label string) (code int, unseen bool) {
	t.mu.RLock()
	code, ok := t.codes[label]
	t.mu.RUnlock()
	if ok {
		return code, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if code, ok := t.codes[UnknownLabel]; ok {
		return code, true
	}
	code = len(t.labels)
	t.labels = append(t.labels, UnknownLabel)
	t.codes[UnknownLabel] = code
	return code, true
}

// Decode returns the label for code. Codes outside the fit range decode to
// UnknownLabel.
func (t *CodeTable) Decode(code int) string {
	if code < 0 || code >= t.fitSize {
		return UnknownLabel
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.labels[code]
}

// Labels returns a copy of the current labels in code order.
func (t *CodeTable) Labels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// FitSize returns the number of labels seen at fit time.
func (t *CodeTable) FitSize() int {
	return t.fitSize
}

// Registry owns one code table per categorical column.
type Registry struct {
	tables   map[string]*CodeTable
	onUnseen func(column string)
}

// NewRegistry builds a registry from label lists that are already in code
// order. It is used when loading a persisted registry.
func NewRegistry(columns map[string][]string) *Registry {
	r := &Registry{tables: make(map[string]*CodeTable, len(columns))}
	for col, labels := range columns {
		cp := make([]string, len(labels))
		copy(cp, labels)
		r.tables[col] = newCodeTable(cp)
	}
	return r
}

// FitLabels builds a registry from raw values per column. Values are
// de-duplicated and sorted lexicographically, so the result does not depend
// on input order.
func FitLabels(values map[string][]string) *Registry {
	sorted := make(map[string][]string, len(values))
	for col, vals := range values {
		set := make(map[string]struct{}, len(vals))
		for _, v := range vals {
			set[v] = struct{}{}
		}
		labels := make([]string, 0, len(set))
		for v := range set {
			labels = append(labels, v)
		}
		sort.Strings(labels)
		sorted[col] = labels
	}
	return NewRegistry(sorted)
}

// Fit builds a registry over every categorical column of schema.
func Fit(schema Schema, rows []Row) *Registry {
	cols := schema.Categorical()
	values := make(map[string][]string, len(cols))
	for _, col := range cols {
		vals := make([]string, 0, len(rows))
		for _, row := range rows {
			v, _ := row.Label(col)
			vals = append(vals, v)
		}
		values[col] = vals
	}
	return FitLabels(values)
}

// OnUnseen installs a hook called whenever a column encodes an unseen
// value. It must be set before the registry is shared.
func (r *Registry) OnUnseen(fn func(column string)) {
	r.onUnseen = fn
}

// Encode returns the code of label in column.
func (r *Registry) Encode(column, label string) (int, error) {
	t, ok := r.tables[column]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrColumnNotFit, column)
	}
	code, unseen := t.Encode(label)
	if unseen && r.onUnseen != nil {
		r.onUnseen(column)
	}
	return code, nil
}

// Decode returns the label of code in column.
func (r *Registry) Decode(column string, code int) (string, error) {
	t, ok := r.tables[column]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrColumnNotFit, column)
	}
	return t.Decode(code), nil
}

// Table returns the code table for column.
func (r *Registry) Table(column string) (*CodeTable, bool) {
	t, ok := r.tables[column]
	return t, ok
}

// Columns returns the fitted column names, sorted.
func (r *Registry) Columns() []string {
	cols := make([]string, 0, len(r.tables))
	for c := range r.tables {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Require returns ErrColumnNotFit for the first column without a table.
func (r *Registry) Require(columns []string) error {
	for _, c := range columns {
		if _, ok := r.tables[c]; !ok {
			return fmt.Errorf("%w: %s", ErrColumnNotFit, c)
		}
	}
	return nil
}

type registryFile struct {
	Columns map[string][]string `json:"columns"`
}

// Save writes the registry as JSON, including any appended Unknown codes.
func (r *Registry) Save(w io.Writer) error {
	f := registryFile{Columns: make(map[string][]string, len(r.tables))}
	for col, t := range r.tables {
		f.Columns[col] = t.Labels()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	return nil
}

// LoadRegistry reads a registry written by Save.
func LoadRegistry(rd io.Reader) (*Registry, error) {
	var f registryFile
	if err := json.NewDecoder(rd).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	if len(f.Columns) == 0 {
		return nil, errors.New("decoding registry: no columns")
	}
	return NewRegistry(f.Columns), nil
}
