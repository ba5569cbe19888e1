// Package seqbind declares how an ordered table is bound to the sequencer:
// which table holds the records, which column carries the sequence number,
// and which columns partition the table into independently ordered groups.
package seqbind

import (
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIDColumn       = "id"
	DefaultPositionColumn = "position"
)

// identPattern is deliberately strict: binding names are interpolated into
// SQL text, so anything beyond a plain identifier is rejected up front.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Binding describes one ordered table.
type Binding struct {
	Table          string   `yaml:"table"`
	IDColumn       string   `yaml:"id_column"`
	PositionColumn string   `yaml:"position_column"`
	GroupColumns   []string `yaml:"group_columns"`
}

// WithDefaults returns a copy with the id and position columns filled in
// when the host left them unset.
func (b Binding) WithDefaults() Binding {
	if b.IDColumn == "" {
		b.IDColumn = DefaultIDColumn
	}
	if b.PositionColumn == "" {
		b.PositionColumn = DefaultPositionColumn
	}
	return b
}

// Validate checks every table and column name against the identifier pattern.
func (b Binding) Validate() error {
	if b.Table == "" {
		return fmt.Errorf("seqbind: table name is required")
	}
	names := append([]string{b.Table, b.IDColumn, b.PositionColumn}, b.GroupColumns...)
	for _, name := range names {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("seqbind: invalid identifier %q", name)
		}
	}
	seen := make(map[string]bool, len(b.GroupColumns))
	for _, col := range b.GroupColumns {
		if col == b.PositionColumn || col == b.IDColumn {
			return fmt.Errorf("seqbind: group column %q collides with id/position column", col)
		}
		if seen[col] {
			return fmt.Errorf("seqbind: duplicate group column %q", col)
		}
		seen[col] = true
	}
	return nil
}

// Load reads a YAML document mapping binding names to bindings, applies
// defaults, and validates each entry. Unknown fields are rejected.
func Load(r io.Reader) (map[string]Binding, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	raw := make(map[string]Binding)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("seqbind: decode: %w", err)
	}

	bindings := make(map[string]Binding, len(raw))
	for name, b := range raw {
		b = b.WithDefaults()
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("seqbind: binding %q: %w", name, err)
		}
		bindings[name] = b
	}
	return bindings, nil
}
