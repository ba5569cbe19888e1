package sequencer

import (
	"github.com/goccy/go-json"
)

// GroupValues holds a record's group-key column values, keyed by column name.
// A column missing from the map is treated as NULL.
type GroupValues map[string]any

// ScopeTerm is one equality constraint of a group scope. A nil Value matches
// rows where the column is NULL.
type ScopeTerm struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// GroupScope identifies one ordered partition of a table: the equality
// constraints derived from a record's group-key values, in configured column
// order. The empty scope is the implicit global group and gets no special
// handling anywhere.
type GroupScope []ScopeTerm

// ScopeFor derives the scope of a record from the configured group columns.
// Column order is the configuration order, so two records with equal values
// always produce identical scopes.
func ScopeFor(columns []string, values GroupValues) GroupScope {
	scope := make(GroupScope, 0, len(columns))
	for _, col := range columns {
		scope = append(scope, ScopeTerm{Column: col, Value: values[col]})
	}
	return scope
}

// Key returns a canonical encoding of the scope, usable as a map key for
// per-group locks and as a log field.
func (s GroupScope) Key() string {
	if len(s) == 0 {
		return "[]"
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Group values come from column reads and are always driver
		// primitives; an unencodable value is a programming error.
		panic("sequencer: unencodable group scope: " + err.Error())
	}
	return string(data)
}

// Equal reports whether two scopes select the same group.
func (s GroupScope) Equal(o GroupScope) bool {
	if len(s) != len(o) {
		return false
	}
	return s.Key() == o.Key()
}

// changedGroupColumns lists the configured group columns whose value differs
// between the original and updated record state.
func changedGroupColumns(columns []string, original, updated GroupValues) []string {
	var changed []string
	for _, col := range columns {
		before := GroupScope{{Column: col, Value: original[col]}}
		after := GroupScope{{Column: col, Value: updated[col]}}
		if before.Key() != after.Key() {
			changed = append(changed, col)
		}
	}
	return changed
}
