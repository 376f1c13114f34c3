// Package schema defines the column-class policy that drives type coercion
// and imputation.
//
// A Policy is an allow-list: columns it does not name pass through the
// cleaning stages untouched.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Class is the declared class of a dynamic column.
type Class string

const (
	Numeric     Class = "numeric"
	Boolean     Class = "boolean"
	Categorical Class = "categorical"
)

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case Numeric, Boolean, Categorical:
		return true
	}
	return false
}

// Column declares the class of one column.
type Column struct {
	Name  string `json:"name"`
	Class Class  `json:"class"`

	// Truthy and Falsy override the accepted boolean spellings (case-insensitive).
	// Only used for Boolean columns.
	Truthy []string `json:"truthy,omitempty"`
	Falsy  []string `json:"falsy,omitempty"`
}

// Policy enumerates {column: class}. Order is kept for stable iteration.
type Policy struct {
	Columns []Column `json:"columns"`
}

// DefaultTruthy and DefaultFalsy are the boolean spellings used when a column
// does not override them.
var (
	DefaultTruthy = []string{"1", "t", "true", "yes", "y"}
	DefaultFalsy  = []string{"0", "f", "false", "no", "n"}
)

// VehiclePolicy is the policy of the vehicle detection feed.
func VehiclePolicy() Policy {
	return Policy{Columns: []Column{
		{Name: "estimated_speed", Class: Numeric},
		{Name: "vehicle_class", Class: Numeric},
		{Name: "frame_number", Class: Numeric},
		{Name: "last_appearance", Class: Boolean},
		{Name: "class_name", Class: Categorical},
		{Name: "device_name", Class: Categorical},
		{Name: "zone_label", Class: Categorical},
		{Name: "tracked_id", Class: Categorical},
	}}
}

// ClassOf returns the declared class of name, if any.
func (p Policy) ClassOf(name string) (Class, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c.Class, true
		}
	}
	return "", false
}

// Column returns the declaration for name, if any.
func (p Policy) Column(name string) (Column, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the columns of class c in declaration order.
func (p Policy) Names(c Class) []string {
	var out []string
	for _, col := range p.Columns {
		if col.Class == c {
			out = append(out, col.Name)
		}
	}
	return out
}

// Validate rejects empty names, unknown classes and duplicate columns.
func (p Policy) Validate() error {
	seen := make(map[string]struct{}, len(p.Columns))
	for i, c := range p.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("schema: columns[%d]: empty name", i)
		}
		if !c.Class.Valid() {
			return fmt.Errorf("schema: column %q: unknown class %q", c.Name, c.Class)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema: column %q declared twice", c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Class != Boolean && (len(c.Truthy) > 0 || len(c.Falsy) > 0) {
			return fmt.Errorf("schema: column %q: truthy/falsy only apply to boolean columns", c.Name)
		}
	}
	return nil
}

// ParseBool parses s with the column's spellings, falling back to the
// defaults. The second result is false when s is not a recognised boolean.
func (c Column) ParseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false, false
	}
	truthy, falsy := c.Truthy, c.Falsy
	if len(truthy) == 0 {
		truthy = DefaultTruthy
	}
	if len(falsy) == 0 {
		falsy = DefaultFalsy
	}
	for _, t := range truthy {
		if s == strings.ToLower(t) {
			return true, true
		}
	}
	for _, f := range falsy {
		if s == strings.ToLower(f) {
			return false, true
		}
	}
	return false, false
}

// Sorted returns a copy of p with columns sorted by name. Used for reports.
func (p Policy) Sorted() Policy {
	cols := append([]Column(nil), p.Columns...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return Policy{Columns: cols}
}
