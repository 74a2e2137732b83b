package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/pathexpr"
)

// Column maps a path expression to a named output column.
type Column struct {
	Name string
	Expr *pathexpr.Expr
}

// Mapping is an ordered list of columns.
type Mapping struct {
	Columns []Column
}

var columnName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseMapping parses column specs of the form "name=PID-5.1". A spec without a name is
// named after its expression, so "PID-5.1" becomes pid_5_1.
func ParseMapping(specs []string) (*Mapping, error) {
	m := &Mapping{}
	// message_id is the key column of mapped tables.
	seen := map[string]bool{"message_id": true}
	for _, spec := range specs {
		name, src, ok := strings.Cut(spec, "=")
		if !ok {
			src, name = name, ""
		}
		name, src = strings.TrimSpace(name), strings.TrimSpace(src)
		e, err := pathexpr.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", spec, err)
		}
		if name == "" {
			name = defaultName(e)
		}
		if !columnName.MatchString(name) {
			return nil, fmt.Errorf("column %q: invalid name %q", spec, name)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("column %q: duplicate name %q", spec, name)
		}
		seen[key] = true
		m.Columns = append(m.Columns, Column{Name: name, Expr: e})
	}
	if len(m.Columns) == 0 {
		return nil, fmt.Errorf("mapping has no columns")
	}
	return m, nil
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func defaultName(e *pathexpr.Expr) string {
	return strings.Trim(nonWord.ReplaceAllString(strings.ToLower(e.String()), "_"), "_")
}

// Header returns the column names.
func (m *Mapping) Header() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Name
	}
	return out
}

// Row resolves every column against msg. Columns selecting several nodes join their
// values with "~"; absent nodes give "".
func (m *Mapping) Row(msg *model.Message) []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = strings.Join(c.Expr.Values(msg), "~")
	}
	return out
}
