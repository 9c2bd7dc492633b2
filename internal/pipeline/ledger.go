package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/tablekit/scrub/internal/table"
)

// Ledger is the ordered list of steps recorded for one source. Steps
// are appended, never edited or reordered: correcting a mistake means
// appending a new step or replaying from raw.
type Ledger struct {
	steps []Step
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records a step at the end of the ledger.
func (l *Ledger) Append(step Step) {
	l.steps = append(l.steps, step)
}

// Steps returns a copy of the recorded steps in application order.
func (l *Ledger) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of recorded steps.
func (l *Ledger) Len() int {
	return len(l.steps)
}

// Equal reports whether two ledgers hold the same steps in the same
// order with the same parameters.
func (l *Ledger) Equal(other *Ledger) bool {
	if other == nil || len(l.steps) != len(other.steps) {
		return false
	}
	for i, s := range l.steps {
		o := other.steps[i]
		if s.Kind != o.Kind || len(s.Columns) != len(o.Columns) {
			return false
		}
		for j, c := range s.Columns {
			if o.Columns[j] != c {
				return false
			}
		}
	}
	return true
}

// stepConfig is the declarative wire form of a single step.
type stepConfig struct {
	Kind   Kind       `json:"kind"`
	Params stepParams `json:"params"`
}

type stepParams struct {
	// Subset is the optional column subset for drop_null_rows.
	Subset []string `json:"subset,omitempty"`
	// Columns is the ordered column list for drop_columns.
	Columns []string `json:"columns,omitempty"`
}

// Export serializes the ledger as an ordered JSON array of
// {kind, params} objects in application order.
func (l *Ledger) Export() ([]byte, error) {
	configs := make([]stepConfig, 0, len(l.steps))
	for _, s := range l.steps {
		c := stepConfig{Kind: s.Kind}
		switch s.Kind {
		case KindDropNullRows:
			c.Params.Subset = s.Columns
		case KindDropColumns:
			c.Params.Columns = s.Columns
		default:
			return nil, fmt.Errorf("unknown step kind %q", s.Kind)
		}
		configs = append(configs, c)
	}
	return json.MarshalIndent(configs, "", "  ")
}

// Import reconstructs a ledger from its exported JSON form. The result
// is equal to the ledger that produced the export.
func Import(data []byte) (*Ledger, error) {
	var configs []stepConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("decode pipeline config: %w", err)
	}

	l := NewLedger()
	for i, c := range configs {
		switch c.Kind {
		case KindDropNullRows:
			l.Append(Step{Kind: KindDropNullRows, Columns: c.Params.Subset})
		case KindDropColumns:
			if len(c.Params.Columns) == 0 {
				return nil, fmt.Errorf("step %d: drop_columns requires columns", i)
			}
			l.Append(Step{Kind: KindDropColumns, Columns: c.Params.Columns})
		default:
			return nil, fmt.Errorf("step %d: unknown step kind %q", i, c.Kind)
		}
	}
	return l, nil
}

// Replay re-applies steps, in order, to a fresh parse of the raw source
// file using the same skipRows the source was originally parsed with.
// It never reads the live in-memory table: the result is defined purely
// by (raw bytes, skipRows, step list). Errors carry the same kinds as
// live step execution.
func Replay(rawPath string, skipRows int, steps []Step) (*table.Table, error) {
	t, err := table.Load(rawPath, skipRows)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		t, err = Apply(t, step)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}
