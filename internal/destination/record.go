package destination

// Record is an ordered set of column values. Setting a column twice keeps its
// first position and its last value.
type Record struct {
	cols []string
	vals map[string]any
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{vals: map[string]any{}}
}

// Set assigns v to col.
func (r *Record) Set(col string, v any) {
	if r.vals == nil {
		r.vals = map[string]any{}
	}
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
}

// Get returns the value of col.
func (r Record) Get(col string) (any, bool) {
	v, ok := r.vals[col]
	return v, ok
}

// Has reports whether col is set.
func (r Record) Has(col string) bool {
	_, ok := r.vals[col]
	return ok
}

// Columns returns the column names in insertion order.
func (r Record) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Values returns the values aligned with Columns.
func (r Record) Values() []any {
	out := make([]any, len(r.cols))
	for i, c := range r.cols {
		out[i] = r.vals[c]
	}
	return out
}

// Len returns the number of columns.
func (r Record) Len() int { return len(r.cols) }

// Only returns a copy restricted to cols, in the record's own order.
func (r Record) Only(cols ...string) Record {
	keep := make(map[string]bool, len(cols))
	for _, c := range cols {
		keep[c] = true
	}
	out := NewRecord()
	for _, c := range r.cols {
		if keep[c] {
			out.Set(c, r.vals[c])
		}
	}
	return out
}

// Without returns a copy with cols removed.
func (r Record) Without(cols ...string) Record {
	drop := make(map[string]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	out := NewRecord()
	for _, c := range r.cols {
		if !drop[c] {
			out.Set(c, r.vals[c])
		}
	}
	return out
}

// Map returns the values keyed by column.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.vals))
	for k, v := range r.vals {
		out[k] = v
	}
	return out
}
