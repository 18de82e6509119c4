// Package mapper canonicalizes raw provider records into the canonical
// metric vocabulary.
package mapper

// Option applies a configuration option to the Mapper.
type Option func(*Mapper)

// WithTable sets the mapping table.
func WithTable(t *Table) Option {
	return func(m *Mapper) {
		if t != nil {
			m.table = t
		}
	}
}
