package stage

// TableSpec describes one staging table. The shape is JSON-tagged so load
// definitions can live in config files.
type TableSpec struct {
	// Name in any form dialect.ParseTableName accepts.
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

// ColumnSpec describes one staging column. Type is emitted verbatim into the
// CREATE TABLE statement, so it must be valid for the chosen backend.
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// Nullable defaults to true when nil; staging tables routinely hold
	// half-clean extracts.
	Nullable *bool `json:"nullable,omitempty"`
}
