package logger

// Standard field names for structured logging across pgroute.
const (
	// Identity
	FieldRunID = "run_id"

	// Routing
	FieldDatabase = "database"
	FieldTarget   = "target"
	FieldTable    = "table"
	FieldColumns  = "columns"
	FieldLinkMode = "link_mode"
	FieldState    = "state"

	// Outcome
	FieldStatus     = "status"
	FieldKind       = "kind"
	FieldRows       = "rows"
	FieldDetail     = "detail"
	FieldSQLState   = "sqlstate"
	FieldDurationMS = "duration_ms"
	FieldError      = "error"

	// Counts
	FieldTotal   = "total"
	FieldSuccess = "success"
	FieldWarning = "warning"
	FieldFailed  = "failed"

	// Network
	FieldAddress = "address"
	FieldTunnel  = "tunnel"
)
