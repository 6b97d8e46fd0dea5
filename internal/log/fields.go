package log

// Canonical field names for structured logging.
const (
	FieldSessionID = "session_id"
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldPath      = "path"
	FieldCode      = "code"
	FieldPhone     = "phone"
	FieldStep      = "step"
)
