package progress

// =============================================================================
// PROGRESS EVENTS
// =============================================================================
// Every stage of an extraction task emits events on the task's channel. The
// payload is flat JSON; optional fields are omitted when they carry nothing,
// except counters on row_processed which are always present.

// Event names, in rough lifecycle order.
const (
	EventFileStart     = "file_start"
	EventFileComplete  = "file_complete"
	EventSheetStart    = "sheet_start"
	EventColumnMapping = "column_mapping"
	EventWarning       = "warning"
	EventRowProcessed  = "row_processed"
	EventSheetComplete = "sheet_complete"
	EventError         = "error"
	EventCompleted     = "completed"
)

// Event is one progress update for a task.
type Event struct {
	TaskID string `json:"task_id"`
	Event  string `json:"event"`

	CurrentFile  string `json:"current_file,omitempty"`
	CurrentSheet string `json:"current_sheet,omitempty"`

	CurrentRow    int     `json:"current_row,omitempty"`
	TotalRows     int     `json:"total_rows,omitempty"`
	ProcessedRows int     `json:"processed_rows,omitempty"`
	SuccessCount  int     `json:"success_count,omitempty"`
	ErrorCount    int     `json:"error_count,omitempty"`
	Speed         float64 `json:"speed,omitempty"`

	Message string `json:"message,omitempty"`

	// column_mapping payload. HeaderRow is a pointer because row 0 means
	// "no header row" and must still serialize.
	HeaderRow        *int              `json:"header_row,omitempty"`
	Mappings         map[string]string `json:"mappings,omitempty"`
	Confidence       float64           `json:"confidence,omitempty"`
	UnmatchedColumns []int             `json:"unmatched_columns,omitempty"`

	// completed payload.
	Success *bool `json:"success,omitempty"`
}
