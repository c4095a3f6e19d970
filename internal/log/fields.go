// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldPipelineID = "pipeline_id"
	FieldRunID      = "run_id"
	FieldEventID    = "event_id"
	FieldTrackID    = "track_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldDetector  = "detector"
	FieldSource    = "source"

	// Frame / stream fields
	FieldSeq        = "seq"
	FieldFPS        = "fps"
	FieldResolution = "resolution"
	FieldFormat     = "format"
	FieldDevice     = "device"

	// Detection fields
	FieldClass = "class"
	FieldScore = "score"
	FieldCount = "count"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
