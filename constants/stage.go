package constants

// SessionStatus is the canonical status for a pipeline session.
type SessionStatus string

// Stable values (these exact strings are persisted in session metadata).
const (
	StatusCreated     SessionStatus = "created"      // session allocated, nothing running yet
	StatusProcessing  SessionStatus = "processing"   // pipeline running
	StatusReviewReady SessionStatus = "review_ready" // all artifacts produced, awaiting review
	StatusError       SessionStatus = "error"        // terminal failure
)

// Stage is one named step of the pipeline state machine.
type Stage string

const (
	StageUploading      Stage = "uploading"
	StageScanFormatting Stage = "scan_formatting"
	StageClassifyRename Stage = "classify_rename"
	StageTextExtraction Stage = "text_extraction"
	StageGenerateTable  Stage = "generate_table"
	StageDatabaseImport Stage = "database_import"

	// StageAwaitingReview is the terminal marker once every stage has run.
	StageAwaitingReview Stage = "awaiting_review"
)

// StageOrder is the canonical forward-only stage sequence.
var StageOrder = []Stage{
	StageUploading,
	StageScanFormatting,
	StageClassifyRename,
	StageTextExtraction,
	StageGenerateTable,
	StageDatabaseImport,
}
