package models

import "time"

// Run statuses stored on the Firestore run record.
const (
	RunQueued              = "QUEUED"
	RunGenerating          = "GENERATING"
	RunRefining            = "REFINING"
	RunCompleted           = "COMPLETED"
	RunCompletedWithErrors = "COMPLETED_WITH_ERRORS"
	RunFailed              = "FAILED"
)

// Run represents the main record for a report run in Firestore.
// It tracks the overall status and the locations of the produced reports.
type Run struct {
	RunID            string    `firestore:"runId,omitempty"`
	UserID           string    `firestore:"userId,omitempty"`
	Email            string    `firestore:"email,omitempty"`
	CompanyName      string    `firestore:"companyName,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	Stage            string    `firestore:"stage,omitempty"`
	Progress         int       `firestore:"progress"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	SourceFiles      []string  `firestore:"sourceFiles,omitempty"`
	ManifestHash     string    `firestore:"manifestHash,omitempty"`
	InitialReportURI string    `firestore:"initialReportUri,omitempty"`
	RefinedReportURI string    `firestore:"refinedReportUri,omitempty"`
	WorkflowExecID   string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt        time.Time `firestore:"updatedAt,omitempty"`
}

// Stage names and terminal states reported per stage.
const (
	StageInitial    = "initial"
	StageRefinement = "refinement"

	StageSucceeded          = "SUCCEEDED"
	StageSucceededWithError = "SUCCEEDED_WITH_ERRORS"
	StageFailed             = "FAILED"
)
