package models

// These structs define the JSON payloads exchanged between the report
// workflow, the run trigger and the report generator function.

// RunRequest is the input for the report-generator function.
type RunRequest struct {
	RunID           string   `json:"runId"`
	UserID          string   `json:"userId"`
	Email           string   `json:"email"`
	CompanyName     string   `json:"companyName"`
	ModelCredential string   `json:"modelCredential,omitempty"`
	SourceFiles     []string `json:"sourceFiles"`
	SkipRefinement  bool     `json:"skipRefinement,omitempty"`
}

// StageOutcome summarises one stage of a run.
type StageOutcome struct {
	Stage          string `json:"stage"`
	State          string `json:"state"`
	ReportURI      string `json:"reportUri,omitempty"`
	SectionCount   int    `json:"sectionCount"`
	FailedSections []int  `json:"failedSections,omitempty"`
}

// RunResponse is the output of the report-generator function.
type RunResponse struct {
	Status string         `json:"status"`
	RunID  string         `json:"runId"`
	Stages []StageOutcome `json:"stages"`
	Error  string         `json:"error,omitempty"`
}

// UploadManifest is written by the front end next to the uploaded files and
// triggers a run when it lands in the upload bucket.
type UploadManifest struct {
	RunID       string `json:"runId"`
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	CompanyName string `json:"companyName"`
}
