package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/companyreportflow/internal/gcp"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

const (
	uploadsPrefix = "uploads/"
	manifestFile  = "manifest.json"
)

type RunTriggerConfig struct {
	ProjectID        string
	RunsCollection   string
	WorkflowID       string
	WorkflowLocation string
	SkipRefinement   bool
}

// RunTriggerFunction starts a report run when an upload manifest lands in
// the upload bucket.
type RunTriggerFunction struct {
	storageClient    *storage.Client
	firestoreClient  *firestore.Client
	executionsClient *executions.Client
	config           RunTriggerConfig
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewRunTrigger(ctx context.Context) (*RunTriggerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	cfg := RunTriggerConfig{
		ProjectID:        projectID,
		RunsCollection:   gcp.GetEnv("RUNS_COLLECTION", "reportRuns"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "company-report-workflow"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		SkipRefinement:   gcp.GetEnv("SKIP_REFINEMENT", "") == "true",
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	f := &RunTriggerFunction{
		firestoreClient:  firestoreClient,
		storageClient:    storageClient,
		executionsClient: executionsClient,
		config:           cfg,
	}
	slog.Info("Run trigger initialized.", "workflowId", cfg.WorkflowID)
	return f, nil
}

func (f *RunTriggerFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	runID, ok := runIDFromManifest(e.Name)
	if !ok {
		logCtx.Info("Not an upload manifest. Skipping.")
		return nil
	}
	logCtx = logCtx.With("runId", runID)
	logCtx.Info("Processing upload manifest.")

	raw, err := f.readObject(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to read manifest", "error", err)
		return err
	}
	manifestHash := hashBytes(raw)
	logCtx = logCtx.With("manifestHash", manifestHash)

	isDuplicate, existingID, err := f.isDuplicate(ctx, manifestHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate manifest detected. Skipping.", "existingRunId", existingID)
		return nil
	}

	manifest, err := parseManifest(raw, runID)
	if err != nil {
		logCtx.Error("Invalid manifest", "error", err)
		return err
	}

	sourceFiles, err := f.listUploads(ctx, e.Bucket, runID)
	if err != nil {
		logCtx.Error("Failed to list uploads", "error", err)
		return err
	}

	docRef := f.firestoreClient.Collection(f.config.RunsCollection).Doc(runID)
	created, err := f.createRun(ctx, docRef, manifest, manifestHash, sourceFiles)
	if err != nil {
		logCtx.Error("Failed to create run record", "error", err)
		return err
	}
	if !created {
		logCtx.Info("Run record already exists. Skipping.")
		return nil
	}
	logCtx.Info("Created run record in Firestore.", "sourceFiles", len(sourceFiles))

	if len(sourceFiles) == 0 {
		return f.handleError(ctx, logCtx, docRef, "no source files uploaded", ErrNoDocuments)
	}

	if err := f.triggerWorkflow(ctx, logCtx, docRef, buildRunRequest(manifest, sourceFiles, f.config.SkipRefinement)); err != nil {
		return err
	}
	logCtx.Info("Hand-off to workflow complete.")
	return nil
}

func (f *RunTriggerFunction) isDuplicate(ctx context.Context, manifestHash string) (bool, string, error) {
	docs, err := f.firestoreClient.Collection(f.config.RunsCollection).Where("manifestHash", "==", manifestHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return true, docs[0].Ref.ID, nil
	}
	return false, "", nil
}

// createRun reports false when a run with the same ID already exists.
func (f *RunTriggerFunction) createRun(ctx context.Context, docRef *firestore.DocumentRef, m models.UploadManifest, manifestHash string, sourceFiles []string) (bool, error) {
	now := time.Now()
	run := models.Run{
		RunID:        m.RunID,
		UserID:       m.UserID,
		Email:        m.Email,
		CompanyName:  m.CompanyName,
		Status:       models.RunQueued,
		SourceFiles:  sourceFiles,
		ManifestHash: manifestHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := docRef.Create(ctx, run); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create run record: %w", err)
	}
	return true, nil
}

func (f *RunTriggerFunction) listUploads(ctx context.Context, bucket, runID string) ([]string, error) {
	it := f.storageClient.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: uploadsPrefix + runID + "/"})
	var uris []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list uploaded files: %w", err)
		}
		if path.Base(attrs.Name) == manifestFile || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		uris = append(uris, gcp.ObjectURI(bucket, attrs.Name))
	}
	sort.Strings(uris)
	return uris, nil
}

func (f *RunTriggerFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, req models.RunRequest) error {
	logCtx.Info("Triggering workflow.")
	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return f.handleError(ctx, logCtx, docRef, "failed to marshal workflow payload", err)
	}
	execReq := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := f.executionsClient.CreateExecution(ctx, execReq)
	if err != nil {
		return f.handleError(ctx, logCtx, docRef, "failed to trigger workflow execution", err)
	}
	if err := gcp.MergeFields(ctx, docRef, map[string]interface{}{"workflowExecutionId": exec.GetName()}); err != nil {
		logCtx.Warn("Failed to record workflow execution ID", "error", err)
	}
	return nil
}

func (f *RunTriggerFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	fields := map[string]interface{}{"status": models.RunFailed, "errorDetails": fullError}
	if err := gcp.MergeFields(ctx, docRef, fields); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func (f *RunTriggerFunction) readObject(ctx context.Context, bucket, object string) ([]byte, error) {
	reader, err := f.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// runIDFromManifest extracts the run ID from uploads/<runId>/manifest.json.
func runIDFromManifest(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, uploadsPrefix)
	if !ok {
		return "", false
	}
	runID, file, ok := strings.Cut(rest, "/")
	if !ok || runID == "" || file != manifestFile {
		return "", false
	}
	return runID, true
}

func parseManifest(raw []byte, runID string) (models.UploadManifest, error) {
	var m models.UploadManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("json.Unmarshal manifest: %w", err)
	}
	if m.RunID == "" {
		m.RunID = runID
	}
	if m.RunID != runID {
		return m, fmt.Errorf("manifest runId %q does not match upload path %q", m.RunID, runID)
	}
	if m.UserID == "" {
		return m, fmt.Errorf("manifest has no userId")
	}
	return m, nil
}

func buildRunRequest(m models.UploadManifest, sourceFiles []string, skipRefinement bool) models.RunRequest {
	return models.RunRequest{
		RunID:          m.RunID,
		UserID:         m.UserID,
		Email:          m.Email,
		CompanyName:    m.CompanyName,
		SourceFiles:    sourceFiles,
		SkipRefinement: skipRefinement,
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
