package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/companyreportflow/internal/artifacts"
	"github.com/Lllllllleong/companyreportflow/internal/cache"
	"github.com/Lllllllleong/companyreportflow/internal/config"
	"github.com/Lllllllleong/companyreportflow/internal/events"
	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/gcp"
	"github.com/Lllllllleong/companyreportflow/internal/models"
	"github.com/Lllllllleong/companyreportflow/internal/notify"
)

var ErrEmptyReport = errors.New("report assembly produced no content")

const closeTimeout = 30 * time.Second

// ReportDeps are the collaborators of a ReportFunction.
type ReportDeps struct {
	Config    *config.Config
	Sections  []models.SectionDefinition
	Cache     *cache.Cache
	Gateway   Invoker
	Models    ModelResolver
	Sources   SourceReader
	Artifacts artifacts.Store
	Tracker   RunTracker
	Events    events.Sink
	Notifier  notify.Notifier
	Closers   []func() error
}

// ReportFunction runs the two-stage report pipeline for one request.
type ReportFunction struct {
	ReportDeps
	now func() time.Time
}

// NewReportFunctionWith wires a ReportFunction from explicit collaborators.
func NewReportFunctionWith(deps ReportDeps) *ReportFunction {
	if deps.Tracker == nil {
		deps.Tracker = NoopRunTracker{}
	}
	if deps.Events == nil {
		deps.Events = events.LogSink{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	return &ReportFunction{ReportDeps: deps, now: time.Now}
}

// NewReportFunction wires a ReportFunction against Google Cloud services
// using the environment configuration.
func NewReportFunction(ctx context.Context) (*ReportFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ArtifactBucket == "" {
		return nil, fmt.Errorf("ARTIFACT_BUCKET environment variable must be set")
	}
	sections, err := config.LoadSections(cfg.SectionsFile)
	if err != nil {
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	resolver, closeModels, err := NewModelResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bucket := storageClient.Bucket(cfg.ArtifactBucket)
	var sidecar cache.Sidecar = &cache.GCSSidecar{Bucket: bucket, Object: cfg.CacheObject}
	if cfg.CachePath != "" {
		sidecar = &cache.FileSidecar{Path: cfg.CachePath}
	}
	responseCache := cache.New(sidecar, cfg.CacheFlushEvery)
	if err := responseCache.Load(ctx); err != nil {
		slog.Warn("Failed to load response cache, starting empty", "error", err)
	}

	f := NewReportFunctionWith(ReportDeps{
		Config:    cfg,
		Sections:  sections,
		Cache:     responseCache,
		Gateway:   gateway.New(responseCache, cfg.Gateway),
		Models:    resolver,
		Sources:   &GCSSourceReader{Client: storageClient},
		Artifacts: &artifacts.GCSStore{Bucket: bucket, BucketName: cfg.ArtifactBucket},
		Tracker:   &FirestoreRunTracker{Client: firestoreClient, Collection: cfg.RunsCollection},
		Events:    &events.FirestoreSink{Client: firestoreClient, Collection: cfg.EventsCollection},
		Notifier:  &notify.FirestoreMailer{Client: firestoreClient, Collection: cfg.MailCollection},
		Closers:   []func() error{closeModels, firestoreClient.Close, storageClient.Close},
	})
	slog.Info("Report generator initialized.", "provider", cfg.ModelProvider, "model", cfg.ModelName, "sections", len(sections))
	return f, nil
}

// Close flushes the response cache and releases clients.
func (f *ReportFunction) Close() error {
	var errs []error
	if f.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		errs = append(errs, f.Cache.Flush(ctx))
		cancel()
	}
	for _, c := range f.Closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// run carries the per-request state through the pipeline.
type run struct {
	req    *models.RunRequest
	logCtx *slog.Logger
	rec    *events.Recorder
	resp   *models.RunResponse
	start  time.Time
}

// Process runs both stages for req. Critical failures and panics end the
// run as FAILED with a single failure notification; the returned error is
// the critical failure, if any.
func (f *ReportFunction) Process(ctx context.Context, req *models.RunRequest) (resp *models.RunResponse, err error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r := &run{
		req:    req,
		logCtx: slog.With("runId", req.RunID, "userId", req.UserID),
		rec:    events.NewRecorder(f.Events, req.RunID, req.UserID),
		resp:   &models.RunResponse{RunID: req.RunID},
		start:  f.now(),
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if f.Cache != nil {
			if ferr := f.Cache.Flush(closeCtx); ferr != nil {
				r.logCtx.Warn("Failed to flush response cache", "error", ferr)
			}
		}
		if cerr := r.rec.Close(closeCtx); cerr != nil {
			r.logCtx.Warn("Event log did not drain", "error", cerr)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			resp, err = f.failRun(ctx, r, fmt.Errorf("unexpected panic: %v", p))
		}
	}()

	r.logCtx.Info("Starting report run.", "company", req.CompanyName, "sourceFiles", len(req.SourceFiles))
	r.rec.Record(events.RunStarted, map[string]interface{}{"company": req.CompanyName, "sourceFiles": len(req.SourceFiles)})

	model, err := f.Models(req.ModelCredential)
	if err != nil {
		return f.failRun(ctx, r, err)
	}
	if len(f.Sections) == 0 {
		return f.failRun(ctx, r, ErrEmptyReport)
	}
	f.track(ctx, r, map[string]interface{}{"status": models.RunGenerating, "stage": models.StageInitial, "progress": 0})

	docs, err := Ingest(ctx, f.Sources, req.SourceFiles, IngestOptions{
		AllowedExtensions: f.Config.AllowedExtensions,
		MaxTotalBytes:     f.Config.MaxUploadBytes,
	})
	if err != nil {
		return f.failRun(ctx, r, err)
	}
	r.rec.Record(events.DocumentsIngested, map[string]interface{}{"documents": len(docs)})
	r.logCtx.Info("Documents ingested.", "documents", len(docs), "elapsed", r.rec.Mark("ingest"))

	writer := &SectionWriter{Gateway: f.Gateway, Model: model, CompanyName: req.CompanyName, Documents: docs}
	initial := f.runStage(ctx, r, models.StageInitial, writer.GenerateInitial, StageOptions{})
	outcome, report := f.finishStage(ctx, r, models.StageInitial, initial)
	r.resp.Stages = append(r.resp.Stages, outcome)
	if outcome.State == models.StageFailed {
		return f.failStage(ctx, r, report)
	}

	if !req.SkipRefinement {
		f.track(ctx, r, map[string]interface{}{"status": models.RunRefining, "stage": models.StageRefinement, "progress": 0})
		refiner := &Refiner{
			Gateway:   f.Gateway,
			Model:     model,
			Documents: docs,
			OnCritique: func(ctx context.Context, kind artifacts.Kind, section int, critique string) {
				f.saveArtifact(ctx, r, kind, section, critique)
			},
		}
		refine := func(ctx context.Context, def models.SectionDefinition) models.SectionResult {
			return refiner.RefineSection(ctx, def, initial[def.Number].Content)
		}
		refined := f.runStage(ctx, r, models.StageRefinement, refine, StageOptions{
			PassThrough: func(def models.SectionDefinition) (models.SectionResult, bool) {
				res, ok := initial[def.Number]
				if !ok {
					return errorResult(def, "No initial content was produced."), true
				}
				return res, res.IsError
			},
		})
		outcome, _ = f.finishStage(ctx, r, models.StageRefinement, refined)
		r.resp.Stages = append(r.resp.Stages, outcome)
	}

	r.resp.Status = models.RunCompleted
	for _, s := range r.resp.Stages {
		if s.State != models.StageSucceeded {
			r.resp.Status = models.RunCompletedWithErrors
		}
	}
	f.track(ctx, r, map[string]interface{}{"status": r.resp.Status, "progress": 100})
	r.rec.Record(events.RunFinished, map[string]interface{}{"status": r.resp.Status, "elapsedSeconds": f.now().Sub(r.start).Seconds()})
	r.logCtx.Info("Report run finished.", "status", r.resp.Status, "elapsed", r.rec.Mark("finished"))
	return r.resp, nil
}

func (f *ReportFunction) runStage(ctx context.Context, r *run, stage string, task SectionTask, opts StageOptions) map[int]models.SectionResult {
	logCtx := r.logCtx.With("stage", stage)
	logCtx.Info("Starting stage.", "sections", len(f.Sections), "maxWorkers", f.Config.MaxWorkers)
	r.rec.Record(events.StageStarted, map[string]interface{}{"stage": stage, "sections": len(f.Sections)})

	kind := artifacts.InitialSection
	if stage == models.StageRefinement {
		kind = artifacts.RefinedSection
	}
	opts.OnResult = func(res models.SectionResult) {
		fields := map[string]interface{}{"stage": stage, "section": res.SectionNumber}
		switch {
		case res.IsError:
			logCtx.Error("Section failed.", "section", res.SectionNumber)
			r.rec.Record(events.SectionFailed, fields)
		case res.HadError:
			fields["hadError"] = true
			r.rec.Record(events.SectionSucceeded, fields)
		default:
			r.rec.Record(events.SectionSucceeded, fields)
		}
		f.saveArtifact(ctx, r, kind, res.SectionNumber, res.Content)
	}
	opts.OnProgress = func(completed, total, percent int) {
		r.rec.Record(events.StageProgress, map[string]interface{}{"stage": stage, "completed": completed, "total": total, "percent": percent})
		f.track(ctx, r, map[string]interface{}{"progress": percent})
	}
	return RunStage(ctx, f.Sections, task, f.Config.MaxWorkers, opts)
}

// finishStage assembles and stores the stage report, sends the stage
// notification and returns the stage outcome with the assembled report.
func (f *ReportFunction) finishStage(ctx context.Context, r *run, stage string, results map[int]models.SectionResult) (models.StageOutcome, string) {
	outcome := models.StageOutcome{Stage: stage, SectionCount: len(f.Sections)}
	var failedTitles, degradedTitles []string
	for _, def := range models.SortSections(f.Sections) {
		res, ok := results[def.Number]
		if !ok || res.IsError {
			outcome.FailedSections = append(outcome.FailedSections, def.Number)
			failedTitles = append(failedTitles, def.Title)
		} else if res.HadError {
			degradedTitles = append(degradedTitles, def.Title)
		}
	}

	title, reportKind, uriField := "Initial Report", artifacts.InitialReport, "initialReportUri"
	if stage == models.StageRefinement {
		title, reportKind, uriField = "Refined Report", artifacts.RefinedReport, "refinedReportUri"
	}
	report := Assemble(f.Sections, results, ReportMeta{
		CompanyName: r.req.CompanyName,
		Title:       title,
		RunID:       r.req.RunID,
		GeneratedAt: f.now(),
	})
	outcome.State = stageState(len(f.Sections), len(outcome.FailedSections), len(degradedTitles), report)

	if outcome.State != models.StageFailed {
		outcome.ReportURI = f.saveArtifact(ctx, r, reportKind, 0, report)
		if outcome.ReportURI != "" {
			f.track(ctx, r, map[string]interface{}{uriField: outcome.ReportURI})
		}
	}

	var attachment []byte
	if outcome.State != models.StageFailed {
		attachment = []byte(report)
	}
	f.sendNotification(ctx, r, func() (notify.Message, error) {
		return notify.ComposeStage(r.req.Email, notify.StageSummary{
			RunID:            r.req.RunID,
			CompanyName:      r.req.CompanyName,
			Stage:            stage,
			State:            outcome.State,
			SectionCount:     outcome.SectionCount,
			FailedSections:   failedTitles,
			DegradedSections: degradedTitles,
			ReportURI:        outcome.ReportURI,
			Elapsed:          f.now().Sub(r.start),
		}, attachment)
	})

	r.rec.Record(events.StageFinished, map[string]interface{}{
		"stage":          stage,
		"state":          outcome.State,
		"failedSections": len(outcome.FailedSections),
		"reportUri":      outcome.ReportURI,
	})
	r.logCtx.Info("Stage finished.", "stage", stage, "state", outcome.State, "failedSections", outcome.FailedSections, "elapsed", r.rec.Mark(stage))
	return outcome, report
}

func stageState(total, failed, degraded int, report string) string {
	switch {
	case total == 0 || failed >= total || strings.TrimSpace(report) == "":
		return models.StageFailed
	case failed > 0 || degraded > 0:
		return models.StageSucceededWithError
	}
	return models.StageSucceeded
}

// failStage ends a run whose stage produced no usable section. The stage
// notification has already been sent.
func (f *ReportFunction) failStage(ctx context.Context, r *run, report string) (*models.RunResponse, error) {
	err := ErrEmptyReport
	if strings.TrimSpace(report) != "" {
		err = fmt.Errorf("every section failed during the %s stage", models.StageInitial)
	}
	r.logCtx.Error("Run failed.", "error", err)
	r.rec.Record(events.RunFailed, map[string]interface{}{"error": err.Error()})
	f.track(ctx, r, map[string]interface{}{"status": models.RunFailed, "errorDetails": err.Error()})
	r.resp.Status = models.RunFailed
	r.resp.Error = err.Error()
	return r.resp, err
}

// failRun records a critical failure and sends the run failure notification.
func (f *ReportFunction) failRun(ctx context.Context, r *run, cause error) (*models.RunResponse, error) {
	ctx = context.WithoutCancel(ctx)
	r.logCtx.Error("Critical run failure.", "error", cause)
	r.rec.Record(events.RunFailed, map[string]interface{}{"error": cause.Error()})
	if err := f.Tracker.Update(ctx, r.req.RunID, map[string]interface{}{"status": models.RunFailed, "errorDetails": cause.Error()}); err != nil {
		r.logCtx.Error("CRITICAL: Failed to update run status to FAILED after a processing error.", "updateError", err)
	}
	f.sendNotification(ctx, r, func() (notify.Message, error) {
		return notify.ComposeRunFailure(r.req.Email, r.req.RunID, r.req.CompanyName, cause.Error())
	})
	r.resp.Status = models.RunFailed
	r.resp.Error = cause.Error()
	return r.resp, cause
}

// saveArtifact stores content and returns its location, or "" when the save
// failed. Failures never abort the run.
func (f *ReportFunction) saveArtifact(ctx context.Context, r *run, kind artifacts.Kind, section int, content string) string {
	if f.Artifacts == nil {
		return ""
	}
	loc, err := f.Artifacts.Save(ctx, artifacts.Artifact{
		RunID:         r.req.RunID,
		SectionNumber: section,
		Kind:          kind,
		Content:       content,
		SubjectName:   r.req.CompanyName,
		UserID:        r.req.UserID,
	})
	fields := map[string]interface{}{"kind": string(kind), "section": section}
	if err != nil {
		r.logCtx.Warn("Failed to save artifact.", "kind", kind, "section", section, "error", err)
		fields["error"] = err.Error()
		r.rec.Record(events.ArtifactFailed, fields)
		return ""
	}
	fields["location"] = loc
	r.rec.Record(events.ArtifactSaved, fields)
	return loc
}

func (f *ReportFunction) sendNotification(ctx context.Context, r *run, compose func() (notify.Message, error)) {
	if r.req.Email == "" {
		r.logCtx.Info("No recipient on request, skipping notification.")
		return
	}
	msg, err := compose()
	if err == nil {
		err = f.Notifier.Send(ctx, msg)
	}
	if err != nil {
		r.logCtx.Warn("Failed to send notification.", "error", err)
		r.rec.Record(events.NotificationFailed, map[string]interface{}{"error": err.Error()})
		return
	}
	r.rec.Record(events.NotificationSent, map[string]interface{}{"subject": msg.Subject})
}

func (f *ReportFunction) track(ctx context.Context, r *run, fields map[string]interface{}) {
	if err := f.Tracker.Update(ctx, r.req.RunID, fields); err != nil {
		r.logCtx.Warn("Failed to update run record.", "error", err)
	}
}
