package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Lllllllleong/companyreportflow/internal/artifacts"
	"github.com/Lllllllleong/companyreportflow/internal/config"
	"github.com/Lllllllleong/companyreportflow/internal/events"
	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/models"
	"github.com/Lllllllleong/companyreportflow/internal/notify"
	"github.com/Lllllllleong/companyreportflow/internal/prompts"
)

type pipelineFixture struct {
	f        *ReportFunction
	model    *scriptedModel
	store    *artifacts.MemoryStore
	tracker  *memTracker
	sink     *events.MemorySink
	notifier *notify.MemoryNotifier
}

// wellBehaved drafts every section and raises no issues in review.
func wellBehaved(req gateway.Request) (gateway.Reply, error) {
	switch {
	case isRevisionPrompt(req.Prompt):
		return gateway.TextReply("<div><p>Revised.</p></div>"), nil
	case isCritiquePrompt(req.Prompt):
		return gateway.TextReply(prompts.NoIssues), nil
	}
	return gateway.TextReply("<div><p>Draft.</p></div>"), nil
}

func newPipeline(t *testing.T, sections int, respond func(gateway.Request) (gateway.Reply, error)) *pipelineFixture {
	t.Helper()
	fx := &pipelineFixture{
		model:    &scriptedModel{respond: respond},
		store:    &artifacts.MemoryStore{},
		tracker:  &memTracker{},
		sink:     &events.MemorySink{},
		notifier: &notify.MemoryNotifier{},
	}
	src := &memSource{files: map[string][]byte{
		"10k.txt":      []byte("Acme annual report. Revenue 10m."),
		"analyst.md":   []byte("# Notes\nMargins are thin."),
		"oversize.txt": []byte(strings.Repeat("x", 4096)),
	}}
	fx.f = NewReportFunctionWith(ReportDeps{
		Config: &config.Config{
			MaxWorkers:        3,
			MaxUploadBytes:    1024,
			AllowedExtensions: []string{"txt", "md"},
		},
		Sections: testSections(sections),
		Gateway:  testGateway(),
		Models: func(credential string) (gateway.Model, error) {
			if credential == "" {
				return nil, ErrMissingCredential
			}
			return fx.model, nil
		},
		Sources:   src,
		Artifacts: fx.store,
		Tracker:   fx.tracker,
		Events:    fx.sink,
		Notifier:  fx.notifier,
	})
	return fx
}

func request() *models.RunRequest {
	return &models.RunRequest{
		RunID:           "run-1",
		UserID:          "user-1",
		Email:           "analyst@example.com",
		CompanyName:     "Acme",
		ModelCredential: "key",
		SourceFiles:     []string{"10k.txt", "analyst.md"},
	}
}

func TestProcess_HappyPath(t *testing.T) {
	fx := newPipeline(t, 5, wellBehaved)

	resp, err := fx.f.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Status != models.RunCompleted {
		t.Errorf("Status = %q, want %q", resp.Status, models.RunCompleted)
	}
	if len(resp.Stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(resp.Stages))
	}
	for _, s := range resp.Stages {
		if s.State != models.StageSucceeded || len(s.FailedSections) != 0 {
			t.Errorf("stage %s = %+v", s.Stage, s)
		}
	}

	report, ok := fx.store.Get("runs/run-1/initial-report/report.html")
	if !ok {
		t.Fatal("initial report not stored")
	}
	if n := strings.Count(report.Content, `class="report-section"`); n != 5 {
		t.Errorf("initial report has %d sections, want 5", n)
	}
	if strings.Contains(report.Content, `class="notice`) {
		t.Error("initial report contains placeholders")
	}
	for n := 1; n <= 5; n++ {
		for _, kind := range []artifacts.Kind{artifacts.InitialSection, artifacts.RefinedSection, artifacts.FactCritique, artifacts.InsightCritique} {
			name := artifacts.Artifact{RunID: "run-1", SectionNumber: n, Kind: kind}.ObjectName()
			if _, ok := fx.store.Get(name); !ok {
				t.Errorf("missing artifact %s", name)
			}
		}
	}
	if got := fx.tracker.field("run-1", "status"); got != models.RunCompleted {
		t.Errorf("tracked status = %v", got)
	}
	if got := fx.tracker.field("run-1", "refinedReportUri"); got != "mem://runs/run-1/refined-report/report.html" {
		t.Errorf("tracked refinedReportUri = %v", got)
	}
	sent := fx.notifier.Sent()
	if len(sent) != 2 || sent[0].Attachment == nil {
		t.Errorf("notifications = %d, want 2 with attachments", len(sent))
	}
	names := fx.sink.Names()
	if names[0] != events.RunStarted || names[len(names)-1] != events.RunFinished {
		t.Errorf("events = %v", names)
	}
}

func TestProcess_PartialFailure(t *testing.T) {
	fx := newPipeline(t, 5, func(req gateway.Request) (gateway.Reply, error) {
		if sectionPrompt(req.Prompt, 3) && !isCritiquePrompt(req.Prompt) && !isRevisionPrompt(req.Prompt) {
			return gateway.BlockedReply("SAFETY"), nil
		}
		return wellBehaved(req)
	})

	resp, err := fx.f.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Status != models.RunCompletedWithErrors {
		t.Errorf("Status = %q", resp.Status)
	}
	for _, s := range resp.Stages {
		if s.State != models.StageSucceededWithError || fmt.Sprint(s.FailedSections) != "[3]" {
			t.Errorf("stage %s = %+v", s.Stage, s)
		}
	}
	if n := fx.model.countPrompts("section 3, "); n != 1 {
		t.Errorf("section 3 prompts = %d, want only the failed initial draft", n)
	}
	refined, _ := fx.store.Get("runs/run-1/refined-report/report.html")
	if !strings.Contains(refined.Content, "3. Title 3") || !strings.Contains(refined.Content, "blocked") {
		t.Error("refined report does not carry the section 3 error placeholder")
	}
	if !strings.Contains(fx.notifier.Sent()[0].Body, "Title 3") {
		t.Error("notification does not list the failed section")
	}
}

func TestProcess_RefinementErrorsWithoutFailedSections(t *testing.T) {
	fx := newPipeline(t, 5, func(req gateway.Request) (gateway.Reply, error) {
		if sectionPrompt(req.Prompt, 2) && isCritiquePrompt(req.Prompt) {
			return gateway.BlockedReply("SAFETY"), nil
		}
		return wellBehaved(req)
	})

	resp, err := fx.f.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Status != models.RunCompletedWithErrors {
		t.Errorf("Status = %q", resp.Status)
	}
	refinement := resp.Stages[1]
	if refinement.State != models.StageSucceededWithError || len(refinement.FailedSections) != 0 {
		t.Errorf("refinement stage = %+v", refinement)
	}
	sent := fx.notifier.Sent()
	if len(sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sent))
	}
	body := sent[1].Body
	if !strings.Contains(body, "<li>Title 2</li>") {
		t.Errorf("notification does not list the section with errors:\n%s", body)
	}
	if strings.Contains(body, "could not be generated") {
		t.Errorf("notification reports failed sections that did not fail:\n%s", body)
	}
}

func TestProcess_OversizedUploadMakesNoModelCalls(t *testing.T) {
	fx := newPipeline(t, 5, wellBehaved)
	req := request()
	req.SourceFiles = []string{"10k.txt", "oversize.txt"}

	resp, err := fx.f.Process(context.Background(), req)

	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("err = %v, want ErrUploadTooLarge", err)
	}
	if fx.model.callCount() != 0 {
		t.Errorf("model calls = %d, want 0", fx.model.callCount())
	}
	if resp.Status != models.RunFailed || len(resp.Stages) != 0 {
		t.Errorf("resp = %+v", resp)
	}
	if len(fx.store.Names()) != 0 {
		t.Errorf("artifacts stored: %v", fx.store.Names())
	}
	if got := fx.tracker.field("run-1", "status"); got != models.RunFailed {
		t.Errorf("tracked status = %v", got)
	}
	if sent := fx.notifier.Sent(); len(sent) != 1 || !strings.Contains(sent[0].Subject, "failed") {
		t.Errorf("notifications = %+v", sent)
	}
}

func TestProcess_MissingCredential(t *testing.T) {
	fx := newPipeline(t, 5, wellBehaved)
	req := request()
	req.ModelCredential = ""

	resp, err := fx.f.Process(context.Background(), req)
	if !errors.Is(err, ErrMissingCredential) || resp.Status != models.RunFailed {
		t.Fatalf("Process = (%+v, %v), want missing credential failure", resp, err)
	}
}

func TestProcess_EverySectionFailing(t *testing.T) {
	fx := newPipeline(t, 3, func(gateway.Request) (gateway.Reply, error) {
		return gateway.Reply{}, &gateway.BlockedError{Reason: "permission denied"}
	})

	resp, err := fx.f.Process(context.Background(), request())
	if err == nil {
		t.Fatal("Process succeeded, want failure")
	}
	if resp.Status != models.RunFailed || len(resp.Stages) != 1 || resp.Stages[0].State != models.StageFailed {
		t.Errorf("resp = %+v", resp)
	}
	if fx.model.callCount() != 3 {
		t.Errorf("model calls = %d, want 3 (no refinement)", fx.model.callCount())
	}
	if n := len(fx.notifier.Sent()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestProcess_SkipRefinement(t *testing.T) {
	fx := newPipeline(t, 2, wellBehaved)
	req := request()
	req.SkipRefinement = true

	resp, err := fx.f.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(resp.Stages) != 1 || fx.model.callCount() != 2 {
		t.Errorf("stages = %d, model calls = %d", len(resp.Stages), fx.model.callCount())
	}
}

func TestStageState(t *testing.T) {
	tests := []struct {
		total, failed, degraded int
		report                  string
		want                    string
	}{
		{5, 0, 0, "<html></html>", models.StageSucceeded},
		{5, 1, 0, "<html></html>", models.StageSucceededWithError},
		{5, 0, 2, "<html></html>", models.StageSucceededWithError},
		{5, 5, 0, "<html></html>", models.StageFailed},
		{5, 0, 0, "  ", models.StageFailed},
		{0, 0, 0, "<html></html>", models.StageFailed},
	}
	for _, tt := range tests {
		if got := stageState(tt.total, tt.failed, tt.degraded, tt.report); got != tt.want {
			t.Errorf("stageState(%d, %d, %d, %q) = %s, want %s", tt.total, tt.failed, tt.degraded, tt.report, got, tt.want)
		}
	}
}
