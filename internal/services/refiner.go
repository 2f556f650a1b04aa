package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/companyreportflow/internal/artifacts"
	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/markup"
	"github.com/Lllllllleong/companyreportflow/internal/models"
	"github.com/Lllllllleong/companyreportflow/internal/prompts"
)

type refineRound struct {
	name     string
	kind     artifacts.Kind
	critique func(def models.SectionDefinition, content string) string
	revise   func(def models.SectionDefinition, content, critique string) string
}

// Facts are settled before insight is deepened.
var refineRounds = []refineRound{
	{name: "fact", kind: artifacts.FactCritique, critique: prompts.FactCritique, revise: prompts.FactRevision},
	{name: "insight", kind: artifacts.InsightCritique, critique: prompts.InsightCritique, revise: prompts.InsightRevision},
}

// Refiner runs the critique and revision rounds over one section.
type Refiner struct {
	Gateway   Invoker
	Model     gateway.Model
	Documents []models.DocumentPart

	// OnCritique, when set, receives each critique as it is produced.
	OnCritique func(ctx context.Context, kind artifacts.Kind, sectionNumber int, critique string)
}

// RefineSection never fails. A failed step leaves the last good content in
// place and sets HadError; a visible notice for every failed step is
// appended to the final content.
func (r *Refiner) RefineSection(ctx context.Context, def models.SectionDefinition, current string) (result models.SectionResult) {
	sec := sectionOf(def)
	logCtx := slog.With("section", def.Number, "stage", models.StageRefinement)
	content := current
	var notices []string

	defer func() {
		if p := recover(); p != nil {
			logCtx.Error("Section refinement panicked", "panic", p)
			notices = append(notices, fmt.Sprintf("Refinement stopped unexpectedly: %v", p))
			result = annotated(def, content, notices)
		}
	}()

	for _, round := range refineRounds {
		critique, err := r.invoke(ctx, def, round.name+" critique", round.critique(def, content))
		if err != nil {
			logCtx.Error("Critique failed", "round", round.name, "error", err)
			notices = append(notices, fmt.Sprintf("The %s review of this section failed. %s", round.name, gateway.Describe(err)))
			continue
		}
		if strings.TrimSpace(critique) == "" {
			critique = prompts.NoIssues
		}
		if r.OnCritique != nil {
			r.OnCritique(ctx, round.kind, def.Number, critique)
		}
		if prompts.IsNoIssues(critique) {
			logCtx.Info("No issues raised, skipping revision", "round", round.name)
			continue
		}

		revised, err := r.invoke(ctx, def, round.name+" revision", round.revise(def, content, critique))
		if err == nil && strings.TrimSpace(markup.Clean(revised, sec)) == "" {
			err = fmt.Errorf("%s revision: empty reply", round.name)
		}
		if err != nil {
			logCtx.Error("Revision failed", "round", round.name, "error", err)
			notices = append(notices, fmt.Sprintf("The %s revision of this section failed. %s", round.name, gateway.Describe(err)))
			continue
		}
		content = markup.Repair(markup.Clean(revised, sec), sec)
		if !markup.Validate(content) {
			logCtx.Warn("Revised content failed validation after repair", "round", round.name)
		}
	}

	return annotated(def, content, notices)
}

func annotated(def models.SectionDefinition, content string, notices []string) models.SectionResult {
	for _, n := range notices {
		content = markup.AppendNotice(content, n)
	}
	return models.SectionResult{SectionNumber: def.Number, Content: content, HadError: len(notices) > 0}
}

func (r *Refiner) invoke(ctx context.Context, def models.SectionDefinition, step, prompt string) (string, error) {
	req := gateway.Request{
		System:    prompts.SystemInstruction(),
		Prompt:    prompt,
		Documents: r.Documents,
	}
	return r.Gateway.Invoke(ctx, r.Model, req, gateway.WithIdentifier(fmt.Sprintf("section %d %s", def.Number, step)))
}
