package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/markup"
	"github.com/Lllllllleong/companyreportflow/internal/models"
	"github.com/Lllllllleong/companyreportflow/internal/prompts"
)

// Invoker sends one request to a model. *gateway.Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, model gateway.Model, req gateway.Request, opts ...gateway.InvokeOption) (string, error)
}

// SectionWriter produces the first draft of each section from the shared
// source documents.
type SectionWriter struct {
	Gateway     Invoker
	Model       gateway.Model
	CompanyName string
	Documents   []models.DocumentPart
}

// GenerateInitial never fails: every error path yields an error placeholder
// for the section.
func (w *SectionWriter) GenerateInitial(ctx context.Context, def models.SectionDefinition) (result models.SectionResult) {
	sec := sectionOf(def)
	logCtx := slog.With("section", def.Number, "stage", models.StageInitial)
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Section generation panicked", "panic", r)
			result = errorResult(def, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	req := gateway.Request{
		System:    prompts.SystemInstruction(),
		Prompt:    prompts.Initial(def, w.CompanyName),
		Documents: w.Documents,
	}
	text, err := w.Gateway.Invoke(ctx, w.Model, req, gateway.WithIdentifier(fmt.Sprintf("section %d initial", def.Number)))
	if err != nil {
		logCtx.Error("Section generation failed", "error", err)
		return errorResult(def, gateway.Describe(err))
	}

	cleaned := markup.Clean(text, sec)
	if strings.TrimSpace(cleaned) == "" {
		logCtx.Error("Model returned no content for section")
		return errorResult(def, "The model returned no content.")
	}
	content := markup.Repair(cleaned, sec)
	if !markup.Validate(content) {
		logCtx.Warn("Section content failed validation after repair")
	}
	logCtx.Info("Section generated", "bytes", len(content))
	return models.SectionResult{SectionNumber: def.Number, Content: content}
}

func sectionOf(def models.SectionDefinition) markup.Section {
	return markup.Section{Number: def.Number, Title: def.Title}
}

func errorResult(def models.SectionDefinition, reason string) models.SectionResult {
	return models.SectionResult{
		SectionNumber: def.Number,
		Content:       markup.ErrorPlaceholder(sectionOf(def), reason),
		IsError:       true,
	}
}
