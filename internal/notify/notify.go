// Package notify delivers run notifications. Bodies are composed as
// markdown and rendered to HTML.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Lllllllleong/companyreportflow/internal/models"
)

type Attachment struct {
	Filename string
	Content  []byte
}

type Message struct {
	To         string
	Subject    string
	Body       string // HTML
	Attachment *Attachment
}

// Notifier delivers a message. Callers log failures and carry on.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// StageSummary is what a stage notification reports.
type StageSummary struct {
	RunID          string
	CompanyName    string
	Stage          string
	State          string
	SectionCount   int
	FailedSections []string
	// DegradedSections were produced but carry an error notice.
	DegradedSections []string
	ReportURI        string
	Elapsed          time.Duration
}

var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ComposeStage builds the notification for a finished stage, choosing the
// template by the stage's terminal state. The report, when present, is
// attached as HTML.
func ComposeStage(to string, s StageSummary, report []byte) (Message, error) {
	subjectName := company(s.CompanyName)
	stage := stageLabel(s.Stage)
	var subject string
	var md strings.Builder

	switch s.State {
	case models.StageSucceeded:
		subject = fmt.Sprintf("Your %s for %s is ready", stage, subjectName)
		fmt.Fprintf(&md, "# %s ready\n\nAll %d sections of the %s for **%s** were generated successfully.\n\n",
			titleCase(stage), s.SectionCount, stage, subjectName)
	case models.StageSucceededWithError:
		subject = fmt.Sprintf("Your %s for %s is ready, with some gaps", stage, subjectName)
		fmt.Fprintf(&md, "# %s ready with errors\n\n", titleCase(stage))
		if n := len(s.FailedSections); n > 0 {
			fmt.Fprintf(&md, "The %s for **%s** was produced, but %d of %d sections could not be generated and contain an error notice instead:\n\n",
				stage, subjectName, n, s.SectionCount)
			writeList(&md, s.FailedSections)
		}
		if n := len(s.DegradedSections); n > 0 {
			fmt.Fprintf(&md, "%d of %d sections of the %s for **%s** were generated, but ran into errors along the way and carry a notice:\n\n",
				n, s.SectionCount, stage, subjectName)
			writeList(&md, s.DegradedSections)
		}
	default:
		subject = fmt.Sprintf("We could not produce the %s for %s", stage, subjectName)
		fmt.Fprintf(&md, "# %s failed\n\nNo usable sections were produced for **%s**. ", titleCase(stage), subjectName)
		md.WriteString("Please check that the uploaded documents are readable and try again.\n\n")
	}
	writeFooter(&md, s.RunID, s.ReportURI, s.Elapsed)

	body, err := render(md.String())
	if err != nil {
		return Message{}, err
	}
	msg := Message{To: to, Subject: subject, Body: body}
	if len(report) > 0 {
		msg.Attachment = &Attachment{Filename: fmt.Sprintf("%s-%s.html", slug(subjectName), s.Stage), Content: report}
	}
	return msg, nil
}

// ComposeRunFailure builds the single notification sent when a run aborts.
func ComposeRunFailure(to, runID, companyName, reason string) (Message, error) {
	subjectName := company(companyName)
	var md strings.Builder
	fmt.Fprintf(&md, "# Report generation failed\n\nThe analysis of **%s** stopped before any report could be produced.\n\n", subjectName)
	fmt.Fprintf(&md, "> %s\n\n", reason)
	writeFooter(&md, runID, "", 0)
	body, err := render(md.String())
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("Report generation for %s failed", subjectName), Body: body}, nil
}

func writeList(md *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(md, "- %s\n", item)
	}
	md.WriteString("\n")
}

func writeFooter(md *strings.Builder, runID, reportURI string, elapsed time.Duration) {
	if reportURI != "" {
		fmt.Fprintf(md, "Report location: `%s`\n\n", reportURI)
	}
	if elapsed > 0 {
		fmt.Fprintf(md, "Elapsed: %s\n\n", elapsed.Round(time.Second))
	}
	fmt.Fprintf(md, "---\n\nRun ID: `%s`\n", runID)
}

func render(md string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render notification: %w", err)
	}
	return buf.String(), nil
}

func stageLabel(stage string) string {
	if stage == models.StageRefinement {
		return "refined report"
	}
	return "initial report"
}

func company(name string) string {
	if strings.TrimSpace(name) == "" {
		return "your company"
	}
	return name
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func slug(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			dash = false
		} else if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
