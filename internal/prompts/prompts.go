// Package prompts holds the static instruction text sent to the model and
// the builders that combine it with per-section inputs.
package prompts

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/companyreportflow/internal/models"
)

// NoIssues is the critique recorded when the model finds nothing to change.
const NoIssues = "No issues found."

const Persona = "You are a senior equity research analyst writing an institutional-quality company analysis. You base every statement on the source documents provided, you quantify wherever the documents allow, and you write in precise, neutral prose."

const AnalysisSpecs = `General requirements for every section:
- Ground every claim in the provided documents. If the documents do not cover a topic, say so explicitly instead of speculating.
- Prefer concrete figures, dates and named entities over generalities.
- Distinguish clearly between facts reported by the company and your own assessment.
- Do not repeat material that belongs to other sections of the report.`

const FormatSpec = `Output format:
- Return a single HTML fragment and nothing else. Do not wrap it in code fences.
- The fragment must be one <div> element containing the section.
- Do not include the section heading; it is added automatically.
- Use <h3> for subsections, <p> for paragraphs, <ul>/<ol> with <li> for lists and <table> with <thead>/<tbody> for tabular data.
- Close every element you open.`

// SystemInstruction is sent as the system message of every request.
func SystemInstruction() string {
	return Persona
}

// Initial builds the request text for the first draft of a section.
func Initial(def models.SectionDefinition, companyName string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write section %d, %q, of an analysis of %s using the attached documents.\n\n", def.Number, def.Title, subject(companyName))
	fmt.Fprintf(&sb, "Section requirements:\n%s\n\n", strings.TrimSpace(def.Specs))
	sb.WriteString(AnalysisSpecs)
	sb.WriteString("\n\n")
	sb.WriteString(FormatSpec)
	return sb.String()
}

// FactCritique asks for statements the documents do not support.
func FactCritique(def models.SectionDefinition, content string) string {
	return critique(def, content, `Check the draft against the attached documents. List every statement that is unsupported by or contradicts the documents, every figure that is wrong, and every important fact from the documents that the section requirements call for but the draft omits.
Return a concise numbered list of issues. If there are none, reply exactly "`+NoIssues+`".`)
}

// InsightCritique assumes facts are settled and asks about analytical depth.
func InsightCritique(def models.SectionDefinition, content string) string {
	return critique(def, content, `Assume the facts in the draft are correct. Assess the depth of its analysis: where is it merely descriptive, where does it miss non-obvious implications, second-order effects or tensions between data points, and where would an experienced analyst push further?
Return a concise numbered list of improvements. If there are none, reply exactly "`+NoIssues+`".`)
}

// FactRevision asks for a revision addressing only the fact critique.
func FactRevision(def models.SectionDefinition, content, critique string) string {
	return revision(def, content, critique, "Revise the draft to address only the factual issues listed in the critique. Do not introduce claims the documents do not support.")
}

// InsightRevision asks for a revision addressing the insight critique.
func InsightRevision(def models.SectionDefinition, content, critique string) string {
	return revision(def, content, critique, "Revise the draft to deepen the analysis as the critique suggests. Keep every fact intact and grounded in the documents.")
}

// IsNoIssues reports whether a critique asks for no changes.
func IsNoIssues(critique string) bool {
	c := strings.ToLower(strings.TrimSpace(critique))
	return c == "" || strings.HasPrefix(c, "no issues")
}

func critique(def models.SectionDefinition, content, task string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Below is a draft of section %d, %q. It was written to these requirements:\n%s\n\n", def.Number, def.Title, strings.TrimSpace(def.Specs))
	fmt.Fprintf(&sb, "<draft>\n%s\n</draft>\n\n", content)
	sb.WriteString(task)
	return sb.String()
}

func revision(def models.SectionDefinition, content, critique, task string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Below is a draft of section %d, %q, and a critique of it. The section requirements are:\n%s\n\n", def.Number, def.Title, strings.TrimSpace(def.Specs))
	fmt.Fprintf(&sb, "<draft>\n%s\n</draft>\n\n<critique>\n%s\n</critique>\n\n", content, critique)
	sb.WriteString(task)
	sb.WriteString(" Preserve the structure and style of the draft.\n\n")
	sb.WriteString(FormatSpec)
	return sb.String()
}

func subject(companyName string) string {
	if strings.TrimSpace(companyName) == "" {
		return "the company described in the documents"
	}
	return companyName
}
