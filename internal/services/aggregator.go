package services

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/Lllllllleong/companyreportflow/internal/markup"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

// ReportMeta fills the header and footer of an assembled report.
type ReportMeta struct {
	CompanyName string
	Title       string
	RunID       string
	GeneratedAt time.Time
}

const reportStyle = `body { font-family: Georgia, serif; max-width: 60em; margin: 2em auto; line-height: 1.5; }
nav.toc ol { padding-left: 1.5em; }
.report-section { margin-top: 2.5em; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #bbb; padding: 0.3em 0.6em; }
.notice { font-style: italic; color: #555; }
.notice.error { color: #a00; }
footer { margin-top: 3em; font-size: 0.85em; color: #666; }`

// Assemble joins section results into one HTML document in ascending section
// order. Sections without a result get the "content missing" placeholder.
func Assemble(defs []models.SectionDefinition, results map[int]models.SectionResult, meta ReportMeta) string {
	sorted := models.SortSections(defs)
	subject := meta.CompanyName
	if strings.TrimSpace(subject) == "" {
		subject = "Company Analysis"
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s: %s</title>\n", html.EscapeString(subject), html.EscapeString(meta.Title))
	fmt.Fprintf(&b, "<style>\n%s\n</style>\n</head>\n<body>\n", reportStyle)

	fmt.Fprintf(&b, "<header>\n<h1>%s</h1>\n<p class=\"subtitle\">%s</p>\n</header>\n", html.EscapeString(subject), html.EscapeString(meta.Title))

	b.WriteString("<nav class=\"toc\">\n<h2>Contents</h2>\n<ol>\n")
	for _, def := range sorted {
		sec := sectionOf(def)
		fmt.Fprintf(&b, "<li><a href=\"#%s\">%s</a></li>\n", sec.ID(), html.EscapeString(sec.Heading()))
	}
	b.WriteString("</ol>\n</nav>\n<main>\n")

	for _, def := range sorted {
		b.WriteString(fragmentFor(def, results))
		b.WriteString("\n\n")
	}

	b.WriteString("</main>\n<footer>\n")
	if !meta.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "<p>Generated %s.</p>\n", meta.GeneratedAt.UTC().Format("2 January 2006 15:04 MST"))
	}
	if meta.RunID != "" {
		fmt.Fprintf(&b, "<p>Run %s</p>\n", html.EscapeString(meta.RunID))
	}
	b.WriteString("</footer>\n</body>\n</html>\n")

	return markup.StripFences(b.String())
}

func fragmentFor(def models.SectionDefinition, results map[int]models.SectionResult) string {
	res, ok := results[def.Number]
	if !ok || strings.TrimSpace(res.Content) == "" {
		return markup.MissingPlaceholder(sectionOf(def))
	}
	return strings.TrimSpace(res.Content)
}
