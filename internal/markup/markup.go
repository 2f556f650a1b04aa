// Package markup cleans, repairs and validates the HTML fragments the model
// returns for a single report section.
//
// Every function here is pure: the same input always yields the same output,
// and Repair is idempotent (Repair(Repair(x)) == Repair(x)).
package markup

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Notices rendered inside placeholder fragments.
const (
	NoContentNotice        = "No content was produced for this section."
	InvalidStructureNotice = "The original structure of this section was invalid; its plain text is shown instead."
	MissingContentNotice   = "Content missing during aggregation."
)

// Section is the optional context the normalizer uses to anchor a fragment.
// The zero value means "no section context".
type Section struct {
	Number int
	Title  string
}

// NoSection is used when a fragment has no section context.
var NoSection = Section{}

func (s Section) known() bool { return s.Number > 0 }

// ID is the element id of the section wrapper.
func (s Section) ID() string { return fmt.Sprintf("section-%d", s.Number) }

// Heading is the canonical heading text, "{number}. {title}".
func (s Section) Heading() string { return fmt.Sprintf("%d. %s", s.Number, s.Title) }

func (s Section) openTag() string {
	if !s.known() {
		return `<div class="report-section">`
	}
	return fmt.Sprintf(`<div id="%s" class="report-section">`, s.ID())
}

func (s Section) headingTag() string {
	return "<h2>" + html.EscapeString(s.Heading()) + "</h2>"
}

// Placeholder renders a minimal valid fragment for sec carrying notice and,
// when body is non-empty, one paragraph of escaped plain text.
func Placeholder(sec Section, notice, body string) string {
	return placeholder(sec, "notice", notice, body)
}

// ErrorPlaceholder renders the standard fragment for a section whose content
// could not be produced.
func ErrorPlaceholder(sec Section, reason string) string {
	notice := "Error generating content for this section."
	if reason = strings.TrimSpace(reason); reason != "" {
		notice = notice + " " + reason
	}
	return placeholder(sec, "notice error", notice, "")
}

// MissingPlaceholder renders the fragment used when a section has no result
// at assembly time.
func MissingPlaceholder(sec Section) string {
	return placeholder(sec, "notice error", MissingContentNotice, "")
}

func placeholder(sec Section, class, notice, body string) string {
	var b strings.Builder
	b.WriteString(sec.openTag())
	if sec.known() {
		b.WriteString("\n")
		b.WriteString(sec.headingTag())
	}
	fmt.Fprintf(&b, "\n<p class=\"%s\">%s</p>", class, html.EscapeString(notice))
	if body = strings.TrimSpace(body); body != "" {
		fmt.Fprintf(&b, "\n<p>%s</p>", html.EscapeString(body))
	}
	b.WriteString("\n</div>")
	return b.String()
}

// AppendNotice adds a visible error notice to content, inside its outermost
// wrapper when there is one.
func AppendNotice(content, message string) string {
	note := fmt.Sprintf(`<p class="notice error">%s</p>`, html.EscapeString(strings.TrimSpace(message)))
	idx := strings.LastIndex(content, "</div>")
	if idx < 0 {
		if content == "" {
			return note
		}
		return content + "\n" + note
	}
	return content[:idx] + note + "\n" + content[idx:]
}
