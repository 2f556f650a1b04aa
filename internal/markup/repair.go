package markup

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// maxRepairPasses bounds the fixed-point loop in Repair.
const maxRepairPasses = 5

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Repair applies the structural repair rules until a pass makes no change.
// Content that does not settle within maxRepairPasses, or that still fails
// Validate, is degraded to its plain text inside a placeholder fragment.
// Blank input yields the "no content" placeholder.
func Repair(text string, sec Section) string {
	current := strings.TrimSpace(text)
	if current == "" {
		return Placeholder(sec, NoContentNotice, "")
	}
	if !hasTags(current) {
		current = promoteMarkdown(current)
	}

	settled := false
	for pass := 0; pass < maxRepairPasses; pass++ {
		next := applyRules(current, sec)
		if next == current {
			settled = true
			break
		}
		current = next
	}
	if settled && Validate(current) {
		return current
	}

	slog.Warn("Section markup could not be repaired; degrading to plain text.", "section", sec.Number, "settled", settled)
	return degrade(current, sec)
}

// degrade keeps only the plain text of broken markup.
func degrade(text string, sec Section) string {
	plain := PlainText(text)
	if plain == "" {
		return Placeholder(sec, NoContentNotice, "")
	}
	return Placeholder(sec, InvalidStructureNotice, plain)
}

func applyRules(text string, sec Section) string {
	for _, r := range repairRules {
		text = r.apply(text, sec)
	}
	return strings.TrimSpace(text)
}

// promoteMarkdown renders a tag-less (markdown or plain text) reply to HTML.
func promoteMarkdown(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		slog.Warn("Failed to render markdown reply; wrapping as paragraph.", "error", err)
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}
