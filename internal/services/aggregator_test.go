package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/companyreportflow/internal/markup"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

func fragment(n int) string {
	return fmt.Sprintf("<div id=\"section-%d\" class=\"report-section\">\n<h2>%d. Title %d</h2>\n<p>Body %d.</p>\n</div>", n, n, n, n)
}

func TestAssemble_FillsMissingSectionsInOrder(t *testing.T) {
	defs := testSections(5)
	results := map[int]models.SectionResult{
		4: {SectionNumber: 4, Content: fragment(4)},
		1: {SectionNumber: 1, Content: fragment(1)},
	}

	doc := Assemble(defs, results, ReportMeta{CompanyName: "Acme", Title: "Initial Report"})

	if n := strings.Count(doc, `class="report-section"`); n != 5 {
		t.Errorf("document has %d section fragments, want 5", n)
	}
	if n := strings.Count(doc, markup.MissingContentNotice); n != 3 {
		t.Errorf("document has %d missing placeholders, want 3", n)
	}
	last := -1
	for n := 1; n <= 5; n++ {
		idx := strings.Index(doc, fmt.Sprintf(`<div id="section-%d"`, n))
		if idx < 0 || idx < last {
			t.Fatalf("section %d out of order (index %d after %d)", n, idx, last)
		}
		last = idx
	}
}

func TestAssemble_HappyPath(t *testing.T) {
	defs := testSections(5)
	results := make(map[int]models.SectionResult)
	for n := 5; n >= 1; n-- {
		results[n] = models.SectionResult{SectionNumber: n, Content: fragment(n)}
	}
	doc := Assemble(defs, results, ReportMeta{
		CompanyName: "Acme & Sons",
		Title:       "Refined Report",
		RunID:       "run-42",
		GeneratedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	})

	if strings.Contains(doc, `class="notice`) {
		t.Error("happy path document contains a placeholder notice")
	}
	for _, want := range []string{
		"<h1>Acme &amp; Sons</h1>",
		`<li><a href="#section-3">3. Title 3</a></li>`,
		"Generated 1 March 2024 09:30 UTC.",
		"<p>Run run-42</p>",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
	if !markup.Validate(doc) {
		t.Error("assembled document fails validation")
	}
}

func TestAssemble_RemovesStrayFences(t *testing.T) {
	defs := testSections(1)
	results := map[int]models.SectionResult{1: {SectionNumber: 1, Content: "```html\n" + fragment(1) + "\n```"}}

	doc := Assemble(defs, results, ReportMeta{Title: "Initial Report"})
	if strings.Contains(doc, "```") {
		t.Errorf("fence markers survived assembly:\n%s", doc)
	}
	if again := markup.StripFences(doc); again != doc {
		t.Error("cleanup pass is not idempotent")
	}
}
