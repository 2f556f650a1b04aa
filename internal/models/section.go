package models

import "sort"

// SectionDefinition identifies one unit of report work. Definitions are
// static and ordered by Number.
type SectionDefinition struct {
	Number int    `yaml:"number" json:"number"`
	Title  string `yaml:"title" json:"title"`
	Specs  string `yaml:"specs" json:"specs"`
}

// DocumentPart is one source file encoded for inclusion in a model request.
// Data is base64 encoded.
type DocumentPart struct {
	Name     string `json:"-"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// SectionResult is the content produced for one section in one stage.
// IsError marks content that is an error placeholder. HadError marks usable
// content that carries an error annotation from a failed refinement step.
type SectionResult struct {
	SectionNumber int
	Content       string
	IsError       bool
	HadError      bool
}

// SortSections returns a copy of defs ordered by section number.
func SortSections(defs []SectionDefinition) []SectionDefinition {
	sorted := make([]SectionDefinition, len(defs))
	copy(sorted, defs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	return sorted
}
