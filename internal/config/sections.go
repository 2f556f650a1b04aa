package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/companyreportflow/internal/models"
)

//go:embed sections.yaml
var defaultSections []byte

type sectionsFile struct {
	Sections []models.SectionDefinition `yaml:"sections"`
}

// LoadSections reads section definitions from path, or the built-in set when
// path is empty. The result is sorted by section number.
func LoadSections(path string) ([]models.SectionDefinition, error) {
	data := defaultSections
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read sections file: %w", err)
		}
	}
	return ParseSections(data)
}

func ParseSections(data []byte) ([]models.SectionDefinition, error) {
	var file sectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sections: %w", err)
	}
	if len(file.Sections) == 0 {
		return nil, fmt.Errorf("no sections defined")
	}
	seen := make(map[int]bool, len(file.Sections))
	for _, s := range file.Sections {
		if s.Number < 1 {
			return nil, fmt.Errorf("section %q has invalid number %d", s.Title, s.Number)
		}
		if s.Title == "" {
			return nil, fmt.Errorf("section %d has no title", s.Number)
		}
		if seen[s.Number] {
			return nil, fmt.Errorf("duplicate section number %d", s.Number)
		}
		seen[s.Number] = true
	}
	return models.SortSections(file.Sections), nil
}
