package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

// scriptedModel answers each request with respond and counts calls.
type scriptedModel struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(req gateway.Request) (gateway.Reply, error)
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Generate(_ context.Context, req gateway.Request) (gateway.Reply, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	return m.respond(req)
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedModel) countPrompts(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// testGateway makes single attempts without pacing or caching.
func testGateway() *gateway.Gateway {
	return gateway.New(nil, gateway.Config{MaxRetries: 1, Timeout: time.Minute})
}

func isRevisionPrompt(p string) bool { return strings.Contains(p, "<critique>") }
func isCritiquePrompt(p string) bool {
	return !isRevisionPrompt(p) && strings.Contains(p, "<draft>")
}

func sectionPrompt(p string, n int) bool {
	return strings.Contains(p, fmt.Sprintf("section %d, ", n))
}

func testSections(n int) []models.SectionDefinition {
	defs := make([]models.SectionDefinition, n)
	for i := range defs {
		defs[i] = models.SectionDefinition{Number: i + 1, Title: fmt.Sprintf("Title %d", i+1), Specs: "Cover the basics."}
	}
	return defs
}

// memSource serves files from a map.
type memSource struct {
	mu    sync.Mutex
	files map[string][]byte
	reads int
}

func (s *memSource) Size(_ context.Context, name string) (int64, error) {
	data, ok := s.files[name]
	if !ok {
		return 0, os.ErrNotExist
	}
	return int64(len(data)), nil
}

func (s *memSource) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

// memTracker merges updates per run.
type memTracker struct {
	mu   sync.Mutex
	runs map[string]map[string]interface{}
}

func (t *memTracker) Update(_ context.Context, runID string, fields map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runs == nil {
		t.runs = make(map[string]map[string]interface{})
	}
	if t.runs[runID] == nil {
		t.runs[runID] = make(map[string]interface{})
	}
	for k, v := range fields {
		t.runs[runID][k] = v
	}
	return nil
}

func (t *memTracker) field(runID, key string) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs[runID][key]
}
