// Package artifacts stores section and report content produced by a run.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/companyreportflow/internal/gcp"
)

type Kind string

const (
	InitialSection  Kind = "initial-section"
	RefinedSection  Kind = "refined-section"
	FactCritique    Kind = "fact-critique"
	InsightCritique Kind = "insight-critique"
	InitialReport   Kind = "initial-report"
	RefinedReport   Kind = "refined-report"
)

// IsReport reports whether k is a whole-report kind.
func (k Kind) IsReport() bool {
	return k == InitialReport || k == RefinedReport
}

type Artifact struct {
	RunID         string
	SectionNumber int
	Kind          Kind
	Content       string
	SubjectName   string
	UserID        string
}

// ObjectName is the storage path of an artifact:
// runs/<runId>/<kind>/section-NN.html or runs/<runId>/<kind>/report.html.
func (a Artifact) ObjectName() string {
	if a.Kind.IsReport() {
		return fmt.Sprintf("runs/%s/%s/report.html", a.RunID, a.Kind)
	}
	return fmt.Sprintf("runs/%s/%s/section-%02d.html", a.RunID, a.Kind, a.SectionNumber)
}

// Store saves artifacts and returns an opaque location reference.
type Store interface {
	Save(ctx context.Context, a Artifact) (string, error)
}

// GCSStore writes artifacts to a bucket. Existing objects are kept, so a
// retried run never overwrites what an earlier attempt produced.
type GCSStore struct {
	Bucket     *storage.BucketHandle
	BucketName string
}

func (s *GCSStore) Save(ctx context.Context, a Artifact) (string, error) {
	name := a.ObjectName()
	if err := gcp.SaveToGCSAtomically(ctx, s.Bucket, name, "text/html; charset=utf-8", []byte(a.Content)); err != nil {
		return "", err
	}
	return gcp.ObjectURI(s.BucketName, name), nil
}

// DirStore writes artifacts below a local directory.
type DirStore struct {
	Root string
}

func (s *DirStore) Save(_ context.Context, a Artifact) (string, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(a.ObjectName()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// MemoryStore keeps artifacts in memory, keyed by object name.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Artifact
	Err   error
}

func (s *MemoryStore) Save(_ context.Context, a Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if s.items == nil {
		s.items = make(map[string]Artifact)
	}
	name := a.ObjectName()
	s.items[name] = a
	return "mem://" + name, nil
}

func (s *MemoryStore) Get(name string) (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[name]
	return a, ok
}

// Names lists stored object names in sorted order.
func (s *MemoryStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.items))
	for n := range s.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
