package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/companyreportflow/internal/gcp"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

var (
	ErrUploadTooLarge = errors.New("total upload size exceeds the limit")
	ErrNoDocuments    = errors.New("no valid source documents")
)

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"html": "text/html",
	"htm":  "text/html",
}

// SourceReader gives access to uploaded source files.
type SourceReader interface {
	Size(ctx context.Context, name string) (int64, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// GCSSourceReader reads gs:// URIs.
type GCSSourceReader struct {
	Client *storage.Client
}

func (r *GCSSourceReader) Size(ctx context.Context, uri string) (int64, error) {
	bucket, object, err := gcp.ParseObjectURI(uri)
	if err != nil {
		return 0, err
	}
	attrs, err := r.Client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", uri, err)
	}
	return attrs.Size, nil
}

func (r *GCSSourceReader) Read(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := gcp.ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	reader, err := r.Client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", uri, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

// LocalSourceReader reads files from the local filesystem.
type LocalSourceReader struct{}

func (LocalSourceReader) Size(_ context.Context, name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", name)
	}
	return info.Size(), nil
}

func (LocalSourceReader) Read(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(name)
}

type IngestOptions struct {
	AllowedExtensions []string
	MaxTotalBytes     int64
}

// Ingest turns source files into document parts. Files with a disallowed
// extension, empty files and unreadable files are skipped with a warning.
// The size ceiling applies to the files that pass the filters and is checked
// before any file is read.
func Ingest(ctx context.Context, reader SourceReader, names []string, opts IngestOptions) ([]models.DocumentPart, error) {
	allowed := make(map[string]bool, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	type candidate struct {
		name string
		ext  string
	}
	var candidates []candidate
	var total int64
	for _, name := range names {
		ext := extensionOf(name)
		if !allowed[ext] {
			slog.Warn("Skipping source file with disallowed type", "file", name)
			continue
		}
		size, err := reader.Size(ctx, name)
		if err != nil {
			slog.Warn("Skipping unreadable source file", "file", name, "error", err)
			continue
		}
		if size == 0 {
			slog.Warn("Skipping empty source file", "file", name)
			continue
		}
		total += size
		candidates = append(candidates, candidate{name: name, ext: ext})
	}
	if opts.MaxTotalBytes > 0 && total > opts.MaxTotalBytes {
		return nil, fmt.Errorf("%w: %d bytes uploaded, limit is %d bytes", ErrUploadTooLarge, total, opts.MaxTotalBytes)
	}

	var parts []models.DocumentPart
	for _, c := range candidates {
		data, err := reader.Read(ctx, c.name)
		if err != nil {
			slog.Warn("Skipping unreadable source file", "file", c.name, "error", err)
			continue
		}
		if len(data) == 0 {
			slog.Warn("Skipping empty source file", "file", c.name)
			continue
		}
		if c.ext == "pdf" {
			pages, err := pdfPageCount(data)
			if err != nil {
				slog.Warn("Skipping invalid PDF", "file", c.name, "error", err)
				continue
			}
			slog.Info("Validated PDF", "file", c.name, "pageCount", pages)
		}
		parts = append(parts, models.DocumentPart{
			Name:     baseName(c.name),
			MIMEType: mimeTypes[c.ext],
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	if len(parts) == 0 {
		return nil, ErrNoDocuments
	}
	return parts, nil
}

func pdfPageCount(data []byte) (pages int, err error) {
	// pdfcpu can panic on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("unreadable pdf: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err = api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, err
	}
	if pages < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func baseName(name string) string {
	if strings.HasPrefix(name, "gs://") {
		return path.Base(name)
	}
	return filepath.Base(name)
}
