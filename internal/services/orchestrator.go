package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/companyreportflow/internal/markup"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

// DefaultMaxWorkers keeps concurrent model calls under typical rate limits.
const DefaultMaxWorkers = 3

// SectionTask produces the result for one section.
type SectionTask func(ctx context.Context, def models.SectionDefinition) models.SectionResult

// StageOptions hooks into a stage run. All callbacks run on the collecting
// goroutine, one at a time, in completion order.
type StageOptions struct {
	// PassThrough returns a ready result for a section that must not be
	// submitted, such as one that already failed upstream.
	PassThrough func(def models.SectionDefinition) (models.SectionResult, bool)
	OnResult    func(res models.SectionResult)
	OnProgress  func(completed, total, percent int)
}

// RunStage runs task for every definition on a pool of at most maxWorkers
// goroutines and returns one result per section number. A task that panics
// yields an error result for its section; the others are unaffected.
func RunStage(ctx context.Context, defs []models.SectionDefinition, task SectionTask, maxWorkers int, opts StageOptions) map[int]models.SectionResult {
	total := len(defs)
	results := make(map[int]models.SectionResult, total)
	if total == 0 {
		return results
	}
	if maxWorkers < 1 {
		maxWorkers = DefaultMaxWorkers
	}

	completed := 0
	collect := func(res models.SectionResult) {
		results[res.SectionNumber] = res
		completed++
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(completed, total, completed*100/total)
		}
	}

	var pending []models.SectionDefinition
	for _, def := range defs {
		if opts.PassThrough != nil {
			if res, ok := opts.PassThrough(def); ok {
				res.SectionNumber = def.Number
				collect(res)
				continue
			}
		}
		pending = append(pending, def)
	}

	out := make(chan models.SectionResult, len(pending))
	go func() {
		var eg errgroup.Group
		eg.SetLimit(maxWorkers)
		for _, def := range pending {
			eg.Go(func() error {
				out <- runTask(ctx, def, task)
				return nil
			})
		}
		_ = eg.Wait()
		close(out)
	}()

	for res := range out {
		collect(res)
	}
	return results
}

func runTask(ctx context.Context, def models.SectionDefinition, task SectionTask) (res models.SectionResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Section task panicked", "section", def.Number, "panic", r, "stack", string(debug.Stack()))
			res = models.SectionResult{
				SectionNumber: def.Number,
				Content:       markup.ErrorPlaceholder(sectionOf(def), fmt.Sprintf("Unexpected error: %v", r)),
				IsError:       true,
			}
		}
	}()
	res = task(ctx, def)
	res.SectionNumber = def.Number
	return res
}
