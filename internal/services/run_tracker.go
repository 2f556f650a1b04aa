package services

import (
	"context"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/companyreportflow/internal/gcp"
)

// RunTracker updates the persisted run record.
type RunTracker interface {
	Update(ctx context.Context, runID string, fields map[string]interface{}) error
}

type FirestoreRunTracker struct {
	Client     *firestore.Client
	Collection string
}

func (t *FirestoreRunTracker) Update(ctx context.Context, runID string, fields map[string]interface{}) error {
	return gcp.MergeFields(ctx, t.Client.Collection(t.Collection).Doc(runID), fields)
}

// NoopRunTracker discards updates.
type NoopRunTracker struct{}

func (NoopRunTracker) Update(context.Context, string, map[string]interface{}) error { return nil }
