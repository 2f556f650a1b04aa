package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/companyreportflow/internal/services"
)

var (
	triggerInstance *services.RunTriggerFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("TriggerReportRun", triggerReportRun)
}

func main() {}

// triggerReportRun receives storage finalize events for the upload bucket.
func triggerReportRun(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		triggerInstance, initErr = services.NewRunTrigger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return triggerInstance.Process(ctx, gcsEvent)
}
