package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/companyreportflow/internal/models"
	"github.com/Lllllllleong/companyreportflow/internal/services"
)

var (
	reportInstance *services.ReportFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleGenerateReport", handleGenerateReport)
}

func main() {}

// handleGenerateReport runs one report. A run that fails critically is
// still answered with 200 and a FAILED status; the failure has already been
// recorded and notified, so the caller must not retry it.
func handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		reportInstance, initErr = services.NewReportFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Report generator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || len(req.SourceFiles) == 0 {
		http.Error(w, "Bad Request: userId and sourceFiles are required", http.StatusBadRequest)
		return
	}

	res, err := reportInstance.Process(r.Context(), &req)
	if err != nil {
		// Already logged, recorded and notified inside Process.
		slog.Info("Run ended with a critical failure", "runId", res.RunID)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "runId", res.RunID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
