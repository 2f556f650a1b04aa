package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/companyreportflow/internal/config"
	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/gcp"
)

var ErrMissingCredential = errors.New("model credential is missing")

// ModelResolver returns the model for a run. credential is the per-run
// credential from the request and may be empty.
type ModelResolver func(credential string) (gateway.Model, error)

// NewModelResolver builds the resolver for the configured provider. The
// returned close function releases provider clients.
func NewModelResolver(ctx context.Context, cfg *config.Config) (ModelResolver, func() error, error) {
	switch cfg.ModelProvider {
	case config.ProviderVertex:
		vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.Region, cfg.ModelName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		m := gateway.NewVertexModel(cfg.ModelName, vertexClient.ReportModel)
		return func(string) (gateway.Model, error) { return m, nil }, vertexClient.Close, nil

	case config.ProviderOpenAI:
		resolve := func(credential string) (gateway.Model, error) {
			key := strings.TrimSpace(credential)
			if key == "" {
				key = cfg.OpenAIAPIKey
			}
			if key == "" {
				return nil, ErrMissingCredential
			}
			return gateway.NewOpenAIModel(cfg.ModelName, key, cfg.OpenAIBaseURL), nil
		}
		return resolve, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
}
