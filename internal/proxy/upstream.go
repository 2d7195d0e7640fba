package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alecgard/indexgate/internal/registry"
	"github.com/alecgard/indexgate/internal/user"
)

const retrievePath = "/api/v1/retrievers/retrieve"

// retrievalRequest is the body of a single-pipeline retrieval call.
type retrievalRequest struct {
	Mode      string     `json:"mode"`
	Query     string     `json:"query"`
	Pipelines []pipeline `json:"pipelines"`
}

type pipeline struct {
	Name                      string          `json:"name"`
	Description               string          `json:"description"`
	PipelineID                string          `json:"pipeline_id"`
	PresetRetrievalParameters json.RawMessage `json:"preset_retrieval_parameters,omitempty"`
}

func newRetrievalRequest(d registry.Descriptor, query string) retrievalRequest {
	return retrievalRequest{
		Mode:  "full",
		Query: query,
		Pipelines: []pipeline{{
			Name:                      d.Name,
			Description:               d.Description,
			PipelineID:                d.IndexID,
			PresetRetrievalParameters: d.Preset,
		}},
	}
}

// retrieveURL keeps project_id ahead of organization_id in the query string.
func retrieveURL(baseURL string, creds *user.Credentials) string {
	return strings.TrimRight(baseURL, "/") + retrievePath +
		"?project_id=" + url.QueryEscape(creds.ProjectID) +
		"&organization_id=" + url.QueryEscape(creds.OrganizationID)
}

func (i *Invoker) newUpstreamRequest(ctx context.Context, creds *user.Credentials, d registry.Descriptor, query string) (*http.Request, error) {
	body, err := json.Marshal(newRetrievalRequest(d, query))
	if err != nil {
		return nil, fmt.Errorf("encoding retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, retrieveURL(i.baseURL, creds), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}
