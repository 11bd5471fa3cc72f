// Package collab implements clients for the external collaborators the
// lifecycle engine consumes: workflow/approval, audit, and identity.
package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"batchcore/internal/core"
	"batchcore/pkg/domain"
)

// Compile-time contract assertion.
var _ core.WorkflowClient = (*WorkflowHTTPClient)(nil)

// WorkflowHTTPClient submits release-workflow requests to the external
// approval collaborator over HTTP.
type WorkflowHTTPClient struct {
	http *resty.Client
}

// NewWorkflowHTTPClient constructs a client against baseURL.
func NewWorkflowHTTPClient(baseURL string, timeout time.Duration) *WorkflowHTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &WorkflowHTTPClient{http: client}
}

// Submit posts the workflow request. A transport failure or non-2xx response
// yields a DownstreamError.
func (c *WorkflowHTTPClient) Submit(ctx context.Context, req core.WorkflowRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/workflow/requests")
	if err != nil {
		return domain.DownstreamError{Collaborator: "workflow", Err: err}
	}
	if !resp.IsSuccess() {
		return domain.DownstreamError{
			Collaborator: "workflow",
			Err:          fmt.Errorf("workflow collaborator returned %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	return nil
}
