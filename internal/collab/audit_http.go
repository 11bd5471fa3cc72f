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
var _ core.AuditForwarder = (*AuditHTTPClient)(nil)

// AuditHTTPClient forwards audit entries to the external audit collaborator,
// which guarantees durable ordered storage.
type AuditHTTPClient struct {
	http *resty.Client
}

// NewAuditHTTPClient constructs a client against baseURL.
func NewAuditHTTPClient(baseURL string, timeout time.Duration) *AuditHTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &AuditHTTPClient{http: client}
}

// Forward posts one audit entry. Callers treat failures as a signal to
// journal locally; the error carries the collaborator attribution.
func (c *AuditHTTPClient) Forward(ctx context.Context, entry core.AuditEntry) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(entry).
		Post("/audit/entries")
	if err != nil {
		return domain.DownstreamError{Collaborator: "audit", Err: err}
	}
	if !resp.IsSuccess() {
		return domain.DownstreamError{
			Collaborator: "audit",
			Err:          fmt.Errorf("audit collaborator returned %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	return nil
}
