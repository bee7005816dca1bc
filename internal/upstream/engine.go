package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/oriys/pulsar/internal/operation"
)

// EngineClient drives the workflow engine. It implements operation.Engine.
type EngineClient struct {
	baseURL string
	client  *http.Client
}

// NewEngineClient creates a workflow engine client with a bounded per-call
// timeout.
func NewEngineClient(baseURL string, timeout time.Duration) *EngineClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EngineClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func engineErr(err error) error {
	switch {
	case timedOut(err):
		return operation.ErrEngineTimeout
	case statusOf(err) >= 500:
		return operation.ErrEngineUnavailable
	case statusOf(err) != 0:
		return err
	default:
		return operation.ErrEngineUnavailable
	}
}

// Initiate starts an operation on the engine and returns its initial record.
func (c *EngineClient) Initiate(ctx context.Context, opType string, payload json.RawMessage) (*operation.Record, error) {
	start := time.Now()

	var rec operation.Record
	err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/v1/operations",
		nil, map[string]any{"type": opType, "payload": payload}, &rec)
	record("engine", start, err)

	if err != nil {
		return nil, engineErr(err)
	}
	return &rec, nil
}

// Status fetches the current record for one operation.
func (c *EngineClient) Status(ctx context.Context, operationID string) (*operation.Record, error) {
	start := time.Now()

	var rec operation.Record
	err := doJSON(ctx, c.client, http.MethodGet,
		c.baseURL+"/v1/operations/"+url.PathEscape(operationID), nil, nil, &rec)
	record("engine", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, operation.ErrNotFound
		}
		return nil, engineErr(err)
	}
	return &rec, nil
}

// Cancel asks the engine to stop an operation. Cancelling an operation the
// engine has already finished is reported as not found.
func (c *EngineClient) Cancel(ctx context.Context, operationID string) error {
	start := time.Now()

	err := doJSON(ctx, c.client, http.MethodPost,
		c.baseURL+"/v1/operations/"+url.PathEscape(operationID)+"/cancel", nil, nil, nil)
	record("engine", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return operation.ErrNotFound
		}
		return engineErr(err)
	}
	return nil
}
