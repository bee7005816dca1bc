// Package upstream implements the HTTP clients for the platform's external
// collaborators: the Identity Authority, the Tenant Authority and the
// workflow engine. Each client carries a bounded timeout and maps transport
// failures onto its consumer package's sentinels, keeping timeouts distinct
// from hard unavailability so callers can decide on retry.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
)

// DefaultTimeout bounds every upstream call unless configured otherwise.
const DefaultTimeout = 10 * time.Second

// statusError carries a non-2xx upstream response for sentinel mapping.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

// doJSON performs one JSON request against an upstream, decoding a 2xx
// response body into dest (when dest is non-nil). Non-2xx responses return
// a *statusError; transport failures return the raw error for the caller
// to classify.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	spanCtx, span := observability.StartSpan(ctx, method+" "+req.URL.Path)
	defer span.End()
	req = req.WithContext(spanCtx)
	observability.InjectHTTP(spanCtx, req)

	resp, err := client.Do(req)
	if err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{status: resp.StatusCode, body: string(data)}
		observability.SetSpanError(span, serr)
		return serr
	}

	if dest == nil {
		observability.SetSpanOK(span)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	observability.SetSpanOK(span)
	return nil
}

// timedOut reports whether err is a deadline expiry rather than a hard
// transport failure.
func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusOf extracts the HTTP status from an upstream error, or 0 for
// transport failures.
func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// record instruments one upstream call.
func record(target string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case timedOut(err):
		outcome = "timeout"
	case statusOf(err) != 0:
		outcome = fmt.Sprintf("http_%d", statusOf(err))
	default:
		outcome = "unavailable"
	}
	metrics.RecordAuthorityCall(target, outcome, time.Since(start))
}
