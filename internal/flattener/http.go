package flattener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxArtifactBytes = 256 << 20

// HTTPFlattener posts the request as JSON to {BaseURL}/flatten and treats
// the response body as the artifact.
type HTTPFlattener struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPFlattener(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPFlattener {
	return &HTTPFlattener{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "flattener"),
	}
}

func (h *HTTPFlattener) Flatten(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, Fatal(fmt.Errorf("encode flatten request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/flatten", bytes.NewReader(body))
	if err != nil {
		return nil, Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.CopyID)

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, Transient(fmt.Errorf("read flatten response: %w", err))
	}

	h.logger.DebugContext(ctx, "Flattener responded",
		"copy_id", req.CopyID,
		"status_code", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(data) == 0 {
			return nil, Fatal(errors.New("flattener returned an empty artifact"))
		}
		if len(data) > maxArtifactBytes {
			return nil, Fatal(fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes))
		}
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("flattener returned %d: %s", resp.StatusCode, snippet(data)))
	default:
		return nil, Fatal(fmt.Errorf("flattener returned %d: %s", resp.StatusCode, snippet(data)))
	}
}

func classifyTransportError(err error) error {
	// The caller gave up; retrying on its behalf is pointless.
	if errors.Is(err, context.Canceled) {
		return Fatal(err)
	}
	// Timeouts, refused and reset connections.
	return Transient(err)
}

func snippet(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
