package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// httpTransport posts JSON and retries transport failures and 5xx replies
// with exponential backoff. Quota and client errors are never retried.
type httpTransport struct {
	provider   string
	httpClient *http.Client
	newBackoff func() backoff.BackOff
	logger     *zap.Logger
}

func newHTTPTransport(provider string, timeout time.Duration, logger *zap.Logger) *httpTransport {
	return &httpTransport{
		provider:   provider,
		httpClient: &http.Client{Timeout: timeout},
		newBackoff: defaultBackoff,
		logger:     logger,
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// post sends payload and returns the open response of the first 2xx reply.
// The caller closes the body.
func (t *httpTransport) post(ctx context.Context, url string, headers map[string]string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var resp *http.Response
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		r, err := t.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			t.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		defer r.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBody))
		pe := classify(t.provider, r.StatusCode, fmt.Errorf("%s", errorMessage(respBody)))
		if r.StatusCode >= 500 && pe.Kind != KindQuota {
			t.logger.Warn("LLM provider returned a server error, retrying...", zap.Int("status", r.StatusCode))
			return pe
		}
		return backoff.Permanent(pe)
	}

	if err := backoff.Retry(operation, backoff.WithContext(t.newBackoff(), ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(t.provider, 0, err)
	}
	return resp, nil
}

// errorMessage pulls a readable message out of an error body. Providers
// use {"error":{"message":...}} or {"error":"..."}.
func errorMessage(body []byte) string {
	var wrapped struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		switch e := wrapped.Error.(type) {
		case string:
			return e
		case map[string]interface{}:
			if msg, ok := e["message"].(string); ok {
				if status, ok := e["status"].(string); ok && status != "" {
					return status + ": " + msg
				}
				return msg
			}
		}
	}
	if len(body) == 0 {
		return "empty error response"
	}
	return string(body)
}
