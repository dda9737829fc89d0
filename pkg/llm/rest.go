package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxErrorBody = 64 * 1024

// postJSON sends a JSON body and returns the open response. Non-2xx responses
// are drained, closed and turned into an error carrying the vendor message.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: vendorErrorMessage(raw)}
	}
	return resp, nil
}

// StatusError is a non-2xx HTTP response from a REST vendor.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// vendorErrorMessage extracts a readable message from an error payload.
// Both {"error":{"message":...}} and {"error":"..."} shapes occur.
func vendorErrorMessage(raw []byte) string {
	if gjson.ValidBytes(raw) {
		if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() {
			return msg.String()
		}
		if msg := gjson.GetBytes(raw, "error"); msg.Type == gjson.String {
			return msg.String()
		}
	}
	return strings.TrimSpace(string(raw))
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
