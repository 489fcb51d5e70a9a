package gcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// metadataBaseURL is the GCE metadata server root. A package variable so
// tests can point it at a local server.
var metadataBaseURL = "http://metadata.google.internal/computeMetadata/v1"

// IsRunningOnGCP reports whether the GCE metadata server is reachable. The
// timeout is short so local runs do not stall at startup.
func IsRunningOnGCP() bool {
	client := &http.Client{Timeout: 200 * time.Millisecond}
	req, err := http.NewRequest(http.MethodGet, metadataBaseURL+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// metadataField fetches one field from the metadata server, relative to the
// metadata root, e.g. "project/project-id" or "instance/name".
func metadataField(ctx context.Context, field string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataBaseURL+"/"+field, nil)
	if err != nil {
		return "", fmt.Errorf("create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch metadata field %s: %w", field, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d for field %s", resp.StatusCode, field)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read metadata response: %w", err)
	}

	value := strings.TrimSpace(string(body))
	if value == "" {
		return "", fmt.Errorf("empty value for metadata field %s", field)
	}
	return value, nil
}
