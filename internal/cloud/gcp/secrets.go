package gcp

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretFetcher is the secret access surface the CLI depends on.
type SecretFetcher interface {
	FetchSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

// SecretManagerClient fetches secrets from GCP Secret Manager. Bare secret
// names are resolved against the ambient project ID.
type SecretManagerClient struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerClient builds the client and resolves the project ID from
// the environment or, on GCE, the metadata server.
func NewSecretManagerClient(ctx context.Context, opts ...option.ClientOption) (*SecretManagerClient, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}

	projectID, err := resolveProjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve project ID: %w", err)
	}

	return &SecretManagerClient{client: client, projectID: projectID}, nil
}

// resolveProjectID checks the usual environment variables before asking the
// metadata server, so local runs with GOOGLE_CLOUD_PROJECT set never touch
// the network.
func resolveProjectID(ctx context.Context) (string, error) {
	for _, env := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if projectID := os.Getenv(env); projectID != "" {
			return projectID, nil
		}
	}
	return metadataField(ctx, "project/project-id")
}

// FetchSecret retrieves one secret value. Accepted path forms:
//
//	projects/P/secrets/NAME/versions/V
//	projects/P/secrets/NAME          (latest version)
//	NAME                             (ambient project, latest version)
func (c *SecretManagerClient) FetchSecret(ctx context.Context, secretPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: c.normalizeSecretPath(secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("access secret version: %w", err)
	}
	return string(result.Payload.Data), nil
}

// normalizeSecretPath expands shorthand paths to the full versioned form.
func (c *SecretManagerClient) normalizeSecretPath(secretPath string) string {
	if strings.HasPrefix(secretPath, "projects/") {
		if strings.Contains(secretPath, "/versions/") {
			return secretPath
		}
		if strings.Contains(secretPath, "/secrets/") {
			return secretPath + "/versions/latest"
		}
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.projectID, path.Base(secretPath))
}

// Close releases the underlying gRPC client.
func (c *SecretManagerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
