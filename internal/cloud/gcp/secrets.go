// Package gcp integrates the gateway with Google Cloud. Deployments that
// cannot keep a master key on local disk can hold it in Secret Manager
// instead and point the secrets config at it.
package gcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"

	"github.com/andywolf/agentgate/internal/secrets"
)

// KeyFetcher fetches the master key material for the secret store.
type KeyFetcher interface {
	FetchMasterKey(ctx context.Context, secretPath string) ([]byte, error)
	Close() error
}

// SecretManagerKeySource fetches the master key from GCP Secret Manager.
// The secret payload holds the 32-byte key hex-encoded, the same encoding
// the local key file uses.
type SecretManagerKeySource struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerKeySource builds a key source against Secret Manager,
// resolving the project ID from the environment or the metadata server.
func NewSecretManagerKeySource(ctx context.Context, opts ...option.ClientOption) (*SecretManagerKeySource, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	projectID, err := resolveProjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project ID: %w", err)
	}

	return &SecretManagerKeySource{client: client, projectID: projectID}, nil
}

// FetchMasterKey retrieves and decodes the master key. secretPath accepts:
//   - projects/PROJECT_ID/secrets/SECRET_NAME/versions/VERSION
//   - projects/PROJECT_ID/secrets/SECRET_NAME (defaults to latest)
//   - SECRET_NAME (project ID from environment)
func (s *SecretManagerKeySource) FetchMasterKey(ctx context.Context, secretPath string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.normalizeSecretPath(secretPath),
	}
	result, err := s.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to access secret version: %w", err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(result.Payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("master key secret is not valid hex: %w", err)
	}
	if len(key) != secrets.KeySize {
		return nil, fmt.Errorf("master key secret holds %d bytes, want %d", len(key), secrets.KeySize)
	}
	return key, nil
}

// normalizeSecretPath expands short-form secret references to the full
// resource name with a version.
func (s *SecretManagerKeySource) normalizeSecretPath(secretPath string) string {
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/versions/") {
		return secretPath
	}
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/secrets/") {
		return secretPath + "/versions/latest"
	}
	secretName := path.Base(secretPath)
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, secretName)
}

// Close closes the underlying Secret Manager client.
func (s *SecretManagerKeySource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// resolveProjectID finds the GCP project ID from environment variables,
// falling back to the metadata server on GCP runtimes.
func resolveProjectID(ctx context.Context) (string, error) {
	for _, env := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if projectID := os.Getenv(env); projectID != "" {
			return projectID, nil
		}
	}
	return projectIDFromMetadata(ctx)
}

func projectIDFromMetadata(ctx context.Context) (string, error) {
	const metadataURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

	req, err := http.NewRequestWithContext(ctx, "GET", metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch project ID from metadata server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}

	projectID := strings.TrimSpace(string(body))
	if projectID == "" {
		return "", fmt.Errorf("empty project ID from metadata server")
	}
	return projectID, nil
}
