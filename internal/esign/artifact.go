package esign

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DocumentFetcher retrieves the signed document for a completed envelope
// from the e-signature provider.
type DocumentFetcher interface {
	FetchSignedDocument(ctx context.Context, envelopeID string) ([]byte, error)
}

// ArtifactStore persists fetched documents and returns a stable reference
// that can be recorded on the task.
type ArtifactStore interface {
	SaveDocument(envelopeID string, data []byte) (string, error)
}

// ProviderClient fetches signed documents over the provider's REST API.
type ProviderClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewProviderClient(baseURL, token string) *ProviderClient {
	return &ProviderClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchSignedDocument downloads the combined signed document for an
// envelope. Network failures and 5xx responses are transient; any 4xx
// is permanent.
func (c *ProviderClient) FetchSignedDocument(ctx context.Context, envelopeID string) ([]byte, error) {
	url := c.baseURL + "/envelopes/" + envelopeID + "/documents/combined"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request (esign): %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("fetch document (esign): %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch document (esign): status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, Transient(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read document (esign): %w", err))
	}
	return body, nil
}

// FileArtifactStore writes signed documents under a local directory and
// returns file:// references.
type FileArtifactStore struct {
	dir string
}

func NewFileArtifactStore(dir string) *FileArtifactStore {
	return &FileArtifactStore{dir: dir}
}

func (s *FileArtifactStore) SaveDocument(envelopeID string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(s.dir, envelopeID+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return "file://" + path, nil
}
