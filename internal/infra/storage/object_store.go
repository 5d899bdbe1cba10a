package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ObjectStoreInterface holds consent signatures and payment proofs.
// Put returns the public URL of the stored object.
type ObjectStoreInterface interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// HTTPStore is a thin client over an S3-compatible HTTP endpoint.
type HTTPStore struct {
	baseURL    string
	publicURL  string
	httpClient *http.Client
}

var _ ObjectStoreInterface = (*HTTPStore)(nil)

func NewHTTPStore(baseURL, publicURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicURL:  strings.TrimRight(publicURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/"+key, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("object store returned status %d", resp.StatusCode)
	}
	return s.publicURL + "/" + key, nil
}

func (s *HTTPStore) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/"+key, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("object store returned status %d", resp.StatusCode)
	}
	return nil
}
