package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
)

// Uploader copies generated artifacts from the AI providers' short-lived URLs
// into durable object storage and returns the public URL.
type Uploader interface {
	Store(ctx context.Context, key string, contentType string, body io.Reader) (string, error)
	FetchAndStore(ctx context.Context, key string, srcURL string) (string, error)
}

var (
	ErrNotConfigured = errors.New("storage_not_configured")
	ErrUploadFailed  = errors.New("storage_upload_failed")
)

// ObjectKey builds a stable, URL-safe object key for a song artifact.
func ObjectKey(orderID snowflake.ID, title string, ext string) string {
	name := slug.Make(title)
	if name == "" {
		name = "song"
	}
	return path.Join(orderID.String(), name+ext)
}

type client struct {
	cfg    config.StorageConfig
	client *http.Client
}

func NewClient(cfg config.StorageConfig) Uploader {
	return &client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *client) Store(ctx context.Context, key string, contentType string, body io.Reader) (string, error) {
	if strings.TrimSpace(c.cfg.Endpoint) == "" {
		return "", ErrNotConfigured
	}

	target := fmt.Sprintf("%s/object/%s/%s", c.cfg.Endpoint, c.cfg.Bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("x-upsert", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}

	return fmt.Sprintf("%s/object/public/%s/%s", c.cfg.Endpoint, c.cfg.Bucket, key), nil
}

// FetchAndStore streams the artifact from the provider URL into the bucket
// without buffering it in memory.
func (c *client) FetchAndStore(ctx context.Context, key string, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: fetch status %d", ErrUploadFailed, resp.StatusCode)
	}
	return c.Store(ctx, key, resp.Header.Get("Content-Type"), resp.Body)
}
