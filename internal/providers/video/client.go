package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
)

type Request struct {
	Title     string
	AudioURL  string
	ImageURLs []string
}

type Result struct {
	VideoURL string
}

// Generator composes a video for a finished audio track, typically a
// slideshow over the customer's uploaded photos.
type Generator interface {
	GenerateVideo(ctx context.Context, req Request) (*Result, error)
}

var (
	ErrNotConfigured    = errors.New("video_provider_not_configured")
	ErrGenerationFailed = errors.New("video_generation_failed")
)

const pollInterval = 10 * time.Second

type renderRequest struct {
	Title     string   `json:"title"`
	AudioURL  string   `json:"audio_url"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

type renderResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

type jobResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error,omitempty"`
}

type client struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewClient(cfg config.ProviderConfig) Generator {
	return &client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) GenerateVideo(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if req.AudioURL == "" {
		return nil, ErrGenerationFailed
	}

	jobID, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		job, err := c.job(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case "complete":
			if job.VideoURL == "" {
				return nil, ErrGenerationFailed
			}
			return &Result{VideoURL: job.VideoURL}, nil
		case "failed", "error":
			if job.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, job.Error)
			}
			return nil, ErrGenerationFailed
		}
	}
}

func (c *client) submit(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(renderRequest{
		Title:     req.Title,
		AudioURL:  req.AudioURL,
		ImageURLs: req.ImageURLs,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/renders", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest || parsed.JobID == "" {
		if parsed.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrGenerationFailed, parsed.Error)
		}
		return "", fmt.Errorf("%w: submit status %d", ErrGenerationFailed, resp.StatusCode)
	}
	return parsed.JobID, nil
}

func (c *client) job(ctx context.Context, jobID string) (*jobResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/renders/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: status %d", ErrGenerationFailed, resp.StatusCode)
	}
	var parsed jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}
