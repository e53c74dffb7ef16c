package audio

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
	Title  string
	Lyrics string
	Style  string
}

type Result struct {
	AudioURL string
	Duration float64
}

// Generator renders an audio track from finished lyrics. Implementations
// block until the track is ready or ctx expires.
type Generator interface {
	GenerateAudio(ctx context.Context, req Request) (*Result, error)
}

var (
	ErrNotConfigured    = errors.New("audio_provider_not_configured")
	ErrGenerationFailed = errors.New("audio_generation_failed")
)

const pollInterval = 5 * time.Second

type generateRequest struct {
	Prompt string `json:"prompt"`
	Title  string `json:"title"`
	Tags   string `json:"tags,omitempty"`
	Model  string `json:"mv"`
}

type generateResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Status   string  `json:"status"`
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
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

// GenerateAudio submits the render and polls until the provider reports a
// terminal status. The caller bounds the wait through ctx.
func (c *client) GenerateAudio(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}

	taskID, err := c.submit(ctx, req)
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

		status, err := c.status(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "complete":
			if status.AudioURL == "" {
				return nil, ErrGenerationFailed
			}
			return &Result{AudioURL: status.AudioURL, Duration: status.Duration}, nil
		case "failed", "error":
			if status.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, status.Error)
			}
			return nil, ErrGenerationFailed
		}
	}
}

func (c *client) submit(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Prompt: req.Lyrics,
		Title:  req.Title,
		Tags:   req.Style,
		Model:  c.cfg.Model,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/generate", bytes.NewReader(payload))
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

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest || parsed.TaskID == "" {
		if parsed.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrGenerationFailed, parsed.Error)
		}
		return "", fmt.Errorf("%w: submit status %d", ErrGenerationFailed, resp.StatusCode)
	}
	return parsed.TaskID, nil
}

func (c *client) status(ctx context.Context, taskID string) (*statusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v1/status/"+taskID, nil)
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
	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}
