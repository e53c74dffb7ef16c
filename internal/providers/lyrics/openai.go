package lyrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
)

// Request carries the creative brief a song was ordered with.
type Request struct {
	Title      string
	Brief      string
	MusicStyle string
	Tone       string
}

// Generator produces song lyrics from a creative brief.
type Generator interface {
	GenerateLyrics(ctx context.Context, req Request) (string, error)
}

var (
	ErrNotConfigured = errors.New("lyrics_provider_not_configured")
	ErrEmptyResult   = errors.New("lyrics_empty_result")
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIClient(cfg config.ProviderConfig) Generator {
	return &openAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

const systemPrompt = "You are a professional songwriter. Write complete song lyrics " +
	"with verses and a chorus. Return only the lyrics, no commentary."

func (c *openAIClient) GenerateLyrics(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrNotConfigured
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write lyrics for a song titled %q.\n", req.Title)
	if req.Brief != "" {
		fmt.Fprintf(&prompt, "About: %s\n", req.Brief)
	}
	if req.MusicStyle != "" {
		fmt.Fprintf(&prompt, "Music style: %s\n", req.MusicStyle)
	}
	if req.Tone != "" {
		fmt.Fprintf(&prompt, "Tone: %s\n", req.Tone)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
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

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", errors.New(parsed.Error.Message)
		}
		return "", fmt.Errorf("lyrics_request_failed: status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResult
	}
	lyrics := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if lyrics == "" {
		return "", ErrEmptyResult
	}
	return lyrics, nil
}
