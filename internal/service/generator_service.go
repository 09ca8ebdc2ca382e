package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type GenerationRequest struct {
	Prompt   string `json:"prompt"`
	Variants int    `json:"variants"`
	Tone     string `json:"tone,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type GenerationResult struct {
	Variants []string `json:"variants"`
}

// Generator produces post drafts. The number of variants returned may differ
// from the number requested.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

type httpGenerator struct {
	endpoint string
	client   *http.Client
}

func NewGenerator(endpoint string, client *http.Client) Generator {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &httpGenerator{endpoint: endpoint, client: client}
}

func (g *httpGenerator) Generate(ctx context.Context, greq GenerationRequest) (*GenerationResult, error) {
	body, err := json.Marshal(greq)
	if err != nil {
		return nil, fmt.Errorf("error marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("generator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("generator returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return &result, nil
}
