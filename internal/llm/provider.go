package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ProviderConfig struct {
	Name        string
	BaseURL     string // chat/completions-compatible endpoint root
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// HTTPProvider speaks the chat/completions wire format. Both the primary and
// the fallback provider are instances of this with different configs.
type HTTPProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

func NewHTTPProvider(cfg ProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

func (p *HTTPProvider) Complete(ctx context.Context, system, user string) ([]byte, error) {
	body := map[string]any{
		"model":           p.cfg.Model,
		"temperature":     p.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s: non-2xx status %d", p.cfg.Name, resp.StatusCode)
	}

	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.cfg.Name, err)
	}
	if len(envelope.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", p.cfg.Name)
	}

	return []byte(strings.TrimSpace(envelope.Choices[0].Message.Content)), nil
}
