package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultOpenAIURL   = "https://api.openai.com"
	DefaultOpenAIModel = "gpt-4o-mini"

	defaultTemperature = 0.7
	defaultMaxTokens   = 300
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodySize   = 4 << 10
)

const systemPrompt = "You are a helpful educational robot assistant for children ages 7-12. " +
	"Provide accurate but simple explanations about STEM topics. " +
	"Keep responses concise (under 150 words) and engaging. " +
	"Use analogies and examples children can relate to. " +
	"For math questions, explain the process step by step."

var ErrEmptyAnswer = errors.New("answer API returned no choices")

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAI answers through the chat completions API
type OpenAI struct {
	config     OpenAIConfig
	httpClient HTTPClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func NewOpenAI(config OpenAIConfig, httpClient HTTPClient) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &OpenAI{
		config:     config,
		httpClient: httpClient,
	}, nil
}

func (o *OpenAI) Answer(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: question},
		},
		Temperature: o.config.Temperature,
		MaxTokens:   o.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	reqURL := o.config.BaseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		log.Debugf("answer API responded %d: %s", resp.StatusCode, b)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode answer: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return cr.Choices[0].Message.Content, nil
}
