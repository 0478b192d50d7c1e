package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultElevenLabsURL   = "https://api.elevenlabs.io"
	DefaultVoiceID         = "Xb7hH8MSUJpSbSDYk0k2"
	DefaultModelID         = "eleven_multilingual_v2"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75

	defaultContentType = "audio/mpeg"
	defaultHTTPTimeout = 60 * time.Second
	maxAudioSize       = 16 << 20
)

var ErrEmptyText = errors.New("nothing to synthesize")

// Audio is synthesized speech
type Audio struct {
	ContentType string
	Data        []byte
}

// Synthesizer turns text into speech
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*Audio, error)
}

// HTTPClient http client interface for API calls
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned when the speech API responds with a non-2xx status
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Speech API error: %d", e.StatusCode)
}

type ElevenLabsConfig struct {
	APIKey          string
	BaseURL         string
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
}

type ElevenLabs struct {
	config     ElevenLabsConfig
	httpClient HTTPClient
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func NewElevenLabs(config ElevenLabsConfig, httpClient HTTPClient) (*ElevenLabs, error) {
	if config.APIKey == "" {
		return nil, errors.New("elevenlabs api key is not set")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultElevenLabsURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.VoiceID == "" {
		config.VoiceID = DefaultVoiceID
	}
	if config.ModelID == "" {
		config.ModelID = DefaultModelID
	}
	if config.Stability == 0 {
		config.Stability = DefaultStability
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = DefaultSimilarityBoost
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &ElevenLabs{config: config, httpClient: httpClient}, nil
}

// Synthesize calls the text-to-speech endpoint. An empty voiceID selects the configured voice.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voiceID == "" {
		voiceID = e.config.VoiceID
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s", e.config.BaseURL, url.PathEscape(voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Audio{ContentType: contentType, Data: data}, nil
}
