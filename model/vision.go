package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const visionSystemPrompt = `You are a scientific vision assistant.

Describe the figure in detail:
- Identify trends (increase/decrease/comparison)
- Mention axes, bars, curves if present
- Explain what the figure conveys scientifically
- Do NOT guess values
- Be factual and concise`

const visionUserPrompt = "Analyze this figure."

// VisionModel turns an image reachable at a URL into a textual description.
type VisionModel interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

// OpenAIVision uses an OpenAI-compatible chat completions endpoint with an
// image_url content part (Groq, OpenAI, vLLM).
type OpenAIVision struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIVision(baseURL, apiKey, model string, timeout time.Duration) *OpenAIVision {
	return &OpenAIVision{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  NewHTTPClient(timeout),
	}
}

type visionContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type visionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (v *OpenAIVision) Describe(ctx context.Context, imageURL string) (string, error) {
	// Hosted models cannot reach local files, so those are inlined as data URIs.
	if strings.HasPrefix(imageURL, "file://") {
		data, mime, err := loadImage(ctx, v.client, imageURL)
		if err != nil {
			return "", err
		}
		imageURL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	body, err := json.Marshal(visionRequest{
		Model: v.model,
		Messages: []visionMessage{
			{Role: "system", Content: visionSystemPrompt},
			{Role: "user", Content: []visionContentPart{
				{Type: "text", Text: visionUserPrompt},
				{Type: "image_url", ImageURL: &visionImageURL{URL: imageURL}},
			}},
		},
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", StatusError("vision", resp)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("vision: empty choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// LLaVA describes images with a LLaVA-family model served by Ollama.
type LLaVA struct {
	URL         string
	Model       string
	MaxAttempts int
	client      *http.Client
}

type LLaVARequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Options map[string]any `json:"options,omitempty"`
}

type LLaVAResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewLLaVA(apiURL, model string, timeout time.Duration) *LLaVA {
	return &LLaVA{
		URL:         strings.TrimRight(apiURL, "/"),
		Model:       model,
		MaxAttempts: 3,
		client:      NewHTTPClient(timeout),
	}
}

// Describe retries transient failures with a linearly growing pause.
func (l *LLaVA) Describe(ctx context.Context, imageURL string) (string, error) {
	img, _, err := loadImage(ctx, l.client, imageURL)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(img)

	attempts := max(l.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := l.describe(ctx, encoded)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*300*time.Millisecond); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("vision retry failed after %d attempts: %w", attempts, lastErr)
}

func (l *LLaVA) describe(ctx context.Context, encoded string) (string, error) {
	reqBody, err := json.Marshal(LLaVARequest{
		Model:   l.Model,
		System:  visionSystemPrompt,
		Prompt:  visionUserPrompt,
		Images:  []string{encoded},
		Options: map[string]any{"temperature": 0, "num_predict": 400},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", StatusError("llava", resp)
	}

	decoder := json.NewDecoder(resp.Body)
	var b strings.Builder
	for {
		var llavaResp LLaVAResponse
		if err := decoder.Decode(&llavaResp); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}

		b.WriteString(llavaResp.Response)
		if llavaResp.Done {
			break
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("llava: empty description")
	}
	return text, nil
}

// loadImage resolves file://, data: and http(s) URLs to raw bytes and a MIME type.
func loadImage(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(rawURL, "data:"):
		meta, payload, ok := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, "", errors.New("unsupported data url")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		return data, strings.TrimSuffix(meta, ";base64"), nil

	case strings.HasPrefix(rawURL, "file://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, "", fmt.Errorf("parse image url: %w", err)
		}
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		return data, http.DetectContentType(data), nil

	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", StatusError("image fetch", resp)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		return data, mime, nil
	}
}
