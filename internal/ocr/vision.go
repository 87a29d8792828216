package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
)

const visionSystemPrompt = "You are transcribing a cropped region of a scanned exam paper. " +
	"Return the exact text visible in the image, preserving option markers like (a), (b), (c). " +
	"Return only the transcription, no commentary. If the image contains no readable text, return an empty string."

// VisionEngine is the deep-learning primary engine: an OpenAI-compatible
// vision chat endpoint asked to transcribe the region image.
type VisionEngine struct {
	http       *http.Client
	apiKey     string
	model      string
	endpoint   string
	confidence float64
}

// VisionOptions configures the vision engine.
type VisionOptions struct {
	Model      string
	Endpoint   string
	APIKey     string
	Confidence float64 // reported confidence; the chat API exposes none
}

// NewVisionEngine builds the engine; the API key defaults to OPENAI_API_KEY.
func NewVisionEngine(opts VisionOptions) *VisionEngine {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	if opts.Confidence <= 0 || opts.Confidence > 1 {
		opts.Confidence = 0.92
	}
	return &VisionEngine{
		http:       &http.Client{},
		apiKey:     opts.APIKey,
		model:      opts.Model,
		endpoint:   opts.Endpoint,
		confidence: opts.Confidence,
	}
}

func (e *VisionEngine) Name() string    { return "vision" }
func (e *VisionEngine) Available() bool { return e.apiKey != "" }

type visionMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type visionChatReq struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type visionChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Recognize submits the region image and returns the transcription.
func (e *VisionEngine) Recognize(ctx context.Context, png []byte) (Result, error) {
	if e.apiKey == "" {
		return Result{}, ErrUnavailable
	}

	imageURL := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(png))
	payload := visionChatReq{
		Model: e.model,
		Messages: []visionMessage{
			{Role: "system", Content: []map[string]any{{"type": "text", "text": visionSystemPrompt}}},
			{Role: "user", Content: []map[string]any{
				{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
				{"type": "text", "text": "Transcribe this exam question region."},
			}},
		},
		Temperature: 0,
		MaxTokens:   2048,
	}

	body, _ := json.Marshal(payload)
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &HTTPError{StatusCode: resp.StatusCode, Engine: e.Name()}
	}

	var r visionChatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Result{}, err
	}
	if len(r.Choices) == 0 {
		return Result{}, errors.New("no choices")
	}
	return Result{Text: r.Choices[0].Message.Content, Confidence: e.confidence}, nil
}
