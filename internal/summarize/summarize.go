// Package summarize turns a thread transcript into a short summary using
// the Gemini API.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/yymmt/bbs-test/internal/store"
)

// Reserved author of summary posts.
const (
	AIUserUUID = "ai-assistant-0000-0000-0000-00000000"
	AIUserName = "AI"
)

// TranscriptLimit is how many recent posts feed one summary.
const TranscriptLimit = 10

// Fallback is posted when the provider answers without any text.
const Fallback = "Summary unavailable."

// UnknownAuthor names posts whose author never registered.
const UnknownAuthor = "Unknown"

const instruction = "Summarize the following chat log."

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("summarizer not configured")

type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// BuildPrompt renders lines oldest first as "name: body", one per line,
// under a fixed instruction. Unnamed authors appear as UnknownAuthor.
func BuildPrompt(lines []store.TranscriptLine) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	for _, line := range lines {
		name := line.Name
		if name == "" {
			name = UnknownAuthor
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(line.Body)
		b.WriteString("\n")
	}
	return b.String()
}

// Gemini summarizes through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// Option adjusts the client configuration.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at another endpoint, such as a local test
// server.
func WithBaseURL(url string) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPClient = client
	}
}

func NewGemini(ctx context.Context, apiKey, model string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: strings.TrimPrefix(model, "models/")}, nil
}

// Summarize returns the first candidate's text, or Fallback when the
// response carries none.
func (g *Gemini) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return firstText(resp), nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return Fallback
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil {
		return Fallback
	}
	text := strings.TrimSpace(content.Parts[0].Text)
	if text == "" {
		return Fallback
	}
	return text
}
