package aiparse

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used for parsing and schema inference.
const DefaultModel = "gemini-2.0-flash"

// Client wraps the generative-AI API as a parsing oracle: free text or a
// receipt image in, structured transaction fields out.
type Client struct {
	model string
	log   zerolog.Logger

	// generate is swapped out in tests.
	generate func(ctx context.Context, prompt string, blob *genai.Blob) (string, error)
}

// NewClient builds a Client backed by the real Gemini API.
func NewClient(ctx context.Context, apiKey, model string, log zerolog.Logger) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("aiparse: create genai client: %w", err)
	}

	c := &Client{
		model: model,
		log:   log.With().Str("component", "aiparse").Logger(),
	}
	c.generate = func(ctx context.Context, prompt string, blob *genai.Blob) (string, error) {
		parts := []*genai.Part{{Text: prompt}}
		if blob != nil {
			parts = append(parts, &genai.Part{InlineData: blob})
		}
		contents := []*genai.Content{{Role: "user", Parts: parts}}

		resp, err := genaiClient.Models.GenerateContent(ctx, c.model, contents, nil)
		if err != nil {
			return "", fmt.Errorf("aiparse: generate content: %w", err)
		}
		text := resp.Text()
		if text == "" {
			return "", fmt.Errorf("aiparse: empty response from model")
		}
		return text, nil
	}
	return c, nil
}

// cleanModelJSON strips Markdown fences and surrounding prose the model
// sometimes emits despite instructions, keeping only the outermost JSON
// array or object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.IndexAny(s, "[{"); start != -1 {
		closer := byte(']')
		if s[start] == '{' {
			closer = '}'
		}
		if end := strings.LastIndexByte(s, closer); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
