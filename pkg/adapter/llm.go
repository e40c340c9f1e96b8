package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// Generator produces a single completion for a system/user prompt pair.
// Implementations return the raw model text without post-processing.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Embedder converts texts into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, order-preserving. The call
	// is all-or-nothing: on failure no vectors are returned.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the output dimensionality every vector will have.
	Dimension() int
}

// IsTransient reports whether an LLM API error is worth retrying: rate
// limits and server-side failures. Malformed requests, auth failures and
// token limit errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code == http.StatusTooManyRequests || genaiErr.Code >= 500
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode == http.StatusTooManyRequests || openaiErr.StatusCode >= 500
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode == http.StatusTooManyRequests || anthropicErr.StatusCode >= 500
	}

	return false
}
