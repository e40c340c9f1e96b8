package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mneme/pkg/adapter"
)

func setupGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGeminiGenerate(t *testing.T) {
	client := setupGemini(t)
	ctx := context.Background()

	resp, err := client.Generate(ctx,
		"Answer with a JSON object of the form {\"answer\": \"...\"}.",
		"What is the capital of France?")
	gt.NoError(t, err)
	gt.NotEqual(t, resp, "")
	t.Log("response:", resp)
}

func TestGeminiEmbed(t *testing.T) {
	client := setupGemini(t)
	ctx := context.Background()

	vectors, err := client.Embed(ctx, []string{"lives in Paris", "works as a teacher"})
	gt.NoError(t, err)
	gt.A(t, vectors).Length(2)
	gt.A(t, vectors[0]).Length(client.Dimension())
	gt.A(t, vectors[1]).Length(client.Dimension())
}

func TestGeminiEmbedEmpty(t *testing.T) {
	client := setupGemini(t)

	vectors, err := client.Embed(context.Background(), nil)
	gt.NoError(t, err)
	gt.A(t, vectors).Length(0)
}
