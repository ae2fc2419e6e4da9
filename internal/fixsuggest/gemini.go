package fixsuggest

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

type GeminiSuggester struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiSuggester(ctx context.Context, apiKey, modelName string) (*GeminiSuggester, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	if modelName == "" {
		modelName = DefaultModel
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &GeminiSuggester{client: client, model: model}, nil
}

func (g *GeminiSuggester) Suggest(ctx context.Context, req Request) (*Suggestion, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		return nil, fmt.Errorf("generating fix: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}

	suggestion, err := parseResponse(text)
	if err != nil {
		return nil, err
	}
	suggestion.OriginalCode = req.CodeSnippet
	return suggestion, nil
}

func (g *GeminiSuggester) Close() error {
	return g.client.Close()
}
