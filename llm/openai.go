// ABOUTME: OpenAI-backed Provider using the official openai-go SDK.
// ABOUTME: Text goes through Chat Completions, images through the Images API with base64 payloads.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider against the OpenAI API. A custom base
// URL enables OpenAI-compatible gateways.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider with the given API key. baseURL is
// optional; leave it empty for the default endpoint.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GenerateText sends a chat completion request and returns the first choice.
func (p *OpenAIProvider) GenerateText(ctx context.Context, model string, req TextRequest) (*TextResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	params.Messages = messages

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &TextResponse{Text: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}

// GenerateImage requests a single base64-encoded image and decodes it.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, model string, req ImageRequest) (*ImageResponse, error) {
	params := openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          openai.ImageModel(model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}

	resp, err := p.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation returned no data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}

	return &ImageResponse{Data: data, Model: model}, nil
}
