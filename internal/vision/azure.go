package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

// azureBackend calls an Azure OpenAI deployment.
type azureBackend struct {
	client     *azopenai.Client
	deployment string
	logger     *slog.Logger
}

func newAzure(cfg Config) (*azureBackend, error) {
	if cfg.AzureEndpoint == "" || cfg.AzureAPIKey == "" || cfg.AzureDeployment == "" {
		return nil, errors.New("azure vision provider needs AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_DEPLOYMENT")
	}

	client, err := azopenai.NewClientWithKeyCredential(cfg.AzureEndpoint, azcore.NewKeyCredential(cfg.AzureAPIKey), nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure OpenAI client: %w", err)
	}
	return &azureBackend{
		client:     client,
		deployment: cfg.AzureDeployment,
		logger:     cfg.Logger.With("component", "vision", "provider", "azure"),
	}, nil
}

// azureOptions converts a request into chat completion options.
func azureOptions(deployment string, parts []Part, req Request) azopenai.ChatCompletionsOptions {
	content := make([]azopenai.ChatCompletionRequestMessageContentPartClassification, 0, len(parts))
	for _, p := range parts {
		if p.ImageURL != "" {
			content = append(content, &azopenai.ChatCompletionRequestMessageContentPartImage{
				ImageURL: &azopenai.ChatCompletionRequestMessageContentPartImageURL{URL: to.Ptr(p.ImageURL)},
			})
		} else {
			content = append(content, &azopenai.ChatCompletionRequestMessageContentPartText{Text: to.Ptr(p.Text)})
		}
	}

	return azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(deployment),
		Messages: []azopenai.ChatRequestMessageClassification{
			&azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(content),
			},
		},
		MaxTokens:   to.Ptr(int32(req.MaxTokens)),
		Temperature: to.Ptr(float32(req.Temperature)),
	}
}

func (b *azureBackend) Describe(ctx context.Context, req Request) (string, error) {
	parts, err := buildParts(req.Images, req.Question)
	if err != nil {
		return "", err
	}

	resp, err := b.client.GetChatCompletions(ctx, azureOptions(b.deployment, parts, req), nil)
	if err != nil {
		return "", fmt.Errorf("azure vision request: %w", err)
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		if u := resp.Usage; u != nil && u.PromptTokens != nil && u.CompletionTokens != nil {
			b.logger.Debug("images analyzed",
				"images", len(req.Images),
				"input_tokens", *u.PromptTokens,
				"output_tokens", *u.CompletionTokens,
			)
		}
		return *resp.Choices[0].Message.Content, nil
	}
	return "", errors.New("no completion received from Azure OpenAI")
}
